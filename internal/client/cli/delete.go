package cli

import (
	"context"
	"fmt"
)

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: delete <name>")
		return errUsage
	}
	name := args[0]

	ok, err := Confirm(a.scanner, fmt.Sprintf("Delete %s?", name), a.out)
	if err != nil || !ok {
		return err
	}

	ctx, cancel := a.requestContext(ctx)
	defer cancel()

	if err := a.client.Delete(ctx, name); err != nil {
		return a.report(err)
	}
	fmt.Fprintf(a.out, "Deleted %s\n", name)
	return nil
}

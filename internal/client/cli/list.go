package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
)

func (a *App) List(ctx context.Context) error {
	ctx, cancel := a.requestContext(ctx)
	defer cancel()

	entries, err := a.client.List(ctx)
	if err != nil {
		return a.report(err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No files")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t  %s\t\n", formatSize(e.Size), e.Name)
	}
	return tw.Flush()
}

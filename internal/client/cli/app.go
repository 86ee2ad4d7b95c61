package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/fileshare/internal/client/client"
	"github.com/dmitrijs2005/fileshare/internal/client/config"
	"golang.org/x/term"
)

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

type App struct {
	config   *config.Config
	client   *client.Client
	scanner  *bufio.Scanner
	out      io.Writer
	progress bool
}

// NewApp connects to the configured server. Commands are read from in and
// results written to out; transfer progress is shown only when out is a
// terminal.
func NewApp(ctx context.Context, c *config.Config, in io.Reader, out io.Writer) (*App, error) {
	opts := client.DefaultOptions()
	opts.ChunkSize = c.ChunkSize
	opts.DialTimeout = c.DialTimeout

	cl, err := client.Dial(ctx, c.ServerAddr, opts)
	if err != nil {
		return nil, err
	}
	return newApp(c, cl, in, out), nil
}

func newApp(c *config.Config, cl *client.Client, in io.Reader, out io.Writer) *App {
	a := &App{config: c, client: cl, scanner: bufio.NewScanner(in), out: out}
	if f, ok := out.(*os.File); ok {
		a.progress = isTerminal(int(f.Fd()))
	}
	return a
}

// Run starts the REPL and closes the connection when it returns.
func (a *App) Run(ctx context.Context) error {
	fmt.Fprintf(a.out, "Connected to %s (type 'help' for commands)\n", a.client.RemoteAddr())
	runREPL(ctx, a, a.status, a.scanner)
	return a.client.Close()
}

func (a *App) status() string {
	return a.config.ServerAddr
}

func (a *App) connected() bool {
	return a.client.Err() == nil
}

// requestContext applies the per-request timeout, if any.
func (a *App) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, a.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (a *App) report(err error) error {
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
	}
	return err
}

func formatSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

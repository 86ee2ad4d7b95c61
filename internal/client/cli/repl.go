package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	connected() bool
	List(ctx context.Context) error
	Upload(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  (l)ist                     list files on the server
  (u)pload <path> [name]     upload a local file
  (d)ownload <name> [path]   download a file
  delete <name>              delete a file
  help                       show this help
  exit | quit                leave the program`

// runREPL reads commands from scanner and dispatches them to a until EOF,
// "exit" or "quit". Handlers report their own errors; the loop only stops
// early when the connection became unusable.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("fs %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "l", "list", "ls":
			_ = a.List(ctx)

		case "u", "upload", "put":
			_ = a.Upload(ctx, args)

		case "d", "download", "get":
			_ = a.Download(ctx, args)

		case "delete", "rm":
			_ = a.Delete(ctx, args)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if !a.connected() {
			printlnFn("Connection lost, exiting")
			return
		}
	}
}

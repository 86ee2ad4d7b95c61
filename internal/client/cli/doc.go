// Package cli provides the interactive fileshare command-line client.
//
// It wires configuration and a protocol client to a small REPL:
//
//	list                        list files on the server
//	upload <path> [name]        upload a local file
//	download <name> [path]      download a file into the download directory
//	delete <name>               delete a file (asks for confirmation)
//	help, exit | quit
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli

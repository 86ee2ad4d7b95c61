package config

import (
	"flag"

	"github.com/dmitrijs2005/fileshare/internal/flagx"
)

var clientFlags = []string{"-a", "-o", "-t", "-r", "-k"}

// parseFlags populates Config fields from command-line flags. Unrelated
// flags are filtered out before parsing.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, clientFlags)

	fs := flag.NewFlagSet("cli", flag.ContinueOnError)

	fs.StringVar(&config.ServerAddr, "a", config.ServerAddr, "address and port of the server")
	fs.StringVar(&config.DownloadDir, "o", config.DownloadDir, "download directory")
	fs.DurationVar(&config.DialTimeout, "t", config.DialTimeout, "dial timeout")
	fs.DurationVar(&config.RequestTimeout, "r", config.RequestTimeout, "request timeout (0 disables)")
	fs.IntVar(&config.ChunkSize, "k", config.ChunkSize, "upload chunk size (bytes)")

	return fs.Parse(args)
}

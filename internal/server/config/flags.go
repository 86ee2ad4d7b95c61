package config

import (
	"flag"

	"github.com/dmitrijs2005/fileshare/internal/flagx"
)

// serverFlags lists the short flags handled by parseFlags.
var serverFlags = []string{"-a", "-x", "-s", "-r", "-d", "-u", "-p", "-b", "-g", "-e", "-m", "-n", "-i", "-t", "-w", "-l", "-f", "-o", "-k"}

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     listen address (e.g., ":9999")
//	-x string     gRPC health address (empty disables)
//	-s string     storage kind: fs, s3, postgres
//	-r string     storage root directory (fs)
//	-d string     PostgreSQL DSN
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-o string     S3 upload spool directory
//	-k int        postgres content row size, bytes
//	-m int        max frame payload, bytes
//	-n int        max file name length, bytes
//	-i int        download chunk size, bytes
//	-t duration   idle timeout (e.g., "5m")
//	-w duration   shutdown grace period
//	-l string     log level
//	-f string     log format: json, text
//
// The args are first filtered with flagx.FilterArgs so the -c/-config flag
// and flags of other layers do not abort parsing.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, serverFlags)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to run server")
	fs.StringVar(&config.HealthAddr, "x", config.HealthAddr, "gRPC health endpoint address")
	fs.StringVar(&config.StorageKind, "s", config.StorageKind, "storage kind (fs, s3, postgres)")
	fs.StringVar(&config.StorageRoot, "r", config.StorageRoot, "storage root directory")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3SpoolDir, "o", config.S3SpoolDir, "S3 upload spool directory")
	fs.IntVar(&config.DBChunkSize, "k", config.DBChunkSize, "postgres content row size (bytes)")

	fs.Int64Var(&config.MaxPayloadBytes, "m", config.MaxPayloadBytes, "max frame payload (bytes)")
	fs.IntVar(&config.MaxNameLength, "n", config.MaxNameLength, "max file name length (bytes)")
	fs.IntVar(&config.ChunkSize, "i", config.ChunkSize, "download chunk size (bytes)")
	fs.DurationVar(&config.IdleTimeout, "t", config.IdleTimeout, "session idle timeout")
	fs.DurationVar(&config.ShutdownGrace, "w", config.ShutdownGrace, "shutdown grace period")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format (json, text)")

	return fs.Parse(args)
}

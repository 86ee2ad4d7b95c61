// Package config loads runtime configuration for the fileshare CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c/-config or FILESHARE_CONFIG.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string     address:port of the file-sharing server
//	-o string     directory downloads are written to
//	-t duration   dial timeout
//	-r duration   per-request timeout (0 disables)
//	-k int        upload chunk size, bytes
//
// # JSON schema
//
//	{
//	  "server_addr": "127.0.0.1:9999",
//	  "download_dir": "./downloads",
//	  "dial_timeout": "5s",
//	  "request_timeout": "0s",
//	  "chunk_size": 65536
//	}
package config

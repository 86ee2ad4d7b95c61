package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fileshare/internal/flagx"
	"github.com/dmitrijs2005/fileshare/internal/timex"
)

// JsonConfig mirrors Config for JSON files; absent keys keep their defaults.
type JsonConfig struct {
	ServerAddr     *string         `json:"server_addr"`
	DownloadDir    *string         `json:"download_dir"`
	DialTimeout    *timex.Duration `json:"dial_timeout"`
	RequestTimeout *timex.Duration `json:"request_timeout"`
	ChunkSize      *int            `json:"chunk_size"`
}

func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if c.ServerAddr != nil {
		config.ServerAddr = *c.ServerAddr
	}
	if c.DownloadDir != nil {
		config.DownloadDir = *c.DownloadDir
	}
	if c.DialTimeout != nil {
		config.DialTimeout = c.DialTimeout.Duration
	}
	if c.RequestTimeout != nil {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.ChunkSize != nil {
		config.ChunkSize = *c.ChunkSize
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fileshare/internal/protocol"
)

// Config holds runtime settings for the fileshare CLI.
type Config struct {
	ServerAddr     string
	DownloadDir    string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	ChunkSize      int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:9999"
	c.DownloadDir = "."
	c.DialTimeout = 5 * time.Second
	c.RequestTimeout = 0
	c.ChunkSize = protocol.DefaultChunkSize
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags. Later sources take precedence.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ServerAddr == "" {
		errs = append(errs, errors.New("server address is required"))
	}
	if c.DownloadDir == "" {
		errs = append(errs, errors.New("download directory is required"))
	}
	if c.DialTimeout < 0 || c.RequestTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.ChunkSize <= 0 || int64(c.ChunkSize) > protocol.DefaultMaxPayload {
		errs = append(errs, fmt.Errorf("chunk size must be in (0, %d]", protocol.DefaultMaxPayload))
	}
	return errors.Join(errs...)
}

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fileshare/internal/flagx"
	"github.com/dmitrijs2005/fileshare/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// Every field is optional: only keys present in the file override the
// defaults. Intervals use timex.Duration, which accepts both strings such as
// "30s" and integer nanoseconds.
type JsonConfig struct {
	ListenAddr      *string         `json:"listen_addr"`
	HealthAddr      *string         `json:"health_addr"`
	StorageKind     *string         `json:"storage_kind"`
	StorageRoot     *string         `json:"storage_root"`
	DatabaseDSN     *string         `json:"database_dsn"`
	S3RootUser      *string         `json:"s3_root_user"`
	S3RootPassword  *string         `json:"s3_root_password"`
	S3Bucket        *string         `json:"s3_bucket"`
	S3Region        *string         `json:"s3_region"`
	S3BaseEndpoint  *string         `json:"s3_base_endpoint"`
	S3Prefix        *string         `json:"s3_prefix"`
	S3SpoolDir      *string         `json:"s3_spool_dir"`
	DBChunkSize     *int            `json:"db_chunk_size"`
	MaxPayloadBytes *int64          `json:"max_payload_bytes"`
	MaxNameLength   *int            `json:"max_name_length"`
	ChunkSize       *int            `json:"chunk_size"`
	IdleTimeout     *timex.Duration `json:"idle_timeout"`
	ShutdownGrace   *timex.Duration `json:"shutdown_grace"`
	LogLevel        *string         `json:"log_level"`
	LogFormat       *string         `json:"log_format"`
}

// parseJson overlays values from the JSON file named by -c/-config (or the
// FILESHARE_CONFIG environment variable). Without a path nothing is loaded.
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

	set(&config.ListenAddr, c.ListenAddr)
	set(&config.HealthAddr, c.HealthAddr)
	set(&config.StorageKind, c.StorageKind)
	set(&config.StorageRoot, c.StorageRoot)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.S3RootUser, c.S3RootUser)
	set(&config.S3RootPassword, c.S3RootPassword)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.S3Prefix, c.S3Prefix)
	set(&config.S3SpoolDir, c.S3SpoolDir)
	set(&config.DBChunkSize, c.DBChunkSize)
	set(&config.MaxPayloadBytes, c.MaxPayloadBytes)
	set(&config.MaxNameLength, c.MaxNameLength)
	set(&config.ChunkSize, c.ChunkSize)
	set(&config.LogLevel, c.LogLevel)
	set(&config.LogFormat, c.LogFormat)
	if c.IdleTimeout != nil {
		config.IdleTimeout = c.IdleTimeout.Duration
	}
	if c.ShutdownGrace != nil {
		config.ShutdownGrace = c.ShutdownGrace.Duration
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

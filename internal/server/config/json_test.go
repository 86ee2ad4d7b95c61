package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_Overlay(t *testing.T) {
	t.Setenv("FILESHARE_CONFIG", "")
	path := writeTempJSON(t, map[string]any{
		"listen_addr":       "0.0.0.0:7000",
		"storage_kind":      "postgres",
		"database_dsn":      "postgres://db/files",
		"s3_prefix":         "shared/",
		"s3_spool_dir":      "/var/spool/fs",
		"db_chunk_size":     4096,
		"max_payload_bytes": 2048,
		"idle_timeout":      "90s",
		"shutdown_grace":    3000000000,
	})

	var c Config
	c.LoadDefaults()
	require.NoError(t, parseJson(&c, []string{"-config", path}))

	assert.Equal(t, "0.0.0.0:7000", c.ListenAddr)
	assert.Equal(t, StoragePostgres, c.StorageKind)
	assert.Equal(t, "postgres://db/files", c.DatabaseDSN)
	assert.Equal(t, "shared/", c.S3Prefix)
	assert.Equal(t, "/var/spool/fs", c.S3SpoolDir)
	assert.Equal(t, 4096, c.DBChunkSize)
	assert.Equal(t, int64(2048), c.MaxPayloadBytes)
	assert.Equal(t, 90*time.Second, c.IdleTimeout)
	assert.Equal(t, 3*time.Second, c.ShutdownGrace)

	// keys absent from the file keep their defaults
	assert.Equal(t, "./shared", c.StorageRoot)
	assert.Equal(t, 255, c.MaxNameLength)
}

func Test_parseJson_ZeroIdleTimeoutDisables(t *testing.T) {
	path := writeTempJSON(t, map[string]any{"idle_timeout": 0})

	var c Config
	c.LoadDefaults()
	require.NoError(t, parseJson(&c, []string{"-c", path}))
	assert.Zero(t, c.IdleTimeout)
}

func Test_parseJson_FromEnvironment(t *testing.T) {
	path := writeTempJSON(t, map[string]any{"log_level": "warn"})
	t.Setenv("FILESHARE_CONFIG", path)

	var c Config
	c.LoadDefaults()
	require.NoError(t, parseJson(&c, nil))
	assert.Equal(t, "warn", c.LogLevel)
}

func Test_parseJson_Errors(t *testing.T) {
	t.Setenv("FILESHARE_CONFIG", "")

	var c Config
	c.LoadDefaults()
	err := parseJson(&c, []string{"-c", filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	assert.Error(t, parseJson(&c, []string{"-c", bad}))

	wrongType := writeTempJSON(t, map[string]any{"idle_timeout": true})
	assert.Error(t, parseJson(&c, []string{"-c", wrongType}))
}

func TestLoadConfig_FlagsOverrideJSON(t *testing.T) {
	t.Setenv("FILESHARE_CONFIG", "")
	path := writeTempJSON(t, map[string]any{"listen_addr": ":7000", "log_format": "text"})

	c, err := LoadConfig([]string{"-c", path, "-a", ":8000"})
	require.NoError(t, err)
	assert.Equal(t, ":8000", c.ListenAddr)
	assert.Equal(t, "text", c.LogFormat)
}

func TestLoadConfig_InvalidResult(t *testing.T) {
	t.Setenv("FILESHARE_CONFIG", "")
	_, err := LoadConfig([]string{"-s", "ftp"})
	assert.ErrorContains(t, err, "unknown storage kind")
}

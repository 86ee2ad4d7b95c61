package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/fileshare/internal/flagx"
	"github.com/dmitrijs2005/fileshare/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:9999", c.ServerAddr)
	assert.Equal(t, ".", c.DownloadDir)
	assert.Equal(t, 5*time.Second, c.DialTimeout)
	assert.Zero(t, c.RequestTimeout)
	assert.Equal(t, protocol.DefaultChunkSize, c.ChunkSize)
}

func TestLoadConfig_Precedence(t *testing.T) {
	t.Setenv(flagx.ConfigEnv, "")
	path := filepath.Join(t.TempDir(), "cli.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server_addr": "10.0.0.1:7000",
		"download_dir": "/tmp/dl",
		"dial_timeout": "2s",
		"chunk_size": 1024
	}`), 0o600))

	cfg, err := LoadConfig([]string{"-c", path, "-a", "10.0.0.2:7001", "-r", "30s"})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2:7001", cfg.ServerAddr)
	assert.Equal(t, "/tmp/dl", cfg.DownloadDir)
	assert.Equal(t, 2*time.Second, cfg.DialTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 1024, cfg.ChunkSize)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv(flagx.ConfigEnv, "")

	tests := []struct {
		name string
		args []string
	}{
		{"bad duration", []string{"-t", "soon"}},
		{"missing file", []string{"-c", filepath.Join(t.TempDir(), "nope.json")}},
		{"zero chunk", []string{"-k", "0"}},
		{"empty address", []string{"-a", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(tt.args)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestParseJson_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server_addr": `), 0o600))

	var c Config
	c.LoadDefaults()
	err := parseJson(&c, []string{"-config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestParseFlags_IgnoresForeignFlags(t *testing.T) {
	var c Config
	c.LoadDefaults()
	require.NoError(t, parseFlags(&c, []string{"-z", "1", "-o", "out", "-c", "x.json"}))
	assert.Equal(t, "out", c.DownloadDir)
}

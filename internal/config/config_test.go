package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/searchsync/internal/errors"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, DeliveryLocal, cfg.Delivery.Mode)
	assert.False(t, cfg.Delivery.BlockEvents)
	assert.Equal(t, BackendNative, cfg.Backend.Kind)
	assert.True(t, cfg.Backend.IsLocal())
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "", cfg.Index.Prefix)
	assert.Equal(t, "127.0.0.1:9300", cfg.Node.Listen)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "searchsync.yaml")
	writeFile(t, path, `
delivery:
  mode: queued
backend:
  kind: native
  hosts: ["10.0.0.1:9300", "10.0.0.2:9301"]
  timeout: 3s
index:
  prefix: test_
native:
  index.number_of_shards: "1"
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, cfg.Delivery.Mode)
	assert.False(t, cfg.Backend.IsLocal())
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "test_", cfg.Index.Prefix)
	assert.Equal(t, "1", cfg.Native["index.number_of_shards"])
	// untouched keys keep defaults
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "searchsync.yaml")
	writeFile(t, path, "delivery:\n  mode: queued\n")
	t.Setenv("SEARCHSYNC_DELIVERY_MODE", "CUSTOM")
	t.Setenv("SEARCHSYNC_CUSTOM_HANDLER", "nats")
	t.Setenv("SEARCHSYNC_INDEX_PREFIX", "env_")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, DeliveryCustom, cfg.Delivery.Mode)
	assert.Equal(t, "nats", cfg.Delivery.CustomHandler)
	assert.Equal(t, "env_", cfg.Index.Prefix)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := Load("/nonexistent/searchsync.yaml")

	assert.True(t, serrors.HasCode(err, serrors.ErrCodeConfigNotFound))
}

func TestValidate(t *testing.T) {
	local := false
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"unknown delivery mode", func(c *Config) { c.Delivery.Mode = "jms" }, serrors.ErrCodeConfigInvalid},
		{"remote native without hosts", func(c *Config) { c.Backend.Local = &local }, serrors.ErrCodeNoHosts},
		{"host without port", func(c *Config) { c.Backend.Hosts = []string{"localhost"} }, serrors.ErrCodeInvalidHost},
		{"host with two colons", func(c *Config) { c.Backend.Hosts = []string{"a:1:2"} }, serrors.ErrCodeInvalidHost},
		{"non-numeric port", func(c *Config) { c.Backend.Hosts = []string{"a:x"} }, serrors.ErrCodeInvalidHost},
		{"rest without urls", func(c *Config) { c.Backend.Kind = BackendREST }, serrors.ErrCodeNoHosts},
		{"rest bad url", func(c *Config) {
			c.Backend.Kind = BackendREST
			c.Backend.URLs = []string{"ftp://x"}
		}, serrors.ErrCodeInvalidHost},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "thrift" }, serrors.ErrCodeConfigInvalid},
		{"zero timeout", func(c *Config) { c.Backend.Timeout = 0 }, serrors.ErrCodeConfigInvalid},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, serrors.ErrCodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Equal(t, tt.code, serrors.GetCode(err))
		})
	}
}

func TestParseHosts(t *testing.T) {
	eps, err := ParseHosts([]string{"127.0.0.1:9300", " node2:9301 "})

	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "127.0.0.1:9300", eps[0].String())
	assert.Equal(t, Endpoint{Host: "node2", Port: 9301}, eps[1])
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	dir := isolate(t)
	cfg := NewConfig()
	cfg.Delivery.Mode = DeliveryQueued
	cfg.Backend.Timeout = 2 * time.Second
	path := filepath.Join(dir, "out.yaml")

	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, loaded.Delivery.Mode)
	assert.Equal(t, 2*time.Second, loaded.Backend.Timeout)
}

func TestStaticSource(t *testing.T) {
	a, b := NewConfig(), NewConfig()
	b.Delivery.Mode = DeliveryQueued
	src := NewStaticSource(a)

	assert.Same(t, a, src.Current())
	src.Set(b)
	assert.Same(t, b, src.Current())
}

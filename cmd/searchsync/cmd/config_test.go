package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/searchsync/configs"
	"github.com/Aman-CERP/searchsync/internal/config"
)

func TestConfigInit_WritesTemplate(t *testing.T) {
	cfgPath := testEnv(t)
	target := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := run(t, cfgPath, "config", "init", "--path", target)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Created configuration")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, configs.UserConfigTemplate, string(data))

	// The template itself is a valid configuration.
	_, err = config.LoadFile(target)
	assert.NoError(t, err)
}

func TestConfigInit_KeepsExistingWithoutForce(t *testing.T) {
	cfgPath := testEnv(t)
	target := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(target, []byte("index:\n  prefix: mine_\n"), 0o644))

	out, err := run(t, cfgPath, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, _ := os.ReadFile(target)
	assert.Contains(t, string(data), "mine_")

	out, err = run(t, cfgPath, "config", "init", "--path", target, "--force")
	require.NoError(t, err, out)
	data, _ = os.ReadFile(target)
	assert.Equal(t, configs.UserConfigTemplate, string(data))
	backup, err := os.ReadFile(target + ".bak")
	require.NoError(t, err)
	assert.Contains(t, string(backup), "mine_")
}

func TestConfigInit_DefaultsToUserConfigPath(t *testing.T) {
	cfgPath := testEnv(t)

	_, err := run(t, cfgPath, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, config.GetUserConfigPath())
}

func TestConfigShow_PrintsEffectiveConfig(t *testing.T) {
	cfgPath := testEnv(t)

	out, err := run(t, cfgPath, "config", "show")
	require.NoError(t, err, out)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg), out)
	assert.Equal(t, "test_", cfg.Index.Prefix)
	assert.Equal(t, config.BackendNative, cfg.Backend.Kind)

	out, err = run(t, cfgPath, "config", "show", "--defaults")
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Empty(t, cfg.Index.Prefix)
}

func TestConfigPath(t *testing.T) {
	cfgPath := testEnv(t)

	out, err := run(t, cfgPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, config.GetUserConfigPath()+"\n", out)
}

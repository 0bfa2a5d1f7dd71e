package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
)

// ============================================================================
// Config CLI Tests
// ============================================================================

func TestConfigCmd_HasSubcommands(t *testing.T) {
	configCmd, _, err := NewRootCmd().Find([]string{"config"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, sc := range configCmd.Commands() {
		names[sc.Name()] = true
	}
	for _, want := range []string{"init", "show", "validate", "restore"} {
		assert.True(t, names[want], "missing config %s", want)
	}
}

func TestConfigInit_WritesLoadableProjectConfig(t *testing.T) {
	// Given: an empty project dir
	dir := isolate(t)

	// When: running config init
	out, err := run(t, "--config", dir, "config", "init")

	// Then: .zep.yaml exists and loads
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	cfg, err := config.LoadFile(filepath.Join(dir, ".zep.yaml"))
	require.NoError(t, err)
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, config.StatusEnabled, cfg.Backends[0].Status)
}

func TestConfigInit_RefusesToOverwriteWithoutForce(t *testing.T) {
	// Given: an existing project config
	dir := isolate(t)
	writeProjectConfig(t, dir, "logging:\n  level: debug\n")

	// When: running config init without --force
	out, err := run(t, "--config", dir, "config", "init")

	// Then: the file is untouched
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(filepath.Join(dir, ".zep.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "logging:\n  level: debug\n", string(data))
}

func TestConfigInitForce_ThenRestore(t *testing.T) {
	// Given: an existing project config
	dir := isolate(t)
	path := filepath.Join(dir, ".zep.yaml")
	writeProjectConfig(t, dir, "logging:\n  level: debug\n")

	// When: overwriting it with --force
	out, err := run(t, "--config", dir, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up to")

	// Then: a backup exists and the file holds the defaults
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	// When: restoring
	out, err = run(t, "--config", dir, "config", "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored")

	// Then: the original content is back
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "logging:\n  level: debug\n", string(data))
}

func TestConfigRestore_NoBackups(t *testing.T) {
	dir := isolate(t)

	_, err := run(t, "--config", dir, "config", "restore")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backups")
}

func TestConfigRestore_UnknownBackupName(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, ".zep.yaml")
	writeProjectConfig(t, dir, "version: 1\n")
	_, err := config.BackupFile(path)
	require.NoError(t, err)

	_, err = run(t, "--config", dir, "config", "restore", "nope.bak")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backup named")
}

func TestConfigShow_JSONReflectsProjectFile(t *testing.T) {
	// Given: a project config adding an indexed detail
	dir := isolate(t)
	writeProjectConfig(t, dir, "indexed_details:\n  - key: zenoss.device.location\n    type: path\n")

	// When: running config show --json
	out, err := run(t, "--config", dir, "config", "show", "--json")

	// Then: the merged config is printed with normalized types
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Len(t, cfg.IndexedDetails, 1)
	assert.Equal(t, "PATH", cfg.IndexedDetails[0].Type)
	assert.Equal(t, "zenoss.device.location", cfg.IndexedDetails[0].Name)
}

func TestConfigShow_YAMLByDefault(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "--config", dir, "config", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "backends:")
	assert.Contains(t, out, "listen: 127.0.0.1:8084")
}

func TestConfigValidate_Valid(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "--config", dir, "config", "validate")

	require.NoError(t, err)
	assert.Contains(t, out, "1 backends")
}

func TestConfigInit_UserTemplate(t *testing.T) {
	// Given: no user config
	dir := isolate(t)

	// When: running config init --user
	_, err := run(t, "--config", dir, "config", "init", "--user")

	// Then: the user template is written under XDG_CONFIG_HOME and loads
	require.NoError(t, err)
	path := config.GetUserConfigPath()
	assert.FileExists(t, path)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.QueueMemory, cfg.Queue.Type)
}

func TestConfigInit_EffectiveFreezesEnvOverrides(t *testing.T) {
	// Given: a listen address set only in the environment
	dir := isolate(t)
	t.Setenv("ZEP_LISTEN", "0.0.0.0:9999")

	// When: writing the effective config
	_, err := run(t, "--config", dir, "config", "init", "--effective")
	require.NoError(t, err)

	// Then: the file carries the override
	t.Setenv("ZEP_LISTEN", "")
	cfg, err := config.LoadFile(filepath.Join(dir, ".zep.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Listen)
}

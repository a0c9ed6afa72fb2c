package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".config", "extractd", "config.yaml"), defaultConfigPath())
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("EXTRACTD_SERVER_HTTP_PORT", "9191")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

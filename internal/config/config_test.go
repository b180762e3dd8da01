package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "./data", c.DataDir)
	assert.Equal(t, "./spool", c.SpoolDir)
	assert.Equal(t, "kvfile", c.StoreKind)
	assert.Equal(t, "none", c.SelectedBackend)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 30*time.Second, c.RetryBackoffBase)
	assert.Equal(t, 10*time.Minute, c.RetryBackoffMax)
	assert.Equal(t, 30*time.Second, c.CompletedGrace)
	assert.Equal(t, 1*time.Second, c.PublishInterval)
	assert.Equal(t, 3, c.MaxConcurrentUploads)
	assert.Contains(t, c.AllowedExtensions, ".mp4")
	assert.True(t, c.DropboxAutoRename)
	assert.True(t, c.DropboxMute)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "kvfile", cfg.StoreKind)
	assert.Equal(t, "none", cfg.SelectedBackend)
}

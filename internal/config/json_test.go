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

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"spool_dir":          "/mnt/camera",
		"store_kind":         "sqlite",
		"selected_backend":   "dropbox",
		"retry_backoff_base": "10s",
		"completed_grace":    "1m",
		"max_retries":        5,
		"allowed_extensions": []string{".mp4"},
		"dropbox_autorename": false,
		"s3_bucket":          "camera-roll",
	})

	t.Run("loads from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "/mnt/camera", cfg.SpoolDir)
		assert.Equal(t, "sqlite", cfg.StoreKind)
		assert.Equal(t, "dropbox", cfg.SelectedBackend)
		assert.Equal(t, 10*time.Second, cfg.RetryBackoffBase)
		assert.Equal(t, time.Minute, cfg.CompletedGrace)
		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, []string{".mp4"}, cfg.AllowedExtensions)
		assert.False(t, cfg.DropboxAutoRename)
		assert.Equal(t, "camera-roll", cfg.S3Bucket)

		// Keys absent from the file keep their defaults.
		assert.Equal(t, "./data", cfg.DataDir)
		assert.Equal(t, time.Second, cfg.PublishInterval)
		assert.True(t, cfg.DropboxMute)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{SpoolDir: "/keep/me", MaxRetries: 42}
		parseJson(cfg)

		assert.Equal(t, "/keep/me", cfg.SpoolDir)
		assert.Equal(t, 42, cfg.MaxRetries)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}

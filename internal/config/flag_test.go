package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd", "-w", "/mnt/camera", "-b", "gdrive", "-m", "5", "-g", "60", "-x", "mp4,.mov"}, expectPanic: false,
			expected: &Config{
				SpoolDir:          "/mnt/camera",
				SelectedBackend:   "gdrive",
				MaxRetries:        5,
				CompletedGrace:    60 * time.Second,
				AllowedExtensions: []string{".mp4", ".mov"},
			}},
		{name: "Test2 incorrect retry count", args: []string{"cmd", "-m", "abc"}, expectPanic: true, expected: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}

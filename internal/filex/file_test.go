package filex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(dir))
	require.DirExists(t, dir)

	// Existing directory is fine.
	require.NoError(t, EnsureDir(dir))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.bin")
	require.NoError(t, WriteFileAtomic(path, []byte("one")))
	require.NoError(t, WriteFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "two", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"answer": 42}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"answer": 42}`, string(data))

	require.Error(t, WriteJSONAtomic(path, func() {}))
}

func TestFileSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 1234), 0o600))

	size, err := FileSize(path)
	require.NoError(t, err)
	require.Equal(t, int64(1234), size)

	_, err = FileSize(filepath.Join(dir, "missing"))
	require.Error(t, err)

	_, err = FileSize(dir)
	require.Error(t, err)
}

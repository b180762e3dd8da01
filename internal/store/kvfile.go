package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dmarchuk/shuttersync/internal/filex"
	"github.com/dmarchuk/shuttersync/internal/logging"
)

// KVFile is a small file-backed key-value facility: one JSON object keyed
// by well-known names. Every operation re-reads the file before mutating,
// so a value written by another component in the same process is never
// clobbered. Writes go through an atomic rename.
//
// A file that cannot be read or decoded is treated as empty: the queue
// prefers losing records to refusing to run (fail open).
type KVFile struct {
	mu   sync.Mutex
	path string
	log  logging.Logger
}

func NewKVFile(path string, log logging.Logger) *KVFile {
	return &KVFile{path: path, log: log}
}

// Get decodes the value stored under key into out. The boolean reports
// whether the key was present.
func (f *KVFile) Get(ctx context.Context, key string, out any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := f.readAll(ctx)
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// Same fail-open policy as an unreadable file: the caller sees
		// an absent key, not a fatal queue.
		f.log.Warn(ctx, "corrupt value in kv store, ignoring", "key", key, "error", err.Error())
		return false, nil
	}
	return true, nil
}

// Put stores v under key, preserving all other keys.
func (f *KVFile) Put(ctx context.Context, key string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	m := f.readAll(ctx)
	m[key] = raw
	return f.writeAll(m)
}

// Delete removes key. Deleting an absent key is a no-op.
func (f *KVFile) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := f.readAll(ctx)
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return f.writeAll(m)
}

func (f *KVFile) readAll(ctx context.Context) map[string]json.RawMessage {
	m := make(map[string]json.RawMessage)
	b, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Warn(ctx, "kv store unreadable, starting empty", "path", f.path, "error", err.Error())
		}
		return m
	}
	if len(b) == 0 {
		return m
	}
	if err := json.Unmarshal(b, &m); err != nil {
		f.log.Warn(ctx, "kv store corrupt, starting empty", "path", f.path, "error", err.Error())
		return make(map[string]json.RawMessage)
	}
	return m
}

func (f *KVFile) writeAll(m map[string]json.RawMessage) error {
	if err := filex.WriteJSONAtomic(f.path, m); err != nil {
		return fmt.Errorf("persist kv store: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"sort"

	"github.com/dmarchuk/shuttersync/internal/common"
)

// SpoolLedger records spool paths that have already been handed to the
// scheduler. Task records alone cannot serve as that memory: completed
// tasks are pruned after a grace period and failed ones stay terminal,
// yet in neither case should the scanner enqueue the file again while
// it still sits in the spool.
type SpoolLedger struct {
	kv *KVFile
}

func NewSpoolLedger(kv *KVFile) *SpoolLedger {
	return &SpoolLedger{kv: kv}
}

func (l *SpoolLedger) Contains(ctx context.Context, path string) (bool, error) {
	paths, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range paths {
		if p == path {
			return true, nil
		}
	}
	return false, nil
}

func (l *SpoolLedger) Add(ctx context.Context, path string) error {
	paths, err := l.load(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if p == path {
			return nil
		}
	}
	paths = append(paths, path)
	sort.Strings(paths)
	return l.save(ctx, paths)
}

// Prune drops every entry for which keep returns false. The scanner
// calls it with a file-still-in-spool check, so a path removed from the
// spool and later recaptured gets uploaded again.
func (l *SpoolLedger) Prune(ctx context.Context, keep func(path string) bool) error {
	paths, err := l.load(ctx)
	if err != nil {
		return err
	}
	kept := paths[:0]
	for _, p := range paths {
		if keep(p) {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(paths) {
		return nil
	}
	return l.save(ctx, kept)
}

func (l *SpoolLedger) load(ctx context.Context) ([]string, error) {
	var paths []string
	if _, err := l.kv.Get(ctx, common.SpoolLedgerKey, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func (l *SpoolLedger) save(ctx context.Context, paths []string) error {
	return l.kv.Put(ctx, common.SpoolLedgerKey, paths)
}

package uploader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// runScanner polls the spool directory until the context is done. Polling
// instead of inotify keeps the daemon working on network mounts and other
// filesystems without reliable watch events.
func (app *App) runScanner(ctx context.Context) {
	ticker := time.NewTicker(app.cfg.SpoolScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.scanSpool(ctx); err != nil {
				app.logger.Warn(ctx, "spool scan failed", "error", err.Error())
			}
		}
	}
}

// scanSpool schedules uploads for settled media files in the spool
// directory. A file counts as settled once its mtime stopped moving for the
// configured interval, so half-written recordings are left alone.
func (app *App) scanSpool(ctx context.Context) error {
	entries, err := os.ReadDir(app.cfg.SpoolDir)
	if err != nil {
		return err
	}

	cutoff := app.now().Add(-app.cfg.SpoolSettle)
	for _, entry := range entries {
		if entry.IsDir() || !app.allowedExtension(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed mid-scan.
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(app.cfg.SpoolDir, entry.Name())
		if err := app.OnFileProduced(ctx, path); err != nil {
			app.logger.Warn(ctx, "could not schedule spool file", "file", path, "error", err.Error())
		}
	}

	// Forget handled paths whose files left the spool, so a file captured
	// again under the same name gets uploaded again.
	return app.ledger.Prune(ctx, func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
}

func (app *App) allowedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, allowed := range app.cfg.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

package source

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the registry whenever its backing file changes, until ctx
// is cancelled. The parent directory is watched rather than the file itself
// because editors and config deployers typically replace the file, which
// drops inode-level watches.
func (r *Registry) Watch(ctx context.Context, logger *zap.Logger) error {
	if r.path == "" {
		return fmt.Errorf("source: registry has no backing file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("source: create watcher: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("source: watch %s: %w", dir, err)
	}

	target := filepath.Clean(r.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := r.Reload(); err != nil {
					// Keep the previous snapshot on a bad reload.
					logger.Warn("endpoints reload failed, keeping previous document",
						zap.String("path", r.path),
						zap.Error(err),
					)
					continue
				}
				logger.Info("endpoints document reloaded",
					zap.String("path", r.path),
					zap.String("checksum", r.Checksum()),
				)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("endpoints watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

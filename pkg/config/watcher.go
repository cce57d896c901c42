package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the rules file into a Provider when it changes on disk.
// Invalid revisions are logged and skipped; the last good rule set stays
// live.
type Watcher struct {
	path     string
	provider *Provider
	logger   *slog.Logger
}

// NewWatcher builds a watcher for one rules file.
func NewWatcher(path string, provider *Provider, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, provider: provider, logger: logger}
}

// Start watches until ctx is cancelled. The parent directory is watched
// rather than the file itself so atomic rename-into-place saves are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				rt, err := LoadFile(w.path)
				if err != nil {
					w.logger.Error("rules reload rejected", "path", w.path, "error", err)
					continue
				}
				w.provider.Swap(rt)
				w.logger.Info("rules reloaded", "path", w.path, "version", rt.Version)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("rules watcher error", "error", err)
			}
		}
	}()
	return nil
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchLevel keeps level in step with the log_level of the file at path
// until ctx is cancelled. Every other setting is fixed at startup and is
// ignored here.
//
// The parent directory is watched so that editors which save by renaming a
// temp file over path are still seen. A file that fails to load leaves the
// current level in place.
func WatchLevel(ctx context.Context, path string, level *slog.LevelVar) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(target), err)
	}

	slog.Info("config: watching log level", "path", target, "level", level.Level())

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, err := reloadLevel(target, level); err != nil {
				slog.Error("config: reload failed, keeping log level",
					"path", target, "level", level.Level(), "err", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// reloadLevel loads path and applies its log level to level. It reports
// whether the level changed.
func reloadLevel(path string, level *slog.LevelVar) (bool, error) {
	cfg, err := Load(path)
	if err != nil {
		return false, err
	}
	next := cfg.Agent.Level()
	prev := level.Level()
	if next == prev {
		return false, nil
	}
	level.Set(next)
	slog.Info("config: log level updated", "from", prev, "to", next)
	return true, nil
}

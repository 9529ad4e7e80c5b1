package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch blocks until ctx is cancelled, re-loading the config file on every
// write and handing the result to onChange. A file that fails to parse is
// logged and skipped, keeping the last good config in effect.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("cannot watch config file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				logger.Debug("fsnotify watcher channel is closed.")
				return nil
			}
			if !event.Has(fsnotify.Write) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed; keeping previous config.", "error", err)
				continue
			}

			logger.Info("config reloaded.", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error.", "error", err)
		}
	}
}

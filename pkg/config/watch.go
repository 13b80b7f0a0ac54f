package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce collapses the burst of events an editor produces when saving.
var watchDebounce = 100 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the new config to
// onChange. Files that fail to load are logged and skipped. Watching stops when ctx is done.
//
// The parent directory is watched rather than the file, so editors that replace the file
// on save keep being followed.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer fw.Close()

		timer := time.NewTimer(watchDebounce)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					timer.Reset(watchDebounce)
				}
			case <-timer.C:
				cfg, err := Load(abs)
				if err != nil {
					logger.Warn("Config reload failed", zap.String("path", abs), zap.Error(err))
					continue
				}
				logger.Info("Config reloaded", zap.String("path", abs))
				onChange(cfg)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Error("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/awmdev/awm/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompConfig)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the config whenever its file changes on disk and calls
// onChange with the fresh config. It watches the parent directory because
// editors replace files by rename, which drops a watch on the file itself.
// Blocks until ctx is done; run it in a goroutine.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var debounceMu sync.Mutex
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				cfg, err := m.Reload()
				if err != nil {
					watchLog.Warn("config_reload_failed", slog.String("error", err.Error()))
					return
				}
				watchLog.Info("config_reloaded", slog.String("path", m.path))
				if onChange != nil {
					onChange(cfg)
				}
			})
			debounceMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			watchLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the settings whenever the file changes on disk and blocks
// until ctx is cancelled. The directory is watched rather than the file so
// editors that save by rename keep being picked up.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}
	s.logger.Info("watching settings file", zap.String("path", s.path))

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce.Reset(reloadDebounce)
			}

		case <-debounce.C:
			if err := s.Reload(); err != nil {
				s.logger.Warn("settings reload failed", zap.Error(err))
				continue
			}
			s.logger.Debug("settings reloaded", zap.String("path", s.path))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

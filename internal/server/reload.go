package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of filesystem events editors
// produce for a single save into one reload.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the bundle whenever its file changes on disk. It blocks
// until ctx is cancelled. The watch is on the parent directory, not the
// file itself, so atomic-rename saves (vim, AtomicWrite) keep working.
func (s *Server) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.bundlePath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Debugf("Watching %s for bundle changes", dir)

	target, err := filepath.Abs(s.bundlePath)
	if err != nil {
		return fmt.Errorf("resolve bundle path: %w", err)
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := s.Reload(ctx); err != nil {
				s.logger.Warnf("Bundle reload failed, keeping previous chain: %v", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warnf("Watcher error: %v", err)
		}
	}
}

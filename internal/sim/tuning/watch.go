package tuning

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and hands the new tuning to
// onChange. Invalid files are logged and ignored. Watch blocks until ctx is
// done.
func Watch(ctx context.Context, path string, logger *log.Logger, onChange func(Tuning)) error {
	if logger == nil {
		logger = log.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Editors replace files by rename, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	target := filepath.Clean(path)

	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			t, err := Load(path)
			if err != nil {
				logger.Printf("WARN tuning reload ignored: %v", err)
				continue
			}
			logger.Printf("tuning reloaded from %s", path)
			onChange(t)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Printf("WARN tuning watcher: %v", err)
		}
	}
}

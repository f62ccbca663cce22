package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// StartWatching reloads the rule set whenever the rule file changes on
// disk. It returns immediately; the watch loop runs until ctx is done or
// StopWatching is called. Explicit Reload stays the primary path, the
// watcher only serves long-running kernels whose operators edit rules in
// place. Starting twice is a no-op.
func (e *Engine) StartWatching(ctx context.Context) error {
	if e.path == "" {
		return nil
	}

	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watchCancel != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create safety rules watcher: %w", err)
	}
	// Watch the directory: editors commonly replace the file, which
	// drops a watch registered on the file itself.
	dir := filepath.Dir(e.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.watchCancel = cancel
	e.watchDone = done

	go e.watchLoop(watchCtx, watcher, done)
	return nil
}

// StopWatching stops the watch loop and waits for it to exit.
func (e *Engine) StopWatching() {
	e.watchMu.Lock()
	cancel := e.watchCancel
	done := e.watchDone
	e.watchCancel = nil
	e.watchDone = nil
	e.watchMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (e *Engine) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer watcher.Close()

	target := filepath.Clean(e.path)

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if err := e.Reload(); err != nil {
				e.logger.Warn("safety rules reload failed", "path", e.path, "error", err)
				return
			}
			e.logger.Info("safety rules reloaded", "path", e.path, "rules", len(e.Rules()))
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.Warn("safety rules watcher error", "error", err)
		}
	}
}

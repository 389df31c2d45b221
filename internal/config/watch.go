package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay absorbs the write-then-rename burst editors and config
// managers emit for a single logical save.
const debounceDelay = 300 * time.Millisecond

// Watcher reloads a config file on change and applies the result in place,
// so callers that read through the *Config pointer see updated values
// without a restart. The gateway options and the tool policy engine are
// built from value copies at startup and do not see reloads. Env-sourced secrets are
// re-applied after every reload since they never round-trip through the
// file.
type Watcher struct {
	path    string
	cfg     *Config
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
	doneCh chan struct{}
}

// Watch starts watching path's directory (not the file itself, so editor
// rename-swap saves are still seen) and reloading cfg in place on change.
// Returns the Watcher so the caller can Stop() it on shutdown.
func Watch(path string, cfg *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		cfg:     cfg,
		watcher: fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	defer w.watcher.Close()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "error", err)
		}
	}
}

// scheduleReload debounces bursts of filesystem events for one save into a
// single reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	fresh, err := Load(w.path)
	if err != nil {
		slog.Warn("config: hot-reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.cfg.ReplaceFrom(fresh)
	slog.Info("config: reloaded", "path", w.path, "hash", w.cfg.Hash())
}

// Stop ends the watch goroutine and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

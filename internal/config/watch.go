package config

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"siteguard/internal/logging"
)

// Watcher reloads a Config file on write and debounces the editor-save
// double-event fsnotify is known to emit, mirroring the teacher's
// MangleWatcher debounce idiom.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(*Config)

	mu          sync.Mutex
	lastHandled time.Time
	debounce    time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher starts watching path's parent directory (watching the
// directory rather than the file survives editors that replace the file
// via rename-on-save). onLoad is invoked with a freshly reloaded Config
// after every settled write.
func NewWatcher(path string, onLoad func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := dirOf(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		watcher:  w,
		onLoad:   onLoad,
		debounce: 300 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return "."
}

// Start launches the watch loop in the background.
func (w *Watcher) Start() {
	go w.run()
}

// Stop halts the watch loop and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, baseName(w.path)) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handle()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryConfig).Error("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle() {
	w.mu.Lock()
	now := time.Now()
	if now.Sub(w.lastHandled) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastHandled = now
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		logging.Get(logging.CategoryConfig).Error("config reload from %s failed, keeping previous config: %v", w.path, err)
		return
	}
	logging.Get(logging.CategoryConfig).Info("config reloaded from %s", w.path)
	w.onLoad(cfg)
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

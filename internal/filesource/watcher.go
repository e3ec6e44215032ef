package filesource

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to a single file, collapsing bursts of native
// events into one signal per debounce window. The timing software performs
// several small writes per update cycle, so raw events arrive in clusters.
//
// UNC paths always use the polling fallback: native change notification is
// unreliable over SMB.
type Watcher struct {
	mu       sync.Mutex
	path     string
	debounce time.Duration
	interval time.Duration
	onChange func()
	fw       *fsnotify.Watcher
	timer    *time.Timer
	lastMod  time.Time
	lastSize int64
	done     chan struct{}
	started  bool
	stopped  bool
	polling  bool
}

func NewWatcher(path string, debounce, pollInterval time.Duration, onChange func()) *Watcher {
	return &Watcher{
		path:     NormalizePath(path),
		debounce: debounce,
		interval: pollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

func isUNC(path string) bool {
	return strings.HasPrefix(path, `\\`)
}

// Start begins watching. Never fails: when native notification is
// unavailable the watcher degrades to the polling fallback.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	if !isUNC(w.path) {
		fw, err := fsnotify.NewWatcher()
		if err == nil {
			// Watch the directory: editors and the timing software replace
			// the file rather than write in place, which drops file-level
			// watches.
			if err := fw.Add(filepath.Dir(w.path)); err == nil {
				w.mu.Lock()
				w.fw = fw
				w.mu.Unlock()
				go w.watchLoop(fw)
				return
			}
			fw.Close()
		}
		log.Printf("[filesource] native watch unavailable for %s, falling back to polling", w.path)
	}

	w.mu.Lock()
	w.polling = true
	w.mu.Unlock()
	go w.pollLoop()
}

// Polling reports whether the watcher runs on the polling fallback.
func (w *Watcher) Polling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.polling
}

// Stop cancels the watch, the debounce timer, and any pending callback.
// Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fw := w.fw
	w.fw = nil
	w.mu.Unlock()

	close(w.done)
	if fw != nil {
		fw.Close()
	}
}

func (w *Watcher) watchLoop(fw *fsnotify.Watcher) {
	target := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.bump()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Printf("[filesource] watch error: %v", err)
		}
	}
}

func (w *Watcher) pollLoop() {
	interval := w.interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := !info.ModTime().Equal(w.lastMod) || info.Size() != w.lastSize
			first := w.lastMod.IsZero()
			w.lastMod = info.ModTime()
			w.lastSize = info.Size()
			w.mu.Unlock()
			if changed && !first {
				w.bump()
			}
		}
	}
}

// bump (re)arms the debounce timer; the callback fires once per quiet
// window regardless of how many events arrived.
func (w *Watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if !stopped && w.onChange != nil {
			w.onChange()
		}
	})
}

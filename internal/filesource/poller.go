// Package filesource ingests the timing unit's XML results export from disk:
// a fixed-interval poller, a filesystem watcher with debounce and a polling
// fallback for network shares, and a per-section change differ.
package filesource

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/slalomlive/backend/internal/protocol"
)

// Handler receives poller events. OnMessage gets the full file content once
// per detected change; OnError reports recoverable failures (the poll loop
// always continues).
type Handler struct {
	OnMessage func(content string)
	OnError   func(err error)
}

type Poller struct {
	mu       sync.Mutex
	path     string
	interval time.Duration
	handler  Handler
	lastMod  time.Time
	lastSize int64
	done     chan struct{}
	started  bool
	stopped  bool
}

// NormalizePath turns file:// URLs into plain paths; anything else passes
// through untouched. The timing software hands out both forms.
func NormalizePath(p string) string {
	if !strings.HasPrefix(p, "file://") {
		return p
	}
	u, err := url.Parse(p)
	if err != nil {
		return strings.TrimPrefix(p, "file://")
	}
	path := u.Path
	if u.Host != "" {
		// file://server/share → UNC path
		path = `\\` + u.Host + strings.ReplaceAll(u.Path, "/", `\`)
	}
	return path
}

func NewPoller(path string, interval time.Duration, handler Handler) *Poller {
	return &Poller{
		path:     NormalizePath(path),
		interval: interval,
		handler:  handler,
		done:     make(chan struct{}),
	}
}

func (p *Poller) Start() {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.loop()
}

// Stop halts the poll loop. Idempotent, safe before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.done)
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("[filesource] polling %s every %s", p.path, p.interval)
	p.poll(false)

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.poll(false)
		}
	}
}

// ForcePoll performs one immediate read outside the schedule, emitting the
// content even when unchanged. Used to prime state synchronously.
func (p *Poller) ForcePoll() {
	p.poll(true)
}

func (p *Poller) poll(force bool) {
	info, err := os.Stat(p.path)
	if err != nil {
		p.emitError(fmt.Errorf("filesource stat %s: %w", p.path, err))
		return
	}

	p.mu.Lock()
	unchanged := info.ModTime().Equal(p.lastMod) && info.Size() == p.lastSize
	p.mu.Unlock()
	if unchanged && !force {
		return
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		p.emitError(fmt.Errorf("filesource read %s: %w", p.path, err))
		return
	}
	content := string(data)
	if !protocol.HasTimingRoot(content) {
		p.emitError(fmt.Errorf("filesource %s: unexpected root element", p.path))
		return
	}

	p.mu.Lock()
	p.lastMod = info.ModTime()
	p.lastSize = info.Size()
	p.mu.Unlock()

	if p.handler.OnMessage != nil {
		p.handler.OnMessage(content)
	}
}

func (p *Poller) emitError(err error) {
	if p.handler.OnError != nil {
		p.handler.OnError(err)
	}
}

// Package ws fans the canonical race state out to scoreboard clients over
// websockets, with per-session filtering, and serves the bridge's small
// HTTP API.
package ws

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/slalomlive/backend/internal/event"
)

// Hub keeps the registry of connected scoreboard sessions and re-renders
// each snapshot per session. The mutex covers the session map: connects and
// disconnects race with broadcasts.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]bool
	last     *event.Snapshot

	// onCountChange, when set, observes the session count (metrics gauge).
	onCountChange func(n int)
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[*Session]bool)}
}

// SetCountObserver installs a connected-session observer. Must be called
// before the server starts accepting clients.
func (h *Hub) SetCountObserver(fn func(n int)) {
	h.onCountChange = fn
}

// AddSession registers a new client and immediately replays the last known
// snapshot so scoreboards don't show blanks until the next live update.
func (h *Hub) AddSession(conn *websocket.Conn) *Session {
	s := newSession(conn)

	h.mu.Lock()
	h.sessions[s] = true
	last := h.last
	count := len(h.sessions)
	h.mu.Unlock()

	if last != nil {
		h.push(s, *last)
	}
	h.notifyCount(count)
	return s
}

func (h *Hub) RemoveSession(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	count := len(h.sessions)
	h.mu.Unlock()

	s.close()
	h.notifyCount(count)
}

// Broadcast stores the snapshot and pushes a per-session rendering to every
// connected client. Sessions whose transport is gone are pruned. All
// sessions receive this snapshot before the next Broadcast call starts.
func (h *Hub) Broadcast(snap event.Snapshot) {
	h.mu.Lock()
	h.last = &snap
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		if !h.push(s, snap) {
			log.Printf("[ws] session %s can't keep up, disconnecting", s.ID)
			h.RemoveSession(s)
		}
	}
}

// push renders the snapshot under the session's filters and enqueues each
// wire message. Returns false if any enqueue fails.
func (h *Hub) push(s *Session, snap event.Snapshot) bool {
	for _, msg := range render(snap, s.Filters()) {
		payload, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[ws] marshal %s: %v", msg.Msg, err)
			continue
		}
		if !s.enqueue(payload) {
			return false
		}
	}
	return true
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions lists connected sessions for the REST API, oldest first.
func (h *Hub) Sessions() []Info {
	h.mu.RLock()
	infos := make([]Info, 0, len(h.sessions))
	for s := range h.sessions {
		infos = append(infos, s.info())
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// LastSnapshot returns the most recently broadcast state, if any.
func (h *Hub) LastSnapshot() (event.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return event.Snapshot{}, false
	}
	return *h.last, true
}

func (h *Hub) notifyCount(n int) {
	if h.onCountChange != nil {
		h.onCountChange(n)
	}
}

package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// FilterConfig is a session's view configuration. The zero value shows
// nothing; use defaultFilters for new sessions.
type FilterConfig struct {
	ShowOnCourse bool     `json:"showOnCourse"`
	ShowResults  bool     `json:"showResults"`
	RaceFilter   []string `json:"raceFilter,omitempty"`
}

func defaultFilters() FilterConfig {
	return FilterConfig{ShowOnCourse: true, ShowResults: true}
}

// Session is one connected scoreboard client. It owns no shared state, only
// its connection and filters.
type Session struct {
	ID          string
	ConnectedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	filters      FilterConfig
	conn         *websocket.Conn
	send         chan []byte
	closed       bool
}

func newSession(conn *websocket.Conn) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		ConnectedAt:  now,
		lastActivity: now,
		filters:      defaultFilters(),
		conn:         conn,
		send:         make(chan []byte, 64),
	}
	go s.writePump()
	return s
}

func (s *Session) writePump() {
	defer s.conn.Close()
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// enqueue hands a payload to the write pump. Returns false when the client
// can't keep up or the session is closed; the hub prunes such sessions.
// The send happens under the mutex so it can never race the channel close.
func (s *Session) enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Filters returns a copy of the session's current filter config.
func (s *Session) Filters() FilterConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.filters
	if len(f.RaceFilter) > 0 {
		f.RaceFilter = append([]string(nil), f.RaceFilter...)
	}
	return f
}

// SetFilters applies a partial filter update from the client. Nil fields in
// the inbound message leave the existing value untouched.
func (s *Session) SetFilters(showOnCourse, showResults *bool, raceFilter []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if showOnCourse != nil {
		s.filters.ShowOnCourse = *showOnCourse
	}
	if showResults != nil {
		s.filters.ShowResults = *showResults
	}
	if raceFilter != nil {
		s.filters.RaceFilter = append([]string(nil), raceFilter...)
	}
	s.lastActivity = time.Now()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Info is the REST-facing session summary.
type Info struct {
	ID           string       `json:"id"`
	ConnectedAt  time.Time    `json:"connectedAt"`
	LastActivity time.Time    `json:"lastActivity"`
	Filters      FilterConfig `json:"filters"`
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		ConnectedAt:  s.ConnectedAt,
		LastActivity: s.lastActivity,
		Filters:      s.filters,
	}
}

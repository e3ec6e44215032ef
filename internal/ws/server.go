package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/slalomlive/backend/internal/event"
	"github.com/slalomlive/backend/internal/scoring"
	"github.com/slalomlive/backend/internal/timinglink"
)

// CommandWriter is the outbound path for operator commands, satisfied by
// the timing link client.
type CommandWriter interface {
	Write(xml string) error
}

// StateFunc supplies the current canonical snapshot for the REST API.
type StateFunc func() event.Snapshot

// HealthFunc supplies the bridge health document for /api/health.
type HealthFunc func() interface{}

type Server struct {
	hub            *Hub
	state          StateFunc
	health         HealthFunc
	writer         CommandWriter
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(hub *Hub, state StateFunc, health HealthFunc, writer CommandWriter, allowedOrigins []string) *Server {
	s := &Server{
		hub:            hub,
		state:          state,
		health:         health,
		writer:         writer,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/scoring", s.handleScoring)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	log.Printf("[ws] scoreboard connected: %s", r.RemoteAddr)
	session := s.hub.AddSession(conn)

	go func() {
		defer func() {
			s.hub.RemoveSession(session)
			log.Printf("[ws] scoreboard disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleClientMessage(session, data)
		}
	}()
}

// handleClientMessage applies filter configuration sent by a scoreboard.
// After a filter change the session gets an immediate re-render so the
// operator sees the effect without waiting for the next live update.
func (s *Server) handleClientMessage(session *Session, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[ws] bad client message from %s: %v", session.ID, err)
		return
	}
	session.touch()
	if msg.Msg != "config" {
		return
	}
	session.SetFilters(msg.Data.ShowOnCourse, msg.Data.ShowResults, msg.Data.RaceFilter)
	if snap, ok := s.hub.LastSnapshot(); ok {
		s.hub.push(session, snap)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.state())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.Sessions())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.health())
}

type scoringRequest struct {
	Type    string `json:"type"` // scoring | penalty | remove | timing
	Bib     string `json:"bib"`
	RaceID  string `json:"raceId"`
	Gate    int    `json:"gate,omitempty"`
	Value   string `json:"value,omitempty"`
	Penalty int    `json:"penalty,omitempty"`
	Channel string `json:"channel,omitempty"`
	Time    string `json:"time,omitempty"`
}

// handleScoring builds the requested command and writes it to the unit.
// Write failures surface to the operator: a dropped judge decision must
// never be silent.
func (s *Server) handleScoring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.writer == nil {
		http.Error(w, "timing link not configured", http.StatusServiceUnavailable)
		return
	}

	var req scoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var cmd string
	var err error
	switch req.Type {
	case "scoring":
		cmd, err = scoring.Scoring(req.Bib, req.RaceID, req.Gate, req.Value)
	case "penalty":
		cmd, err = scoring.PenaltyCorrection(req.Bib, req.RaceID, req.Penalty)
	case "remove":
		cmd, err = scoring.RemoveFromCourse(req.Bib, req.RaceID)
	case "timing":
		cmd, err = scoring.Timing(req.Bib, req.RaceID, req.Channel, req.Time)
	default:
		http.Error(w, fmt.Sprintf("unknown command type %q", req.Type), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.writer.Write(cmd); err != nil {
		if errors.Is(err, timinglink.ErrNotConnected) {
			http.Error(w, "timing unit not connected", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, fmt.Sprintf("write failed: %v", err), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if host == "localhost" || strings.HasPrefix(host, "localhost:") {
		return true
	}
	if host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:") {
		return true
	}
	if host == "::1" || strings.HasPrefix(host, "[::1]:") {
		return true
	}
	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("[ws] server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

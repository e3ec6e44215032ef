package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/slalomlive/backend/internal/timinglink"
)

type fakeWriter struct {
	commands []string
	err      error
}

func (f *fakeWriter) Write(xml string) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, xml)
	return nil
}

func postScoring(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/scoring", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestScoringEndpoint(t *testing.T) {
	writer := &fakeWriter{}
	ts, _ := newTestServer(t, writer)

	resp := postScoring(t, ts, `{"type":"scoring","bib":"9","raceId":"K1M_BR2_6","gate":4,"value":"2"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if len(writer.commands) != 1 {
		t.Fatalf("commands = %d, want 1", len(writer.commands))
	}
	if !strings.Contains(writer.commands[0], `Bib="9"`) || !strings.Contains(writer.commands[0], `Gate="4"`) {
		t.Errorf("command = %q", writer.commands[0])
	}
}

func TestScoringEndpointRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown type", `{"type":"bogus","bib":"9","raceId":"R"}`, http.StatusBadRequest},
		{"missing bib", `{"type":"remove","raceId":"R"}`, http.StatusBadRequest},
		{"bad gate", `{"type":"scoring","bib":"9","raceId":"R","gate":0,"value":"2"}`, http.StatusBadRequest},
		{"malformed json", `{"type":`, http.StatusBadRequest},
	}

	ts, _ := newTestServer(t, &fakeWriter{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := postScoring(t, ts, tt.body); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestScoringEndpointMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, &fakeWriter{})
	resp, err := http.Get(ts.URL + "/api/scoring")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestScoringEndpointUnitOffline(t *testing.T) {
	ts, _ := newTestServer(t, &fakeWriter{err: timinglink.ErrNotConnected})
	resp := postScoring(t, ts, `{"type":"remove","bib":"9","raceId":"K1M_BR2_6"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestScoringEndpointWithoutWriter(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := postScoring(t, ts, `{"type":"remove","bib":"9","raceId":"K1M_BR2_6"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:3000", "example.com", true},
		{"loopback", nil, "http://127.0.0.1:3000", "example.com", true},
		{"foreign host", nil, "http://evil.com", "example.com", false},
		{"allow list match", []string{"http://board.local"}, "http://board.local", "example.com", true},
		{"allow list miss", []string{"http://board.local"}, "http://other.local", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(NewHub(), nil, nil, nil, tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := srv.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

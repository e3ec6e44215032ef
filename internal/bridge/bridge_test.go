package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slalomlive/backend/internal/config"
	"github.com/slalomlive/backend/internal/event"
	"github.com/slalomlive/backend/internal/metrics"
	"github.com/slalomlive/backend/internal/protocol"
	"github.com/slalomlive/backend/internal/race"
	"github.com/slalomlive/backend/internal/ws"
)

const (
	onCourseXML = `<TimingUnit><OnCourse Position="1" dtStart="10:00:00">` +
		`<Participant Bib="9" Name="Novak" RaceId="K1M_BR2_6"/>` +
		`<Result Type="T" Time="8115" Total="8117" Rank="8"/>` +
		`</OnCourse></TimingUnit>`

	run1XML = `<TimingUnit><Results RaceId="K1M_BR1_5" Current="1">` +
		`<Result Rank="1" Bib="9" LastName="Novak" Total="78.99" Pen="0"/>` +
		`</Results></TimingUnit>`

	run2XML = `<TimingUnit><Results RaceId="K1M_BR2_6" Current="1">` +
		`<Result Rank="1" Bib="9" LastName="Novak" Total="85.99" Pen="2"/>` +
		`</Results></TimingUnit>`

	scheduleXML = `<TimingUnit><Schedule>` +
		`<Race RaceId="C1W_BR1_2" Name="C1 Women" Order="1"/>` +
		`</Schedule></TimingUnit>`
)

func newTestBridge(t *testing.T) (*Bridge, *event.State) {
	t.Helper()
	cfg := config.Default()
	cfg.Discovery.Enabled = false

	state := event.NewState(time.Second)
	t.Cleanup(state.Destroy)

	b := New(cfg, state, race.NewMerger(), ws.NewHub(), metrics.New())
	return b, state
}

func TestFrameUpdatesStateAndHub(t *testing.T) {
	b, state := newTestBridge(t)

	b.handleFrame(protocol.Frame{XML: onCourseXML, Origin: protocol.OriginTCP})

	snap := state.Snapshot()
	if snap.CurrentRaceID != "K1M_BR2_6" {
		t.Errorf("CurrentRaceID = %q", snap.CurrentRaceID)
	}
	if len(snap.OnCourse) != 1 || snap.OnCourse[0].Bib != "9" || snap.OnCourse[0].Time != "8115" {
		t.Errorf("OnCourse = %+v", snap.OnCourse)
	}

	hubSnap, ok := b.hub.LastSnapshot()
	if !ok || hubSnap.CurrentRaceID != "K1M_BR2_6" {
		t.Errorf("hub snapshot = %+v, %v", hubSnap, ok)
	}
}

func TestResultsPassThroughRunMerger(t *testing.T) {
	b, state := newTestBridge(t)

	b.handleFrame(protocol.Frame{XML: run1XML, Origin: protocol.OriginTCP})
	b.handleFrame(protocol.Frame{XML: run2XML, Origin: protocol.OriginTCP})

	snap := state.Snapshot()
	if snap.Results == nil || len(snap.Results.Rows) != 1 {
		t.Fatalf("results = %+v", snap.Results)
	}
	row := snap.Results.Rows[0]
	if row.PrevTotal != "78.99" {
		t.Errorf("PrevTotal = %q, want first run total", row.PrevTotal)
	}
	if row.BetterRun != 1 {
		t.Errorf("BetterRun = %d, want 1 (first run was faster)", row.BetterRun)
	}
}

func TestScheduleChangeFlushesRunCache(t *testing.T) {
	b, _ := newTestBridge(t)

	b.handleFrame(protocol.Frame{XML: run1XML, Origin: protocol.OriginTCP})
	if got := b.merger.CachedClasses(); len(got) != 1 {
		t.Fatalf("cached classes = %v, want 1", got)
	}

	b.handleFrame(protocol.Frame{XML: scheduleXML, Origin: protocol.OriginFile})
	if got := b.merger.CachedClasses(); len(got) != 0 {
		t.Errorf("cached classes after schedule change = %v, want none", got)
	}
}

func TestUnknownFrameLeavesStateAlone(t *testing.T) {
	b, state := newTestBridge(t)

	b.handleFrame(protocol.Frame{XML: "<Garbage/>", Origin: protocol.OriginUDP})

	snap := state.Snapshot()
	if snap.CurrentRaceID != "" || len(snap.OnCourse) != 0 {
		t.Errorf("state changed by unknown frame: %+v", snap)
	}
	if _, ok := b.hub.LastSnapshot(); ok {
		t.Error("hub received a broadcast for an unknown frame")
	}
}

func TestHealthDocument(t *testing.T) {
	b, _ := newTestBridge(t)

	b.handleFrame(protocol.Frame{XML: onCourseXML, Origin: protocol.OriginTCP})

	h, ok := b.Health().(Health)
	if !ok {
		t.Fatalf("Health() = %T", b.Health())
	}
	if h.Status != StatusHealthy {
		t.Errorf("status = %q", h.Status)
	}
	if h.LinkStatus != "disconnected" {
		t.Errorf("link status = %q", h.LinkStatus)
	}
	if h.CurrentRaceID != "K1M_BR2_6" {
		t.Errorf("current race = %q", h.CurrentRaceID)
	}
	if _, ok := h.Adapters["timinglink"]; !ok {
		t.Error("missing timinglink adapter health")
	}
	if _, ok := h.Adapters["discovery"]; ok {
		t.Error("discovery adapter reported while disabled")
	}
	if h.Adapters["timinglink"].Status != StatusHealthy {
		t.Errorf("timinglink = %+v", h.Adapters["timinglink"])
	}
}

func TestAdapterFailureDegradesHealth(t *testing.T) {
	b, _ := newTestBridge(t)

	b.linkHealth.recordFailure(errTest("dial refused"))
	h := b.Health().(Health)
	if h.Status != StatusDegraded {
		t.Errorf("status = %q, want degraded", h.Status)
	}

	for i := 0; i < failedThreshold; i++ {
		b.linkHealth.recordFailure(errTest("dial refused"))
	}
	h = b.Health().(Health)
	if h.Status != StatusFailed {
		t.Errorf("status = %q, want failed", h.Status)
	}
	if h.Adapters["timinglink"].LastError != "dial refused" {
		t.Errorf("last error = %q", h.Adapters["timinglink"].LastError)
	}

	b.linkHealth.recordSuccess()
	if h := b.Health().(Health); h.Status != StatusHealthy {
		t.Errorf("status after recovery = %q", h.Status)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

// Covers the whole live path: a raw frame off the wire ends up on a
// connected scoreboard as an oncourse message.
func TestFrameReachesScoreboard(t *testing.T) {
	b, state := newTestBridge(t)

	srv := ws.NewServer(b.hub, state.Snapshot, b.Health, b.Writer(), nil)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.hub.SessionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	nested := `<TimingUnit System="Main"><OnCourse Total="1"><OnCourse Position="1">` +
		`<Participant Bib="9" RaceId="K1M_BR2_6"/>` +
		`<Result Type="T" Time="8115" Total="8117" Rank="8"/>` +
		`</OnCourse></OnCourse></TimingUnit>`
	b.handleFrame(protocol.Frame{XML: nested, Origin: protocol.OriginTCP})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg struct {
			Msg  string          `json:"msg"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		if msg.Msg != "oncourse" {
			continue
		}
		var entries []struct {
			Bib    string `json:"Bib"`
			BibKey string `json:"BibKey"`
			Time   string `json:"Time"`
		}
		if err := json.Unmarshal(msg.Data, &entries); err != nil {
			t.Fatalf("oncourse data: %v", err)
		}
		if len(entries) != 1 || entries[0].Bib != "9" ||
			entries[0].BibKey != "K1M_BR2_6-9" || entries[0].Time != "8115" {
			t.Fatalf("entries = %+v", entries)
		}
		return
	}
}

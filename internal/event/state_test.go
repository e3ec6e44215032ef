package event

import (
	"testing"
	"time"

	"github.com/slalomlive/backend/internal/protocol"
)

func onCourse(competitors ...protocol.Competitor) protocol.OnCourse {
	return protocol.OnCourse{Total: len(competitors), Competitors: competitors}
}

func competitor(bib, raceID, dtFinish string) protocol.Competitor {
	return protocol.Competitor{
		Bib:      bib,
		RaceID:   raceID,
		DTFinish: dtFinish,
		Finished: dtFinish != "",
	}
}

// eventTypes extracts just the types for compact comparison.
func eventTypes(events []Event) []Type {
	types := make([]Type, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func hasEvent(events []Event, typ Type) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestRaceChangeFromOnCourse(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	events := s.ProcessMessage(onCourse(competitor("9", "K1M_BR2_6", "")))
	if !hasEvent(events, RaceChange) {
		t.Fatalf("events = %v, want RaceChange", eventTypes(events))
	}
	if got := s.Snapshot().CurrentRaceID; got != "K1M_BR2_6" {
		t.Errorf("CurrentRaceID = %q, want K1M_BR2_6", got)
	}

	// Same race again: no further race change.
	events = s.ProcessMessage(onCourse(competitor("9", "K1M_BR2_6", "")))
	if hasEvent(events, RaceChange) {
		t.Errorf("repeat snapshot fired RaceChange")
	}
}

func TestFinishDetection(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "")))
	events := s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "10:42:03")))

	if !hasEvent(events, Finish) {
		t.Fatalf("events = %v, want Finish", eventTypes(events))
	}
	for _, e := range events {
		if e.Type == Finish && e.Competitor.Bib != "9" {
			t.Errorf("finish competitor bib = %q", e.Competitor.Bib)
		}
	}
	if got := s.Snapshot().HighlightBib; got != "9" {
		t.Errorf("HighlightBib = %q, want 9", got)
	}
}

func TestFinishIdempotent(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "")))
	s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "10:42:03")))

	// Identical snapshot re-delivered: no second finish.
	events := s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "10:42:03")))
	if hasEvent(events, Finish) {
		t.Error("re-delivered snapshot fired Finish again")
	}
}

func TestNoFinishOnFirstSightWithTimestamp(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	events := s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "10:42:03")))
	if hasEvent(events, Finish) {
		t.Error("competitor entering with finish already set fired Finish")
	}
}

func TestResultsAcceptancePolicy(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	// Establish the current race.
	s.ProcessMessage(onCourse(competitor("1", "K1M_BR1_6", "")))

	// Non-current, non-matching results must be dropped silently.
	s.ProcessMessage(protocol.Results{
		RaceID: "K1M_ST_BR1_9",
		Rows:   []protocol.ResultRow{{Rank: 1, Bib: "5"}},
	})
	if snap := s.Snapshot(); snap.Results != nil {
		t.Fatalf("rotating results accepted: %+v", snap.Results)
	}

	// Matching race ID is accepted.
	s.ProcessMessage(protocol.Results{
		RaceID: "K1M_BR1_6",
		Rows:   []protocol.ResultRow{{Rank: 1, Bib: "5"}},
	})
	snap := s.Snapshot()
	if snap.Results == nil || snap.Results.RaceID != "K1M_BR1_6" {
		t.Fatalf("matching results not accepted: %+v", snap.Results)
	}

	// Current-marked results switch the race.
	events := s.ProcessMessage(protocol.Results{
		RaceID:    "C1W_BR1_2",
		IsCurrent: true,
		Rows:      []protocol.ResultRow{{Rank: 1, Bib: "14"}},
	})
	if !hasEvent(events, RaceChange) {
		t.Errorf("current-marked results did not fire RaceChange")
	}
	if got := s.Snapshot().CurrentRaceID; got != "C1W_BR1_2" {
		t.Errorf("CurrentRaceID = %q, want C1W_BR1_2", got)
	}
}

func TestScheduleFingerprint(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	first := protocol.Schedule{Races: []protocol.ScheduleRace{
		{RaceID: "K1M_BR1_1", Order: 1},
		{RaceID: "C1W_BR1_2", Order: 2},
	}}
	if events := s.ProcessMessage(first); hasEvent(events, ScheduleChange) {
		t.Error("first schedule fired ScheduleChange")
	}

	// Same races, different element order: no change.
	reordered := protocol.Schedule{Races: []protocol.ScheduleRace{
		{RaceID: "C1W_BR1_2", Order: 2},
		{RaceID: "K1M_BR1_1", Order: 1},
	}}
	if events := s.ProcessMessage(reordered); hasEvent(events, ScheduleChange) {
		t.Error("reordered identical schedule fired ScheduleChange")
	}

	// Different race set: change.
	replaced := protocol.Schedule{Races: []protocol.ScheduleRace{
		{RaceID: "K1W_BR1_1", Order: 1},
	}}
	if events := s.ProcessMessage(replaced); !hasEvent(events, ScheduleChange) {
		t.Error("new race set did not fire ScheduleChange")
	}
}

func TestHighlightAutoClear(t *testing.T) {
	s := NewState(30 * time.Millisecond)
	defer s.Destroy()

	changes := make(chan Snapshot, 16)
	s.SetNotify(func(snap Snapshot) { changes <- snap })

	s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "")))
	s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "10:42:03")))

	if got := s.Snapshot().HighlightBib; got != "9" {
		t.Fatalf("HighlightBib = %q, want 9", got)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-changes:
			if snap.HighlightBib == "" && snap.CurrentRaceID != "" {
				return // expiry fired a change with the highlight cleared
			}
		case <-deadline:
			t.Fatal("highlight never cleared")
		}
	}
}

func TestFinishEventCarriesRaceID(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	s.ProcessMessage(onCourse(competitor("9", "K1M_BR2_6", "")))
	events := s.ProcessMessage(onCourse(competitor("9", "K1M_BR2_6", "10:42:03")))

	if len(events) != 1 || events[0].Type != Finish {
		t.Fatalf("events = %+v, want one finish", events)
	}
	if events[0].RaceID != "K1M_BR2_6" {
		t.Errorf("finish RaceID = %q, want K1M_BR2_6", events[0].RaceID)
	}
	if events[0].Competitor == nil || events[0].Competitor.Bib != "9" {
		t.Errorf("finish competitor = %+v", events[0].Competitor)
	}
}

func TestNewHighlightRearmsTimer(t *testing.T) {
	const race = "K1M_BR1_1"
	s := NewState(100 * time.Millisecond)
	defer s.Destroy()

	s.ProcessMessage(onCourse(competitor("9", race, ""), competitor("12", race, "")))
	s.ProcessMessage(onCourse(competitor("9", race, "10:00:01"), competitor("12", race, "")))
	if got := s.Snapshot().HighlightBib; got != "9" {
		t.Fatalf("HighlightBib = %q, want 9", got)
	}

	// A second finish inside the window takes over the highlight and restarts
	// the clock; the first finish's expiry must not clear it early.
	time.Sleep(60 * time.Millisecond)
	s.ProcessMessage(onCourse(competitor("9", race, "10:00:01"), competitor("12", race, "10:00:02")))

	time.Sleep(60 * time.Millisecond) // past the first highlight's original expiry
	if got := s.Snapshot().HighlightBib; got != "12" {
		t.Fatalf("HighlightBib = %q, want 12 (first timer must not fire)", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().HighlightBib != "" {
		if time.Now().After(deadline) {
			t.Fatal("second highlight never cleared")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChangeSignalPerAcceptedMessage(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	var count int
	s.SetNotify(func(Snapshot) { count++ })

	s.ProcessMessage(protocol.TimeOfDay{Time: "14:00:00"})
	s.ProcessMessage(protocol.Unknown{})
	s.ProcessMessage(protocol.Results{RaceID: "ROTATION_X"}) // dropped by policy
	s.ProcessMessage(onCourse())

	if count != 2 {
		t.Errorf("change signals = %d, want 2 (unknown and dropped results are silent)", count)
	}
}

func TestResetEmitsFinalChange(t *testing.T) {
	s := NewState(0)
	defer s.Destroy()

	s.ProcessMessage(onCourse(competitor("9", "K1M_BR1_1", "")))

	var last *Snapshot
	s.SetNotify(func(snap Snapshot) { last = &snap })

	s.Reset()
	if last == nil {
		t.Fatal("Reset emitted no change")
	}
	if last.CurrentRaceID != "" || len(last.OnCourse) != 0 {
		t.Errorf("Reset left state behind: %+v", last)
	}
}

func TestDestroySilences(t *testing.T) {
	s := NewState(0)

	var count int
	s.SetNotify(func(Snapshot) { count++ })

	s.Destroy()
	s.ProcessMessage(protocol.TimeOfDay{Time: "14:00:00"})
	if count != 0 {
		t.Errorf("destroyed state emitted %d changes", count)
	}
}

package event

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slalomlive/backend/internal/protocol"
)

// Snapshot is an immutable copy of the aggregate, safe to retain and read
// from any goroutine.
type Snapshot struct {
	TimeOfDay     string                  `json:"timeOfDay"`
	RaceConfig    *protocol.RaceConfig    `json:"raceConfig,omitempty"`
	Schedule      []protocol.ScheduleRace `json:"schedule,omitempty"`
	CurrentRaceID string                  `json:"currentRaceId"`
	OnCourse      []protocol.Competitor   `json:"onCourse"`
	Results       *protocol.Results       `json:"results,omitempty"`
	HighlightBib  string                  `json:"highlightBib,omitempty"`
}

// State folds decoded messages into the canonical aggregate. All message
// delivery must be serialized through ProcessMessage; the mutex exists only
// because the highlight expiry timer fires on its own goroutine.
type State struct {
	mu                  sync.Mutex
	timeOfDay           string
	raceConfig          *protocol.RaceConfig
	schedule            []protocol.ScheduleRace
	scheduleFingerprint string
	currentRaceID       string
	onCourse            []protocol.Competitor
	prevFinished        map[string]bool // bib → had a finish time in the previous snapshot
	results             *protocol.Results
	highlightBib        string
	highlightTimer      *time.Timer
	highlightDur        time.Duration
	notify              func(Snapshot)
	destroyed           bool
}

func NewState(highlightDur time.Duration) *State {
	if highlightDur <= 0 {
		highlightDur = 10 * time.Second
	}
	return &State{
		prevFinished: make(map[string]bool),
		highlightDur: highlightDur,
	}
}

// SetNotify installs the change signal receiver. Every accepted mutation
// (including highlight expiry) invokes it with a fresh snapshot, outside the
// state lock. Must be called before the first ProcessMessage.
func (s *State) SetNotify(fn func(Snapshot)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// ProcessMessage folds one decoded message into the state and returns the
// domain events it derived. Unknown messages and discarded results produce
// no events and no change signal.
func (s *State) ProcessMessage(msg protocol.Message) []Event {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}

	var events []Event
	accepted := true

	switch m := msg.(type) {
	case protocol.OnCourse:
		events = s.applyOnCourse(m)
	case protocol.Results:
		accepted, events = s.applyResults(m)
	case protocol.TimeOfDay:
		s.timeOfDay = m.Time
	case protocol.RaceConfig:
		cfg := m
		s.raceConfig = &cfg
	case protocol.Schedule:
		events = s.applySchedule(m)
	default:
		accepted = false
	}

	var snap Snapshot
	var notify func(Snapshot)
	if accepted {
		snap = s.snapshotLocked()
		notify = s.notify
	}
	s.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
	return events
}

func (s *State) applyOnCourse(m protocol.OnCourse) []Event {
	var events []Event

	// currentRaceId follows the first on-course competitor.
	if len(m.Competitors) > 0 {
		if raceID := m.Competitors[0].RaceID; raceID != "" && raceID != s.currentRaceID {
			s.currentRaceID = raceID
			events = append(events, Event{Type: RaceChange, RaceID: raceID})
		}
	}

	seen := make(map[string]bool, len(m.Competitors))
	for i := range m.Competitors {
		c := m.Competitors[i]
		seen[c.Bib] = c.Finished
		// A finish is only the absent→present transition for a bib we
		// already had on course. A competitor first seen with the finish
		// time already set is a re-appearance, not a finish.
		hadFinish, wasSeen := s.prevFinished[c.Bib]
		if wasSeen && !hadFinish && c.Finished {
			comp := c
			events = append(events, Event{Type: Finish, RaceID: comp.RaceID, Competitor: &comp})
			s.setHighlightLocked(c.Bib)
		}
	}
	s.prevFinished = seen
	s.onCourse = m.Competitors
	return events
}

// applyResults implements the acceptance policy: take a results message if
// the source marks it current, or if it belongs to the race already shown.
// Anything else is the unit rotating through other categories and is
// silently dropped.
func (s *State) applyResults(m protocol.Results) (bool, []Event) {
	var events []Event
	switch {
	case m.IsCurrent:
		if m.RaceID != "" && m.RaceID != s.currentRaceID {
			s.currentRaceID = m.RaceID
			events = append(events, Event{Type: RaceChange, RaceID: m.RaceID})
		}
	case m.RaceID == s.currentRaceID:
		// Matches the displayed race.
	default:
		return false, nil
	}
	res := m
	s.results = &res
	return true, events
}

func (s *State) applySchedule(m protocol.Schedule) []Event {
	var events []Event
	fp := Fingerprint(m.Races)
	if s.scheduleFingerprint != "" && s.scheduleFingerprint != fp {
		events = append(events, Event{Type: ScheduleChange})
	}
	s.scheduleFingerprint = fp
	s.schedule = m.Races
	return events
}

// Fingerprint derives a schedule identity from its race IDs. Sorted before
// joining so two deliveries of the same schedule in different element order
// compare equal.
func Fingerprint(races []protocol.ScheduleRace) string {
	ids := make([]string, len(races))
	for i, r := range races {
		ids[i] = r.RaceID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func (s *State) setHighlightLocked(bib string) {
	s.highlightBib = bib
	if s.highlightTimer != nil {
		s.highlightTimer.Stop()
	}
	s.highlightTimer = time.AfterFunc(s.highlightDur, s.expireHighlight)
}

// expireHighlight clears the highlight and fires one change signal even
// though no message arrived.
func (s *State) expireHighlight() {
	s.mu.Lock()
	if s.destroyed || s.highlightBib == "" {
		s.mu.Unlock()
		return
	}
	s.highlightBib = ""
	s.highlightTimer = nil
	snap := s.snapshotLocked()
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
}

// Snapshot returns a copy of the current aggregate.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		TimeOfDay:     s.timeOfDay,
		CurrentRaceID: s.currentRaceID,
		HighlightBib:  s.highlightBib,
	}
	if s.raceConfig != nil {
		cfg := *s.raceConfig
		snap.RaceConfig = &cfg
	}
	if len(s.schedule) > 0 {
		snap.Schedule = make([]protocol.ScheduleRace, len(s.schedule))
		copy(snap.Schedule, s.schedule)
	}
	if len(s.onCourse) > 0 {
		snap.OnCourse = make([]protocol.Competitor, len(s.onCourse))
		copy(snap.OnCourse, s.onCourse)
	}
	if s.results != nil {
		res := *s.results
		res.Rows = make([]protocol.ResultRow, len(s.results.Rows))
		copy(res.Rows, s.results.Rows)
		snap.Results = &res
	}
	return snap
}

// Reset clears all fields and timers and emits one final change signal.
func (s *State) Reset() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	snap := s.snapshotLocked()
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
}

// Destroy cancels timers and detaches the change receiver. Call exactly once
// at shutdown; afterwards the state accepts no further messages.
func (s *State) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.notify = nil
	s.destroyed = true
}

func (s *State) clearLocked() {
	if s.highlightTimer != nil {
		s.highlightTimer.Stop()
		s.highlightTimer = nil
	}
	s.timeOfDay = ""
	s.raceConfig = nil
	s.schedule = nil
	s.scheduleFingerprint = ""
	s.currentRaceID = ""
	s.onCourse = nil
	s.prevFinished = make(map[string]bool)
	s.results = nil
	s.highlightBib = ""
}

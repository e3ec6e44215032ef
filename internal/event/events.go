// Package event owns the canonical race state. Decoded messages are folded
// in one at a time; each fold returns the domain events it derived so the
// caller can dispatch them without hidden re-entrancy.
package event

import "github.com/slalomlive/backend/internal/protocol"

type Type int

const (
	// Finish fires when an on-course competitor's finish timestamp
	// transitions from absent to present.
	Finish Type = iota
	// RaceChange fires when the currently displayed race switches.
	RaceChange
	// ScheduleChange fires when a new schedule's fingerprint differs from
	// the previous one. Consumers flush per-event caches on this signal.
	ScheduleChange
)

func (t Type) String() string {
	switch t {
	case Finish:
		return "finish"
	case RaceChange:
		return "raceChange"
	case ScheduleChange:
		return "scheduleChange"
	}
	return "unknown"
}

// Event is one derived domain event. RaceID is set for RaceChange,
// Competitor for Finish.
type Event struct {
	Type       Type
	RaceID     string
	Competitor *protocol.Competitor
}

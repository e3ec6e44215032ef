// Package protocol decodes the timing unit's pipe-delimited XML fragments
// into typed messages. The decoder is total: malformed input degrades to
// Unknown, never to an error.
package protocol

// Origin identifies which ingestion adapter produced a frame.
type Origin string

const (
	OriginTCP  Origin = "tcp"
	OriginUDP  Origin = "udp"
	OriginFile Origin = "file"
)

// Frame is one raw XML fragment as received from an adapter. Frames are
// consumed by a single decode cycle and never retained.
type Frame struct {
	XML    string
	Origin Origin
}

type Kind string

const (
	KindOnCourse   Kind = "oncourse"
	KindResults    Kind = "results"
	KindTimeOfDay  Kind = "timeofday"
	KindRaceConfig Kind = "raceconfig"
	KindSchedule   Kind = "schedule"
	KindUnknown    Kind = "unknown"
)

// Message is the closed union of decoded timing unit payloads.
type Message interface {
	Kind() Kind
}

// Competitor is one on-course entry. DTStart/DTFinish are the raw timestamp
// strings from the unit; empty means not yet set. Position is 1-based
// distance-to-finish ordering (1 = closest to the finish line).
type Competitor struct {
	Bib        string `json:"bib"`
	Name       string `json:"name"`
	Club       string `json:"club"`
	RaceID     string `json:"raceId"`
	StartOrder int    `json:"startOrder"`
	Gates      string `json:"gates"`
	Pen        int    `json:"pen"`
	Finished   bool   `json:"finished"`
	DTStart    string `json:"dtStart,omitempty"`
	DTFinish   string `json:"dtFinish,omitempty"`
	Time       string `json:"time,omitempty"`
	Total      string `json:"total,omitempty"`
	Rank       int    `json:"rank"`
	Position   int    `json:"position"`
}

type OnCourse struct {
	Total       int
	Competitors []Competitor
}

func (OnCourse) Kind() Kind { return KindOnCourse }

// ResultRow is one row of a results table. The Prev*/Total* fields carry
// two-run (BR1/BR2) data; pointer and empty-string fields are absent unless
// the source (or the run merger) supplied them.
type ResultRow struct {
	Rank      int    `json:"rank"`
	Bib       string `json:"bib"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Club      string `json:"club"`
	Nat       string `json:"nat"`
	Gates     string `json:"gates"`
	Pen       int    `json:"pen"`
	Time      string `json:"time"`
	Total     string `json:"total"`
	Behind    string `json:"behind"`

	PrevTime   string `json:"prevTime,omitempty"`
	PrevPen    *int   `json:"prevPen,omitempty"`
	PrevTotal  string `json:"prevTotal,omitempty"`
	PrevRank   *int   `json:"prevRank,omitempty"`
	TotalTotal *int   `json:"totalTotal,omitempty"`
	TotalRank  *int   `json:"totalRank,omitempty"`
	BetterRun  int    `json:"betterRun,omitempty"`
}

type Results struct {
	RaceID    string
	ClassID   string
	IsCurrent bool
	MainTitle string
	SubTitle  string
	Rows      []ResultRow
}

func (Results) Kind() Kind { return KindResults }

type TimeOfDay struct {
	Time string
}

func (TimeOfDay) Kind() Kind { return KindTimeOfDay }

type RaceConfig struct {
	NrSplits     int
	NrGates      int
	GateConfig   string
	GateCaptions string
}

func (RaceConfig) Kind() Kind { return KindRaceConfig }

type ScheduleRace struct {
	RaceID    string `json:"raceId"`
	Name      string `json:"name"`
	ClassID   string `json:"classId"`
	StartTime string `json:"startTime"`
	Order     int    `json:"order"`
}

type Schedule struct {
	Races []ScheduleRace
}

func (Schedule) Kind() Kind { return KindSchedule }

// Unknown marks a frame that carried no recognizable payload. Callers skip it.
type Unknown struct{}

func (Unknown) Kind() Kind { return KindUnknown }

package protocol

import (
	"encoding/xml"
	"sort"
	"strconv"
	"strings"
)

// RootElement is the root tag every timing unit payload carries, over TCP,
// UDP broadcast and the file export alike.
const RootElement = "TimingUnit"

type timingUnitXML struct {
	XMLName    xml.Name       `xml:"TimingUnit"`
	System     string         `xml:"System,attr"`
	OnCourse   *onCourseXML   `xml:"OnCourse"`
	Results    *resultsXML    `xml:"Results"`
	TimeOfDay  *timeOfDayXML  `xml:"TimeOfDay"`
	RaceConfig *raceConfigXML `xml:"RaceConfig"`
	Schedule   *scheduleXML   `xml:"Schedule"`
}

// onCourseXML covers all three shapes the unit emits: a bare competitor
// element, a wrapper around one nested entry, and a wrapper around many.
// The bare shape has Participant/Result directly on the outer element.
type onCourseXML struct {
	onCourseEntryXML
	Total   string             `xml:"Total,attr"`
	Entries []onCourseEntryXML `xml:"OnCourse"`
}

type onCourseEntryXML struct {
	Position    string          `xml:"Position,attr"`
	DTStart     string          `xml:"dtStart,attr"`
	DTFinish    string          `xml:"dtFinish,attr"`
	Participant *participantXML `xml:"Participant"`
	Results     []resultXML     `xml:"Result"`
}

type participantXML struct {
	Bib        string `xml:"Bib,attr"`
	Name       string `xml:"Name,attr"`
	Club       string `xml:"Club,attr"`
	RaceID     string `xml:"RaceId,attr"`
	StartOrder string `xml:"StartOrder,attr"`
}

type resultXML struct {
	Type  string `xml:"Type,attr"`
	Time  string `xml:"Time,attr"`
	Total string `xml:"Total,attr"`
	Rank  string `xml:"Rank,attr"`
	Pen   string `xml:"Pen,attr"`
	Gates string `xml:"Gates,attr"`
}

type resultsXML struct {
	RaceID    string         `xml:"RaceId,attr"`
	ClassID   string         `xml:"ClassId,attr"`
	Current   string         `xml:"Current,attr"`
	MainTitle string         `xml:"MainTitle,attr"`
	SubTitle  string         `xml:"SubTitle,attr"`
	Rows      []resultRowXML `xml:"Result"`
}

type resultRowXML struct {
	Rank      string `xml:"Rank,attr"`
	Bib       string `xml:"Bib,attr"`
	FirstName string `xml:"FirstName,attr"`
	LastName  string `xml:"LastName,attr"`
	Club      string `xml:"Club,attr"`
	Nat       string `xml:"Nat,attr"`
	Gates     string `xml:"Gates,attr"`
	Pen       string `xml:"Pen,attr"`
	Time      string `xml:"Time,attr"`
	Total     string `xml:"Total,attr"`
	Behind    string `xml:"Behind,attr"`

	PrevTime   string `xml:"PrevTime,attr"`
	PrevPen    string `xml:"PrevPen,attr"`
	PrevTotal  string `xml:"PrevTotal,attr"`
	PrevRank   string `xml:"PrevRank,attr"`
	TotalTotal string `xml:"TotalTotal,attr"`
	TotalRank  string `xml:"TotalRank,attr"`
	BetterRun  string `xml:"BetterRun,attr"`
}

type timeOfDayXML struct {
	Time string `xml:"Time,attr"`
}

type raceConfigXML struct {
	NrSplits     string `xml:"NrSplits,attr"`
	NrGates      string `xml:"NrGates,attr"`
	GateConfig   string `xml:"GateConfig,attr"`
	GateCaptions string `xml:"GateCaptions,attr"`
}

type scheduleXML struct {
	Races []scheduleRaceXML `xml:"Race"`
}

type scheduleRaceXML struct {
	RaceID    string `xml:"RaceId,attr"`
	Name      string `xml:"Name,attr"`
	ClassID   string `xml:"ClassId,attr"`
	StartTime string `xml:"StartTime,attr"`
	Order     string `xml:"Order,attr"`
}

// Decode parses one raw XML fragment into typed messages. A payload may carry
// several element types at once, so the result is a list. Anything without
// the expected root, or that fails to parse, yields exactly [Unknown].
func Decode(raw string) []Message {
	var doc timingUnitXML
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return []Message{Unknown{}}
	}

	var msgs []Message
	if doc.OnCourse != nil {
		msgs = append(msgs, decodeOnCourse(doc.OnCourse))
	}
	if doc.Results != nil {
		msgs = append(msgs, decodeResults(doc.Results))
	}
	if doc.TimeOfDay != nil {
		msgs = append(msgs, TimeOfDay{Time: doc.TimeOfDay.Time})
	}
	if doc.RaceConfig != nil {
		msgs = append(msgs, RaceConfig{
			NrSplits:     atoi(doc.RaceConfig.NrSplits),
			NrGates:      atoi(doc.RaceConfig.NrGates),
			GateConfig:   doc.RaceConfig.GateConfig,
			GateCaptions: doc.RaceConfig.GateCaptions,
		})
	}
	if doc.Schedule != nil {
		msgs = append(msgs, decodeSchedule(doc.Schedule))
	}

	if len(msgs) == 0 {
		return []Message{Unknown{}}
	}
	return msgs
}

// HasTimingRoot reports whether the payload's root element matches the
// timing unit signature. Used by UDP discovery and file validation without
// paying for a full decode.
func HasTimingRoot(raw string) bool {
	dec := xml.NewDecoder(strings.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local == RootElement
		}
	}
}

func decodeOnCourse(oc *onCourseXML) OnCourse {
	entries := oc.Entries
	if len(entries) == 0 && oc.Participant != nil {
		// Bare single-competitor shape.
		entries = []onCourseEntryXML{oc.onCourseEntryXML}
	}

	competitors := make([]Competitor, 0, len(entries))
	for _, e := range entries {
		if e.Participant == nil {
			continue
		}
		c := Competitor{
			Bib:        strings.TrimSpace(e.Participant.Bib),
			Name:       e.Participant.Name,
			Club:       e.Participant.Club,
			RaceID:     e.Participant.RaceID,
			StartOrder: atoi(e.Participant.StartOrder),
			DTStart:    e.DTStart,
			DTFinish:   e.DTFinish,
			// Implicit positions stay contiguous even when a malformed
			// entry is skipped.
			Position: len(competitors) + 1,
		}
		if e.Position != "" {
			c.Position = atoi(e.Position)
		}
		for _, r := range e.Results {
			if r.Gates != "" {
				c.Gates = r.Gates
			}
			if r.Pen != "" {
				c.Pen = atoi(r.Pen)
			}
			// Type "T" carries the running time; other types (splits,
			// penalties) only contribute gates/pen above.
			if r.Type == "T" || r.Type == "" {
				c.Time = r.Time
				c.Total = r.Total
				c.Rank = atoi(r.Rank)
			}
		}
		c.Finished = c.DTFinish != ""
		competitors = append(competitors, c)
	}

	total := atoi(oc.Total)
	if total == 0 {
		total = len(competitors)
	}
	return OnCourse{Total: total, Competitors: competitors}
}

func decodeResults(res *resultsXML) Results {
	rows := make([]ResultRow, 0, len(res.Rows))
	for _, r := range res.Rows {
		row := ResultRow{
			Rank:      atoi(r.Rank),
			Bib:       strings.TrimSpace(r.Bib),
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Club:      r.Club,
			Nat:       r.Nat,
			Gates:     r.Gates,
			Pen:       atoi(r.Pen),
			Time:      r.Time,
			Total:     r.Total,
			Behind:    r.Behind,
			PrevTime:  r.PrevTime,
			PrevTotal: r.PrevTotal,
			BetterRun: atoi(r.BetterRun),
		}
		// BR1/BR2 numerics stay absent unless present on the source element.
		if r.PrevPen != "" {
			row.PrevPen = intPtr(atoi(r.PrevPen))
		}
		if r.PrevRank != "" {
			row.PrevRank = intPtr(atoi(r.PrevRank))
		}
		if r.TotalTotal != "" {
			row.TotalTotal = intPtr(atoi(r.TotalTotal))
		}
		if r.TotalRank != "" {
			row.TotalRank = intPtr(atoi(r.TotalRank))
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })

	return Results{
		RaceID:    res.RaceID,
		ClassID:   res.ClassID,
		IsCurrent: parseBool(res.Current),
		MainTitle: res.MainTitle,
		SubTitle:  res.SubTitle,
		Rows:      rows,
	}
}

func decodeSchedule(s *scheduleXML) Schedule {
	races := make([]ScheduleRace, 0, len(s.Races))
	for i, r := range s.Races {
		order := atoi(r.Order)
		if order == 0 {
			order = i + 1
		}
		races = append(races, ScheduleRace{
			RaceID:    r.RaceID,
			Name:      r.Name,
			ClassID:   r.ClassID,
			StartTime: r.StartTime,
			Order:     order,
		})
	}
	return Schedule{Races: races}
}

// atoi parses an attribute value, defaulting to 0 so a single malformed
// attribute never drops a whole row.
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func intPtr(n int) *int { return &n }

package ws

import (
	"strconv"
	"strings"

	"github.com/slalomlive/backend/internal/event"
	"github.com/slalomlive/backend/internal/protocol"
	"github.com/slalomlive/backend/internal/race"
)

// render produces the wire messages for one snapshot under one session's
// filters: "top" only when a results table exists, "oncourse" always, and
// "comp" only when somebody is on the water.
func render(snap event.Snapshot, f FilterConfig) []wireMessage {
	if len(f.RaceFilter) > 0 && !containsRace(f.RaceFilter, snap.CurrentRaceID) {
		return nil
	}

	var msgs []wireMessage

	if f.ShowResults && snap.Results != nil {
		msgs = append(msgs, wireMessage{Msg: msgTop, Data: renderTop(snap)})
	}

	if f.ShowOnCourse {
		msgs = append(msgs, wireMessage{Msg: msgOnCourse, Data: renderOnCourse(snap.OnCourse)})
		if comp := renderComp(snap); comp != nil {
			msgs = append(msgs, wireMessage{Msg: msgComp, Data: *comp})
		}
	}

	return msgs
}

func containsRace(filter []string, raceID string) bool {
	for _, id := range filter {
		if id == raceID {
			return true
		}
	}
	return false
}

func renderTop(snap event.Snapshot) topData {
	res := snap.Results
	data := topData{
		RaceName:     raceName(res),
		RaceStatus:   raceStatus(snap),
		HighlightBib: snap.HighlightBib,
		List:         make([]topRow, 0, len(res.Rows)),
	}
	for _, row := range res.Rows {
		tr := topRow{
			Rank:      row.Rank,
			Bib:       row.Bib,
			Name:      rowName(row),
			Club:      row.Club,
			Nat:       row.Nat,
			Total:     row.Total,
			Pen:       strconv.Itoa(row.Pen),
			Behind:    row.Behind,
			Time:      row.Time,
			PrevTime:  row.PrevTime,
			PrevTotal: row.PrevTotal,
		}
		if row.PrevPen != nil {
			tr.PrevPen = strconv.Itoa(*row.PrevPen)
		}
		if row.PrevRank != nil {
			tr.PrevRank = strconv.Itoa(*row.PrevRank)
		}
		if row.TotalTotal != nil {
			tr.TotalTotal = strconv.Itoa(*row.TotalTotal)
		}
		if row.TotalRank != nil {
			tr.TotalRank = strconv.Itoa(*row.TotalRank)
		}
		if row.BetterRun > 0 {
			tr.BetterRun = strconv.Itoa(row.BetterRun)
		}
		data.List = append(data.List, tr)
	}
	return data
}

func raceName(res *protocol.Results) string {
	if res.SubTitle == "" {
		return res.MainTitle
	}
	if res.MainTitle == "" {
		return res.SubTitle
	}
	return res.MainTitle + " - " + res.SubTitle
}

func raceStatus(snap event.Snapshot) int {
	if len(snap.OnCourse) > 0 {
		return raceStatusRunning
	}
	if snap.Results != nil && len(snap.Results.Rows) > 0 {
		return raceStatusFinished
	}
	return raceStatusIdle
}

func rowName(row protocol.ResultRow) string {
	return strings.TrimSpace(strings.TrimSpace(row.FirstName) + " " + strings.TrimSpace(row.LastName))
}

func renderOnCourse(competitors []protocol.Competitor) []onCourseEntry {
	entries := make([]onCourseEntry, 0, len(competitors))
	for _, c := range competitors {
		entries = append(entries, onCourseEntry{
			Bib:      c.Bib,
			BibKey:   c.RaceID + "-" + c.Bib,
			Name:     c.Name,
			Club:     c.Club,
			Gates:    c.Gates,
			Pen:      strconv.Itoa(c.Pen),
			Time:     c.Time,
			Total:    c.Total,
			DTFinish: c.DTFinish,
			Pos:      c.Position,
		})
	}
	return entries
}

// renderComp picks the on-course competitor nearest the finish line (lowest
// position) and attaches the time-to-beat: the current leader's name and the
// competitor's gap to the leading total.
func renderComp(snap event.Snapshot) *compData {
	if len(snap.OnCourse) == 0 {
		return nil
	}

	nearest := snap.OnCourse[0]
	for _, c := range snap.OnCourse[1:] {
		if c.Position < nearest.Position {
			nearest = c
		}
	}

	comp := &compData{
		Bib:   nearest.Bib,
		Name:  nearest.Name,
		Club:  nearest.Club,
		Time:  nearest.Time,
		Pen:   strconv.Itoa(nearest.Pen),
		Gates: nearest.Gates,
		Rank:  nearest.Rank,
	}

	if snap.Results != nil && len(snap.Results.Rows) > 0 {
		leader := snap.Results.Rows[0]
		comp.TTBName = rowName(leader)
		if nearest.Total != "" && leader.Total != "" {
			diff := race.ParseCentiseconds(nearest.Total) - race.ParseCentiseconds(leader.Total)
			if diff < 0 {
				comp.TTBDiff = "-" + race.FormatCentiseconds(-diff)
			} else {
				comp.TTBDiff = race.FormatCentiseconds(diff)
			}
		}
	}

	return comp
}

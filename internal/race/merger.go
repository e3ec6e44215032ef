package race

import (
	"strings"
	"sync"

	"github.com/slalomlive/backend/internal/protocol"
)

// Run markers embedded in race IDs by the timing unit's naming convention,
// e.g. "K1M_BR1_6" is run 1 of heat 6 for class K1M.
const (
	run1Marker = "_BR1_"
	run2Marker = "_BR2_"
)

// cachedRun is one competitor's stored first-run result.
type cachedRun struct {
	Time  string
	Pen   int
	Total string
	Rank  int
	Gates string
}

type classRuns struct {
	run1 map[string]cachedRun // keyed by trimmed bib
	run2 map[string]cachedRun
}

// Merger enriches second-run result sets with first-run data cached from
// earlier BR1 messages. The cache persists until explicitly cleared; the
// caller clears on schedule change to prevent bib collisions across events.
type Merger struct {
	mu      sync.Mutex
	classes map[string]*classRuns
}

func NewMerger() *Merger {
	return &Merger{classes: make(map[string]*classRuns)}
}

// RunOf returns 1 or 2 for run-tagged race IDs, 0 for untagged ones.
func RunOf(raceID string) int {
	switch {
	case strings.Contains(raceID, run1Marker):
		return 1
	case strings.Contains(raceID, run2Marker):
		return 2
	}
	return 0
}

// ClassOf returns the race class portion of a run-tagged race ID: everything
// before the run marker ("K1M_ST_BR1_9" → "K1M_ST").
func ClassOf(raceID string) string {
	for _, marker := range []string{run1Marker, run2Marker} {
		if i := strings.Index(raceID, marker); i >= 0 {
			return raceID[:i]
		}
	}
	return raceID
}

// ProcessResults enriches a results message with two-run data. BR1 sets are
// cached and passed through; BR2 sets get prevTime/prevPen/prevTotal/prevRank
// filled from the cache and a best-of-both totalTotal computed. Untagged
// races pass through unchanged. The input is never mutated; BR2 enrichment
// returns a fresh message with copied rows.
func (m *Merger) ProcessResults(res protocol.Results) protocol.Results {
	switch RunOf(res.RaceID) {
	case 1:
		m.cacheRun(res, 1)
		return res
	case 2:
		m.cacheRun(res, 2)
		return m.mergeSecondRun(res)
	}
	return res
}

func (m *Merger) cacheRun(res protocol.Results, run int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	class := ClassOf(res.RaceID)
	cr, ok := m.classes[class]
	if !ok {
		cr = &classRuns{
			run1: make(map[string]cachedRun),
			run2: make(map[string]cachedRun),
		}
		m.classes[class] = cr
	}

	target := cr.run1
	if run == 2 {
		target = cr.run2
	}
	for _, row := range res.Rows {
		bib := strings.TrimSpace(row.Bib)
		if bib == "" {
			continue
		}
		target[bib] = cachedRun{
			Time:  row.Time,
			Pen:   row.Pen,
			Total: row.Total,
			Rank:  row.Rank,
			Gates: row.Gates,
		}
	}
}

func (m *Merger) mergeSecondRun(res protocol.Results) protocol.Results {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := res
	out.Rows = make([]protocol.ResultRow, len(res.Rows))
	copy(out.Rows, res.Rows)

	cr := m.classes[ClassOf(res.RaceID)]

	for i := range out.Rows {
		row := &out.Rows[i]

		prevTotal := row.PrevTotal
		if cr != nil {
			if cached, ok := cr.run1[strings.TrimSpace(row.Bib)]; ok {
				if row.PrevTime == "" {
					row.PrevTime = cached.Time
				}
				if row.PrevPen == nil {
					pen := cached.Pen
					row.PrevPen = &pen
				}
				if row.PrevTotal == "" {
					row.PrevTotal = cached.Total
				}
				if row.PrevRank == nil && cached.Rank > 0 {
					rank := cached.Rank
					row.PrevRank = &rank
				}
				prevTotal = row.PrevTotal
			}
		}

		// A source-supplied totalTotal is authoritative; never overwrite.
		if row.TotalTotal != nil {
			continue
		}
		if prevTotal == "" || row.Total == "" {
			continue
		}

		prevCs := ParseCentiseconds(prevTotal)
		currCs := ParseCentiseconds(row.Total)
		best := currCs
		// Equal totals count as a run-1 win.
		betterRun := 2
		if prevCs <= currCs {
			best = prevCs
			betterRun = 1
		}
		row.TotalTotal = &best
		row.BetterRun = betterRun
	}

	return out
}

// ClearClass drops all cached runs for one race class.
func (m *Merger) ClearClass(class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.classes, class)
}

// ClearAll drops the entire cache. Called on schedule change so a new
// event's bibs never pick up a previous event's first-run data.
func (m *Merger) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes = make(map[string]*classRuns)
}

// CachedClasses returns the class keys currently held, for diagnostics.
func (m *Merger) CachedClasses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.classes))
	for k := range m.classes {
		keys = append(keys, k)
	}
	return keys
}

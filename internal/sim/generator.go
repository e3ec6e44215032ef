// Package sim generates a synthetic timing unit feed for demos and
// scoreboard bring-up when no real hardware is on the network. Frames go
// through the same decode path as live input.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/slalomlive/backend/internal/protocol"
	"github.com/slalomlive/backend/internal/race"
)

type simCompetitor struct {
	bib       string
	firstName string
	lastName  string
	club      string
	nat       string
	baseCs    int // typical clean run in centiseconds
}

var startList = []simCompetitor{
	{bib: "3", firstName: "Jiri", lastName: "Prskavec", club: "USK Praha", nat: "CZE", baseCs: 8250},
	{bib: "7", firstName: "Giovanni", lastName: "De Gennaro", club: "CC Aniene", nat: "ITA", baseCs: 8320},
	{bib: "9", firstName: "Titouan", lastName: "Castryck", club: "CK Pau", nat: "FRA", baseCs: 8190},
	{bib: "12", firstName: "Joseph", lastName: "Clarke", club: "Stafford", nat: "GBR", baseCs: 8410},
	{bib: "15", firstName: "Noah", lastName: "Hegge", club: "KR Hamm", nat: "GER", baseCs: 8480},
}

var simRaces = []struct {
	id    string
	name  string
	class string
}{
	{id: "K1M_BR1_5", name: "K1 Men Run 1", class: "K1M"},
	{id: "K1M_BR2_6", name: "K1 Men Run 2", class: "K1M"},
}

// ticksOnCourse is how many ticks a competitor spends between start and
// finish.
const ticksOnCourse = 20

type runResult struct {
	comp    simCompetitor
	pen     int
	totalCs int
}

// Generator drives one simulated two-run race, then starts over. The emit
// callback receives raw frames exactly as a TCP adapter would produce them.
type Generator struct {
	emit     func(protocol.Frame)
	interval time.Duration
	rng      *rand.Rand

	raceIdx    int
	startIdx   int
	tickInRun  int
	currentPen int
	finished   []runResult
}

func NewGenerator(interval time.Duration, emit func(protocol.Frame)) *Generator {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Generator{
		emit:     emit,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start emits the schedule and begins ticking until the context ends.
func (g *Generator) Start(ctx context.Context) {
	g.emit(protocol.Frame{XML: g.scheduleXML(), Origin: protocol.OriginTCP})
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.step()
		}
	}
}

// step advances the simulation one tick and emits the resulting frames.
func (g *Generator) step() {
	if g.startIdx >= len(startList) {
		g.nextRun()
		return
	}

	comp := startList[g.startIdx]
	raceID := simRaces[g.raceIdx].id
	g.tickInRun++

	if g.tickInRun == 1 {
		g.currentPen = 0
	}

	// A gate touch roughly every other run, never more than one per tick.
	if g.tickInRun > 2 && g.tickInRun < ticksOnCourse && g.rng.Intn(ticksOnCourse*2) == 0 {
		g.currentPen += 2
	}

	elapsed := comp.baseCs * g.tickInRun / ticksOnCourse
	finished := g.tickInRun >= ticksOnCourse

	if finished {
		jitter := g.rng.Intn(400) - 200
		total := comp.baseCs + jitter + g.currentPen*100
		g.finished = append(g.finished, runResult{comp: comp, pen: g.currentPen, totalCs: total})

		g.emit(protocol.Frame{XML: g.onCourseXML(comp, raceID, total, true), Origin: protocol.OriginTCP})
		g.emit(protocol.Frame{XML: g.resultsXML(raceID), Origin: protocol.OriginTCP})

		g.startIdx++
		g.tickInRun = 0
		return
	}

	g.emit(protocol.Frame{XML: g.onCourseXML(comp, raceID, elapsed, false), Origin: protocol.OriginTCP})
}

// nextRun rotates to the following race, wrapping back to the first run
// after the last one so the feed never goes quiet.
func (g *Generator) nextRun() {
	g.raceIdx++
	g.startIdx = 0
	g.tickInRun = 0
	g.finished = nil
	if g.raceIdx >= len(simRaces) {
		g.raceIdx = 0
	}
}

func (g *Generator) scheduleXML() string {
	var sb strings.Builder
	sb.WriteString("<TimingUnit><Schedule>")
	for i, r := range simRaces {
		fmt.Fprintf(&sb, `<Race RaceId=%q Name=%q ClassId=%q Order="%d"/>`, r.id, r.name, r.class, i+1)
	}
	sb.WriteString("</Schedule></TimingUnit>")
	return sb.String()
}

func (g *Generator) onCourseXML(comp simCompetitor, raceID string, elapsedCs int, finished bool) string {
	var sb strings.Builder
	sb.WriteString(`<TimingUnit><OnCourse Position="1"`)
	fmt.Fprintf(&sb, ` dtStart=%q`, "10:00:00")
	if finished {
		fmt.Fprintf(&sb, ` dtFinish=%q`, "10:01:30")
	}
	sb.WriteString(">")
	fmt.Fprintf(&sb, `<Participant Bib=%q Name=%q Club=%q RaceId=%q/>`,
		comp.bib, comp.firstName+" "+comp.lastName, comp.club, raceID)
	total := elapsedCs + g.currentPen*100
	fmt.Fprintf(&sb, `<Result Type="T" Time="%d" Total="%d" Pen="%d"/>`, elapsedCs, total, g.currentPen)
	sb.WriteString("</OnCourse></TimingUnit>")
	return sb.String()
}

func (g *Generator) resultsXML(raceID string) string {
	ranked := make([]runResult, len(g.finished))
	copy(ranked, g.finished)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].totalCs < ranked[j].totalCs })

	var sb strings.Builder
	fmt.Fprintf(&sb, `<TimingUnit><Results RaceId=%q Current="1" MainTitle="K1 Men" SubTitle="Run %d">`,
		raceID, race.RunOf(raceID))

	leader := ranked[0].totalCs
	for i, rr := range ranked {
		behind := ""
		if i > 0 {
			behind = "+" + race.FormatCentiseconds(rr.totalCs-leader)
		}
		fmt.Fprintf(&sb, `<Result Rank="%d" Bib=%q FirstName=%q LastName=%q Club=%q Nat=%q Pen="%d" Total=%q Behind=%q/>`,
			i+1, rr.comp.bib, rr.comp.firstName, rr.comp.lastName, rr.comp.club, rr.comp.nat,
			rr.pen, race.FormatCentiseconds(rr.totalCs), behind)
	}
	sb.WriteString("</Results></TimingUnit>")
	return sb.String()
}

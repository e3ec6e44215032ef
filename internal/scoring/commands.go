// Package scoring builds the compact XML command fragments operators send
// back to the timing unit: gate judgements, penalty corrections, course
// removals and manual timing impulses.
package scoring

import (
	"fmt"
	"strconv"
	"strings"
)

type attr struct {
	name  string
	value string
}

// command renders <Name a="v" .../> with no whitespace beyond the single
// space between attributes. The unit's parser rejects pretty-printed input.
func command(name string, attrs []attr) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(name)
	for _, a := range attrs {
		if a.value == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(a.name)
		b.WriteString(`="`)
		b.WriteString(escapeAttr(a.value))
		b.WriteByte('"')
	}
	b.WriteString("/>")
	return b.String()
}

var attrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

// Scoring judges one gate for a competitor. Value is the penalty code the
// unit understands ("0", "2", "50").
func Scoring(bib, raceID string, gate int, value string) (string, error) {
	if err := requireBibRace(bib, raceID); err != nil {
		return "", err
	}
	if gate <= 0 {
		return "", fmt.Errorf("scoring: gate must be positive, got %d", gate)
	}
	return command("Scoring", []attr{
		{"Bib", bib},
		{"RaceId", raceID},
		{"Gate", strconv.Itoa(gate)},
		{"Value", value},
	}), nil
}

// PenaltyCorrection overrides a competitor's total penalty seconds.
func PenaltyCorrection(bib, raceID string, penalty int) (string, error) {
	if err := requireBibRace(bib, raceID); err != nil {
		return "", err
	}
	if penalty < 0 {
		return "", fmt.Errorf("scoring: negative penalty %d", penalty)
	}
	return command("PenaltyCorrection", []attr{
		{"Bib", bib},
		{"RaceId", raceID},
		{"Penalty", strconv.Itoa(penalty)},
	}), nil
}

// RemoveFromCourse takes a competitor off the on-course list (DNF, wrong
// start, judge decision).
func RemoveFromCourse(bib, raceID string) (string, error) {
	if err := requireBibRace(bib, raceID); err != nil {
		return "", err
	}
	return command("RemoveFromCourse", []attr{
		{"Bib", bib},
		{"RaceId", raceID},
	}), nil
}

// Timing sends a manual timing impulse on a channel ("start", "finish").
func Timing(bib, raceID, channel, timestamp string) (string, error) {
	if err := requireBibRace(bib, raceID); err != nil {
		return "", err
	}
	if channel == "" {
		return "", fmt.Errorf("scoring: timing channel required")
	}
	return command("Timing", []attr{
		{"Bib", bib},
		{"RaceId", raceID},
		{"Channel", channel},
		{"Time", timestamp},
	}), nil
}

func requireBibRace(bib, raceID string) error {
	if strings.TrimSpace(bib) == "" {
		return fmt.Errorf("scoring: bib required")
	}
	if strings.TrimSpace(raceID) == "" {
		return fmt.Errorf("scoring: race id required")
	}
	return nil
}

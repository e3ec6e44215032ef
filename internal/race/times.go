// Package race holds the two-run (BR1/BR2) result merger and the time
// arithmetic it depends on.
package race

import (
	"strconv"
	"strings"
)

// ParseCentiseconds converts a timing unit time string to centiseconds.
// Two formats occur in the wild: "79.99" (seconds.centiseconds, fractional
// part padded or truncated to exactly two digits) and "7999" (raw
// centiseconds). Empty or unparseable input yields 0.
func ParseCentiseconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if i := strings.IndexByte(s, '.'); i >= 0 {
		secs, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0
		}
		frac := s[i+1:]
		for len(frac) < 2 {
			frac += "0"
		}
		frac = frac[:2]
		cs, err := strconv.Atoi(frac)
		if err != nil {
			return 0
		}
		return secs*100 + cs
	}

	cs, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return cs
}

// FormatCentiseconds renders centiseconds as "secs.centiseconds", the
// display format scoreboards expect.
func FormatCentiseconds(cs int) string {
	if cs < 0 {
		cs = 0
	}
	return strconv.Itoa(cs/100) + "." + pad2(cs%100)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

package filesource

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Sections are the logical parts of the results export that downstream
// caches invalidate independently.
var Sections = []string{"Participants", "Schedule", "Results", "Classes"}

// Differ reports which logical sections of the export changed between reads.
// A whole-file hash short-circuits the common no-change case before any
// parsing happens.
type Differ struct {
	mu       sync.Mutex
	fileHash string
	sections map[string]string // section name → subtree hash
}

func NewDiffer() *Differ {
	return &Differ{sections: make(map[string]string)}
}

// Check reads the file at path and returns the names of sections whose
// content changed since the previous successful check, sorted. The very
// first read reports every section present in the file. A nil result means
// nothing changed.
func (d *Differ) Check(path string) ([]string, error) {
	data, err := os.ReadFile(NormalizePath(path))
	if err != nil {
		return nil, fmt.Errorf("differ read %s: %w", path, err)
	}
	return d.CheckContent(string(data))
}

// CheckContent is Check for already-loaded content.
func (d *Differ) CheckContent(content string) ([]string, error) {
	whole := hashString(content)

	d.mu.Lock()
	defer d.mu.Unlock()

	if whole == d.fileHash {
		return nil, nil
	}

	current, err := sectionHashes(content)
	if err != nil {
		return nil, err
	}

	var changed []string
	for name, hash := range current {
		if prev, ok := d.sections[name]; !ok || prev != hash {
			changed = append(changed, name)
		}
	}
	// A section that disappeared counts as changed too.
	for name := range d.sections {
		if _, ok := current[name]; !ok {
			changed = append(changed, name)
		}
	}

	d.fileHash = whole
	d.sections = current

	sort.Strings(changed)
	return changed, nil
}

// Reset forgets all hashes; the next check reports every present section.
func (d *Differ) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fileHash = ""
	d.sections = make(map[string]string)
}

// sectionHashes walks the root's direct children and hashes the subtree of
// each recognized section.
func sectionHashes(content string) (map[string]string, error) {
	known := make(map[string]bool, len(Sections))
	for _, s := range Sections {
		known[s] = true
	}

	hashes := make(map[string]string)
	dec := xml.NewDecoder(strings.NewReader(content))

	// Find the root.
	var inRoot bool
	for {
		tok, err := dec.Token()
		if err != nil {
			if !inRoot {
				return nil, fmt.Errorf("differ parse: %w", err)
			}
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !inRoot {
			inRoot = true
			continue
		}
		if !known[start.Name.Local] {
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("differ skip %s: %w", start.Name.Local, err)
			}
			continue
		}

		var sub struct {
			InnerXML string `xml:",innerxml"`
		}
		if err := dec.DecodeElement(&sub, &start); err != nil {
			return nil, fmt.Errorf("differ decode %s: %w", start.Name.Local, err)
		}
		// Attributes participate in the hash so attribute-only edits are
		// still detected.
		var attrs strings.Builder
		for _, a := range start.Attr {
			attrs.WriteString(a.Name.Local)
			attrs.WriteByte('=')
			attrs.WriteString(a.Value)
			attrs.WriteByte(';')
		}
		hashes[start.Name.Local] = hashString(attrs.String() + sub.InnerXML)
	}

	return hashes, nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Package export renders what the companion knows about a user into portable formats.
package export

import (
	"fmt"
	"slices"
	"time"

	"github.com/memvra/companion/internal/memory"
	"github.com/memvra/companion/internal/profile"
	"github.com/memvra/companion/internal/timeline"
)

// ExportData is passed to every Exporter.
type ExportData struct {
	UserID     string
	Profile    profile.UserContext
	Timeline   timeline.Timeline
	Memories   []memory.Memory
	ExportedAt time.Time
}

// Exporter renders ExportData to a string in a specific format.
type Exporter interface {
	Export(data ExportData) (string, error)
}

// registry maps format names to Exporter implementations.
var registry = map[string]Exporter{
	"markdown": &MarkdownExporter{},
	"json":     &JSONExporter{},
}

// Get returns the Exporter registered under name, and whether it was found.
func Get(name string) (Exporter, bool) {
	e, ok := registry[name]
	return e, ok
}

// ValidFormats returns the supported export format names, sorted.
func ValidFormats() []string {
	formats := make([]string, 0, len(registry))
	for k := range registry {
		formats = append(formats, k)
	}
	slices.Sort(formats)
	return formats
}

// contexts returns the distinct memory context labels in first-seen order.
func contexts(memories []memory.Memory) []string {
	var out []string
	for _, m := range memories {
		if !slices.Contains(out, m.Context) {
			out = append(out, m.Context)
		}
	}
	return out
}

// memorySection renders the memories filed under label as a markdown list block.
func memorySection(label string, memories []memory.Memory, now time.Time) string {
	var items []memory.Memory
	for _, m := range memories {
		if m.Context == label {
			items = append(items, m)
		}
	}
	if len(items) == 0 {
		return ""
	}
	heading := label
	if heading == "" {
		heading = "other"
	}
	out := fmt.Sprintf("### %s\n\n", heading)
	for _, m := range items {
		out += fmt.Sprintf("- **%s** (%d/10): %s", m.Topic, m.Importance, m.Content)
		if m.Deferred(now) {
			out += fmt.Sprintf(" _(not before %s)_", m.RemindAfter.Format("2006-01-02"))
		}
		out += "\n"
	}
	out += "\n"
	return out
}

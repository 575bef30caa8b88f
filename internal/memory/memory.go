// Package memory stores the things a user said that are worth bringing up again.
package memory

import (
	"slices"
	"sort"
	"time"

	"github.com/memvra/companion/internal/analysis"
)

// Memory is a single stored memory record.
type Memory struct {
	ID          string     `json:"id"`
	Topic       string     `json:"topic"`
	Content     string     `json:"content"`
	Context     string     `json:"context"`
	Importance  int        `json:"importance"`
	CreatedAt   time.Time  `json:"createdAt"`
	RemindAfter *time.Time `json:"remindAfter"`
}

// Deferred reports whether m must not be raised before its reminder time.
func (m Memory) Deferred(now time.Time) bool {
	return m.RemindAfter != nil && now.Before(*m.RemindAfter)
}

// Discussable returns the memories that may be raised at now, in order.
func Discussable(mems []Memory, now time.Time) []Memory {
	out := make([]Memory, 0, len(mems))
	for _, m := range mems {
		if !m.Deferred(now) {
			out = append(out, m)
		}
	}
	return out
}

// Deferred returns the memories still waiting for their reminder time.
func Deferred(mems []Memory, now time.Time) []Memory {
	var out []Memory
	for _, m := range mems {
		if m.Deferred(now) {
			out = append(out, m)
		}
	}
	return out
}

// ByImportance returns mems sorted most important first. Ties keep their order.
func ByImportance(mems []Memory) []Memory {
	out := slices.Clone(mems)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out
}

// Trim keeps the max most important memories.
func Trim(mems []Memory, max int) []Memory {
	out := ByImportance(mems)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// classify returns the context label and importance floor for a topic.
func classify(topic string) (label string, floor int) {
	switch analysis.CategoryForTopic(topic) {
	case analysis.CategoryBirth:
		return "birth in the family", 10
	case analysis.CategoryWedding:
		return "wedding in the family", 10
	case analysis.CategoryDeath:
		return "bereavement", 10
	case analysis.CategoryHealth:
		return "health concern", 8
	case analysis.CategoryFamily:
		return "family news", 7
	case analysis.CategoryTravel:
		return "travel plans", 0
	case analysis.CategoryMood:
		return "how they feel", 0
	case analysis.CategoryHobby:
		return "hobbies", 0
	}
	return "conversation", 0
}

func clampImportance(v int) int {
	return min(max(v, 0), 10)
}

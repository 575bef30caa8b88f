package export

import (
	"encoding/json"
	"time"

	"github.com/memvra/companion/internal/memory"
)

// JSONExporter renders ExportData as structured JSON.
type JSONExporter struct{}

type jsonOutput struct {
	UserID     string                  `json:"user_id"`
	ExportedAt time.Time               `json:"exported_at"`
	Profile    jsonProfile             `json:"profile"`
	Timeline   jsonTimeline            `json:"timeline"`
	Memories   map[string][]jsonMemory `json:"memories"`
}

type jsonProfile struct {
	FirstName    string     `json:"first_name,omitempty"`
	IsSick       bool       `json:"is_sick"`
	SickSince    *time.Time `json:"sick_since,omitempty"`
	IsAlone      bool       `json:"is_alone"`
	Mood         string     `json:"mood,omitempty"`
	LastEvent    string     `json:"last_event,omitempty"`
	LastEventAt  *time.Time `json:"last_event_at,omitempty"`
	LastModified time.Time  `json:"last_updated"`
}

type jsonTimeline struct {
	Planned  []string `json:"planned"`
	Ongoing  []string `json:"ongoing"`
	Finished []string `json:"finished"`
}

type jsonMemory struct {
	ID          string     `json:"id"`
	Topic       string     `json:"topic"`
	Content     string     `json:"content"`
	Importance  int        `json:"importance"`
	CreatedAt   time.Time  `json:"created_at"`
	RemindAfter *time.Time `json:"remind_after,omitempty"`
}

func (e *JSONExporter) Export(data ExportData) (string, error) {
	p := data.Profile
	prof := jsonProfile{
		FirstName:    p.FirstName,
		IsSick:       p.Health.IsSick,
		IsAlone:      p.Situation.IsAlone,
		Mood:         p.Mood.Current,
		LastModified: p.LastUpdated,
	}
	if p.Health.IsSick && !p.Health.Since.IsZero() {
		since := p.Health.Since
		prof.SickSince = &since
	}
	if ev := p.RecentImportantEvent; ev != nil {
		prof.LastEvent = ev.Topic
		at := ev.At
		prof.LastEventAt = &at
	}

	out := jsonOutput{
		UserID:     data.UserID,
		ExportedAt: data.ExportedAt,
		Profile:    prof,
		Timeline: jsonTimeline{
			Planned:  nonNil(data.Timeline.Future),
			Ongoing:  nonNil(data.Timeline.Present),
			Finished: nonNil(data.Timeline.Past),
		},
		Memories: groupMemoriesByContext(data.Memories),
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func groupMemoriesByContext(memories []memory.Memory) map[string][]jsonMemory {
	groups := make(map[string][]jsonMemory)
	for _, m := range memory.ByImportance(memories) {
		groups[m.Context] = append(groups[m.Context], jsonMemory{
			ID:          m.ID,
			Topic:       m.Topic,
			Content:     m.Content,
			Importance:  m.Importance,
			CreatedAt:   m.CreatedAt,
			RemindAfter: m.RemindAfter,
		})
	}
	return groups
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

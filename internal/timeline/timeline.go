// Package timeline tracks, per user, which activities they talked about as
// upcoming, done or ongoing.
package timeline

import (
	"slices"
	"time"
)

// Timeline is one user's activity state. An activity name is in at most one
// of Future, Past and Present.
type Timeline struct {
	Future  []string `json:"future"`
	Past    []string `json:"past"`
	Present []string `json:"present"`

	LastUpdated     time.Time `json:"lastUpdated"`
	LastMessageTime time.Time `json:"lastMessageTime"`

	HasGreeted  bool   `json:"hasGreeted"`
	IsJoking    bool   `json:"isJoking"`
	JokeContent string `json:"jokeContent,omitempty"`

	ConversationContext string `json:"conversationContext,omitempty"`
	PreviousContext     string `json:"previousContext,omitempty"`
	// LastActivity is the most recently mentioned activity.
	LastActivity string `json:"lastActivity,omitempty"`
}

// Bucket returns the tense an activity is filed under, or TenseUnknown.
func (t Timeline) Bucket(activity string) Tense {
	switch {
	case slices.Contains(t.Future, activity):
		return TenseFuture
	case slices.Contains(t.Past, activity):
		return TensePast
	case slices.Contains(t.Present, activity):
		return TensePresent
	}
	return TenseUnknown
}

// Empty reports whether no activity has been recorded.
func (t Timeline) Empty() bool {
	return len(t.Future) == 0 && len(t.Past) == 0 && len(t.Present) == 0
}

// Clone returns a deep copy.
func (t Timeline) Clone() Timeline {
	t.Future = slices.Clone(t.Future)
	t.Past = slices.Clone(t.Past)
	t.Present = slices.Clone(t.Present)
	return t
}

// file moves activity into the bucket for tense.
func (t *Timeline) file(activity string, tense Tense) {
	t.forget(activity)
	switch tense {
	case TensePast:
		t.Past = append(t.Past, activity)
	case TensePresent:
		t.Present = append(t.Present, activity)
	default:
		t.Future = append(t.Future, activity)
	}
}

func (t *Timeline) forget(activity string) {
	t.Future = remove(t.Future, activity)
	t.Past = remove(t.Past, activity)
	t.Present = remove(t.Present, activity)
}

func remove(s []string, v string) []string {
	return slices.DeleteFunc(s, func(x string) bool { return x == v })
}

// Package profile keeps the per-user background facts (health, situation,
// mood, latest important event) that the prompt leans on.
package profile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/kv"
)

// DefaultFreshness is how long a cached context is trusted.
const DefaultFreshness = 5 * time.Minute

// Mood values.
const (
	MoodNeutral  = "neutral"
	MoodPositive = "positive"
	MoodNegative = "negative"
)

type Health struct {
	IsSick bool      `json:"isSick"`
	Since  time.Time `json:"since,omitempty"`
}

type Situation struct {
	IsAlone bool `json:"isAlone"`
}

type Mood struct {
	Current string `json:"current"`
}

// Event is a memory important enough to headline the user's context.
type Event struct {
	Topic   string    `json:"topic"`
	Content string    `json:"content"`
	Context string    `json:"context"`
	At      time.Time `json:"at"`
}

// UserContext is one user's accumulated background.
type UserContext struct {
	Health               Health    `json:"health"`
	Situation            Situation `json:"situation"`
	Mood                 Mood      `json:"mood"`
	RecentImportantEvent *Event    `json:"recentImportantEvent,omitempty"`
	FirstName            string    `json:"firstName,omitempty"`
	LastUpdated          time.Time `json:"lastUpdated"`
}

// Default returns the empty context created on first access.
func Default(now time.Time) UserContext {
	return UserContext{Mood: Mood{Current: MoodNeutral}, LastUpdated: now}
}

// Patch lists the fields to change. Nil fields are left alone.
type Patch struct {
	IsSick               *bool
	IsAlone              *bool
	Mood                 *string
	RecentImportantEvent *Event
	FirstName            *string
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.IsSick == nil && p.IsAlone == nil && p.Mood == nil &&
		p.RecentImportantEvent == nil && p.FirstName == nil
}

// Apply merges p into c.
func (c UserContext) Apply(p Patch, now time.Time) UserContext {
	if p.IsSick != nil {
		if *p.IsSick && !c.Health.IsSick {
			c.Health.Since = now
		}
		c.Health.IsSick = *p.IsSick
		if !c.Health.IsSick {
			c.Health.Since = time.Time{}
		}
	}
	if p.IsAlone != nil {
		c.Situation.IsAlone = *p.IsAlone
	}
	if p.Mood != nil {
		c.Mood.Current = *p.Mood
	}
	if p.RecentImportantEvent != nil {
		ev := *p.RecentImportantEvent
		c.RecentImportantEvent = &ev
	}
	if p.FirstName != nil {
		c.FirstName = *p.FirstName
	}
	c.LastUpdated = now
	return c
}

// FromAnalysis turns what a message revealed into a patch. Only positive
// signals are recorded, so a message that doesn't mention health keeps the
// earlier state.
func FromAnalysis(a analysis.Analysis) Patch {
	var p Patch
	if a.Health.IsSick {
		p.IsSick = ptr(true)
	}
	if a.Situation.IsAlone {
		p.IsAlone = ptr(true)
	}
	switch {
	case a.Mood.IsNegative:
		p.Mood = ptr(MoodNegative)
	case a.Mood.IsPositive:
		p.Mood = ptr(MoodPositive)
	}
	return p
}

func ptr[T any](v T) *T { return &v }

// Key is the store key for a user's context.
func Key(userID string) string { return "context:" + userID }

// Resolver reads and merges user contexts through the kv tiers.
type Resolver struct {
	contexts *kv.Resolver[UserContext]
	now      func() time.Time
	log      zerolog.Logger
}

// NewResolver creates a Resolver over tiers.
func NewResolver(tiers kv.Tiers, freshness time.Duration, log zerolog.Logger) *Resolver {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Resolver{
		contexts: kv.NewResolver[UserContext](tiers, freshness, log),
		now:      time.Now,
		log:      log,
	}
}

// WithClock overrides the clock used for timestamps.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Get returns the user's context, creating and saving the default one when
// no tier has it.
func (r *Resolver) Get(ctx context.Context, userID string) UserContext {
	uc, src, err := r.contexts.Lookup(ctx, Key(userID))
	if src != kv.SourceNone {
		return uc
	}
	uc = Default(r.now())
	if err != nil {
		// A stored context may exist behind the failing tier; do not replace it.
		return uc
	}
	if err := r.contexts.Put(ctx, Key(userID), uc); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("profile: save default context")
	}
	return uc
}

// Update merges patch into the user's context. It reports false when the
// local write failed or the current context could not be read from any tier;
// the remote copy is updated in the background.
func (r *Resolver) Update(ctx context.Context, userID string, patch Patch) bool {
	_, err := r.contexts.Merge(ctx, Key(userID), func(cur UserContext, found bool) UserContext {
		if !found {
			cur = Default(r.now())
		}
		return cur.Apply(patch, r.now())
	})
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("profile: update context")
		return false
	}
	return true
}

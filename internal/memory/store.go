package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memvra/companion/internal/adapter"
	"github.com/memvra/companion/internal/kv"
	"github.com/memvra/companion/internal/profile"
)

// Defaults for Options.
const (
	DefaultFreshness          = 2 * time.Minute
	DefaultDedupWindow        = 7 * 24 * time.Hour
	DefaultMaxEntries         = 20
	DefaultImportantThreshold = 8
)

// Key is the store key for a user's memory list.
func Key(userID string) string { return "memories:" + userID }

// EventSink receives memories important enough to headline the user's context.
type EventSink interface {
	Update(ctx context.Context, userID string, patch profile.Patch) bool
}

// Options configures a Store. Zero values select the defaults; Events,
// Embedder and Vectors are optional.
type Options struct {
	Tiers              kv.Tiers
	Freshness          time.Duration
	DedupWindow        time.Duration
	MaxEntries         int
	ImportantThreshold int
	Events             EventSink
	Embedder           adapter.Embedder
	Vectors            *VectorStore
	Now                func() time.Time
	Logger             zerolog.Logger
}

// Store keeps each user's capped, deduplicated memory list.
type Store struct {
	memories  *kv.Resolver[[]Memory]
	dedup     time.Duration
	max       int
	important int
	events    EventSink
	embedder  adapter.Embedder
	vectors   *VectorStore
	ranker    *Ranker
	now       func() time.Time
	log       zerolog.Logger
}

// NewStore creates a Store.
func NewStore(opts Options) *Store {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.ImportantThreshold <= 0 {
		opts.ImportantThreshold = DefaultImportantThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		memories:  kv.NewResolver[[]Memory](opts.Tiers, opts.Freshness, opts.Logger),
		dedup:     opts.DedupWindow,
		max:       opts.MaxEntries,
		important: opts.ImportantThreshold,
		events:    opts.Events,
		embedder:  opts.Embedder,
		vectors:   opts.Vectors,
		ranker:    NewRanker(),
		now:       opts.Now,
		log:       opts.Logger,
	}
}

// Fetch returns the user's memories, most important first. It never fails:
// when no tier answers the list is empty.
func (s *Store) Fetch(ctx context.Context, userID string) []Memory {
	mems, _ := s.memories.Get(ctx, Key(userID))
	if mems == nil {
		return []Memory{}
	}
	return mems
}

// Remember stores a memory about topic unless one with the same topic was
// created inside the dedup window. It reports whether the new memory is in the
// stored list: false also covers a missing user or topic (logged, not an
// error) and a memory outranked by a full list. The error is reserved for
// storage failures, including a read that could not reach any tier.
func (s *Store) Remember(ctx context.Context, userID, topic, content string, importance int) (bool, error) {
	topic = strings.TrimSpace(topic)
	if userID == "" || topic == "" {
		s.log.Warn().Str("user_id", userID).Str("topic", topic).Msg("memory: user and topic are required")
		return false, nil
	}
	now := s.now()
	m := s.build(topic, strings.TrimSpace(content), importance, now)

	var (
		dropped   []string
		outranked bool
	)
	_, wrote, err := s.memories.Modify(ctx, Key(userID), func(cur []Memory, _ bool) ([]Memory, bool) {
		if s.recent(cur, topic, now) {
			return cur, false
		}
		next := Trim(append(append([]Memory(nil), cur...), m), s.max)
		if !slices.ContainsFunc(next, func(x Memory) bool { return x.ID == m.ID }) {
			outranked = true
			return cur, false
		}
		dropped = missing(cur, next)
		return next, true
	})
	if err != nil {
		return false, fmt.Errorf("memory: store %q for %s: %w", topic, userID, err)
	}
	if outranked {
		s.log.Debug().Str("user_id", userID).Str("topic", topic).Int("importance", m.Importance).Msg("memory: outranked by stored memories")
		return false, nil
	}
	if !wrote {
		s.log.Debug().Str("user_id", userID).Str("topic", topic).Msg("memory: duplicate topic skipped")
		return false, nil
	}

	if m.Importance >= s.important && s.events != nil {
		s.events.Update(ctx, userID, profile.Patch{RecentImportantEvent: &profile.Event{
			Topic:   m.Topic,
			Content: m.Content,
			Context: m.Context,
			At:      m.CreatedAt,
		}})
	}

	// Embeddings are best-effort; ranking falls back to importance without them.
	if s.vectors.Enabled() {
		_ = s.vectors.Delete(ctx, dropped...)
		s.embed(ctx, userID, m)
	}
	return true, nil
}

// Knows reports whether the user has a memory about topic inside the dedup window.
func (s *Store) Knows(ctx context.Context, userID, topic string) bool {
	return s.recent(s.Fetch(ctx, userID), strings.TrimSpace(topic), s.now())
}

// Forget removes the memory with id from the user's list. It reports whether
// anything was removed.
func (s *Store) Forget(ctx context.Context, userID, id string) (bool, error) {
	if userID == "" || id == "" {
		return false, fmt.Errorf("memory: user and id are required")
	}
	_, wrote, err := s.memories.Modify(ctx, Key(userID), func(cur []Memory, _ bool) ([]Memory, bool) {
		next := make([]Memory, 0, len(cur))
		for _, m := range cur {
			if m.ID != id {
				next = append(next, m)
			}
		}
		return next, len(next) != len(cur)
	})
	if err != nil {
		return false, fmt.Errorf("memory: forget %s for %s: %w", id, userID, err)
	}
	if wrote && s.vectors.Enabled() {
		_ = s.vectors.Delete(ctx, id)
	}
	return wrote, nil
}

func (s *Store) build(topic, content string, importance int, now time.Time) Memory {
	label, floor := classify(topic)
	return Memory{
		ID:          uuid.NewString(),
		Topic:       topic,
		Content:     content,
		Context:     label,
		Importance:  clampImportance(max(importance, floor)),
		CreatedAt:   now,
		RemindAfter: ParseDelay(content, now),
	}
}

// recent reports whether a memory about topic was created inside the dedup
// window. Deferred memories count.
func (s *Store) recent(mems []Memory, topic string, now time.Time) bool {
	for _, m := range mems {
		if strings.EqualFold(m.Topic, topic) && now.Sub(m.CreatedAt) < s.dedup {
			return true
		}
	}
	return false
}

func missing(before, after []Memory) []string {
	kept := make(map[string]bool, len(after))
	for _, m := range after {
		kept[m.ID] = true
	}
	var out []string
	for _, m := range before {
		if !kept[m.ID] {
			out = append(out, m.ID)
		}
	}
	return out
}

func (s *Store) embed(ctx context.Context, userID string, m Memory) {
	if s.embedder == nil {
		return
	}
	vecs, err := s.embedder.Embed(ctx, []string{m.Topic + ": " + m.Content})
	if err != nil || len(vecs) == 0 {
		s.log.Debug().Err(err).Str("memory_id", m.ID).Msg("memory: embedding skipped")
		return
	}
	if err := s.vectors.Upsert(ctx, userID, m.ID, vecs[0]); err != nil {
		s.log.Warn().Err(err).Str("memory_id", m.ID).Msg("memory: store embedding")
	}
}

// Relevant orders mems by fit to message. Without an embedder or vector
// index it returns them by importance.
func (s *Store) Relevant(ctx context.Context, userID, message string, mems []Memory) []Memory {
	if len(mems) < 2 || s.embedder == nil || !s.vectors.Enabled() || strings.TrimSpace(message) == "" {
		return s.ranker.Order(mems, nil)
	}
	vecs, err := s.embedder.Embed(ctx, []string{message})
	if err != nil || len(vecs) == 0 {
		return s.ranker.Order(mems, nil)
	}
	sims, err := s.vectors.Search(ctx, userID, vecs[0], len(mems))
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("memory: similarity search")
		return s.ranker.Order(mems, nil)
	}
	return s.ranker.Order(mems, sims)
}

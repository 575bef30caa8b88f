// Package collector sweeps a user's recent conversations for things worth
// remembering that the per-turn path may have missed.
package collector

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/conversation"
	"github.com/memvra/companion/internal/kv"
)

// Defaults for Options.
const (
	DefaultInterval                = 30 * time.Minute
	DefaultMessagesPerConversation = 15
	DefaultMinScore                = 5
	DefaultMinLength               = 10
	DefaultConcurrency             = 4
)

// Key is the last-run timestamp key for a user.
func Key(userID string) string { return "collector:last_run:" + userID }

// Conversations is the slice of conversation.Store the collector reads.
type Conversations interface {
	ConversationsFor(ctx context.Context, userID string) ([]string, error)
	Recent(ctx context.Context, id string, limit int, order conversation.Order) ([]conversation.Message, error)
}

// Memories persists what the sweep found. memory.Store satisfies it.
type Memories interface {
	Remember(ctx context.Context, userID, topic, content string, importance int) (bool, error)
}

// Options configures a Collector. Zero values select the defaults.
type Options struct {
	Conversations Conversations
	Memories      Memories
	// Tiers hold the last-run timestamps.
	Tiers                   kv.Tiers
	Interval                time.Duration
	MessagesPerConversation int
	// MinScore is exclusive: only scores above it are kept.
	MinScore    int
	MinLength   int
	Concurrency int
	Now         func() time.Time
	Logger      zerolog.Logger
}

// Result summarizes one sweep.
type Result struct {
	Skipped       bool `json:"skipped"`
	Conversations int  `json:"conversations"`
	Scanned       int  `json:"scanned"`
	Candidates    int  `json:"candidates"`
	Stored        int  `json:"stored"`
}

// Collector runs sweeps. It is safe for concurrent use.
type Collector struct {
	convs    Conversations
	memories Memories
	lastRun  *kv.Resolver[time.Time]
	interval time.Duration
	perConv  int
	minScore int
	minLen   int
	workers  int
	now      func() time.Time
	log      zerolog.Logger
	flight   singleflight.Group
}

// New creates a Collector.
func New(opts Options) *Collector {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MessagesPerConversation <= 0 {
		opts.MessagesPerConversation = DefaultMessagesPerConversation
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Collector{
		convs:    opts.Conversations,
		memories: opts.Memories,
		lastRun:  kv.NewResolver[time.Time](opts.Tiers, opts.Interval, opts.Logger),
		interval: opts.Interval,
		perConv:  opts.MessagesPerConversation,
		minScore: opts.MinScore,
		minLen:   opts.MinLength,
		workers:  opts.Concurrency,
		now:      opts.Now,
		log:      opts.Logger,
	}
}

// Sweep collects memories for userID unless a sweep ran within the interval.
// Concurrent calls for the same user share one run. Errors are logged, never
// returned.
func (c *Collector) Sweep(ctx context.Context, userID string) Result {
	return c.do(ctx, userID, false)
}

// SweepNow is Sweep without the rate limit. It still records the run.
func (c *Collector) SweepNow(ctx context.Context, userID string) Result {
	return c.do(ctx, userID, true)
}

func (c *Collector) do(ctx context.Context, userID string, force bool) Result {
	if userID == "" {
		c.log.Warn().Str("op", "sweep").Msg("collector: missing user id")
		return Result{Skipped: true}
	}
	v, _, _ := c.flight.Do(userID, func() (any, error) {
		if !c.claim(ctx, userID, force) {
			return Result{Skipped: true}, nil
		}
		return c.sweep(ctx, userID), nil
	})
	return v.(Result)
}

// claim records a run for userID now, unless one is recorded within the
// interval and force is false.
func (c *Collector) claim(ctx context.Context, userID string, force bool) bool {
	now := c.now()
	_, claimed, err := c.lastRun.Modify(ctx, Key(userID), func(last time.Time, found bool) (time.Time, bool) {
		if !force && found && now.Sub(last) < c.interval {
			return last, false
		}
		return now, true
	})
	if err != nil {
		// Without a durable timestamp the sweep still runs; downstream dedup absorbs repeats.
		c.log.Warn().Err(err).Str("user_id", userID).Str("op", "sweep").Msg("collector: record last run")
		return true
	}
	return claimed
}

type candidate struct {
	score   analysis.TopicScore
	content string
}

func (c *Collector) sweep(ctx context.Context, userID string) Result {
	var res Result
	ids, err := c.convs.ConversationsFor(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Str("op", "sweep").Msg("collector: list conversations")
		return res
	}
	res.Conversations = len(ids)

	var mu sync.Mutex
	best := make(map[string]candidate)
	scanned := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, id := range ids {
		g.Go(func() error {
			msgs, err := c.convs.Recent(gctx, id, c.perConv, conversation.Descending)
			if err != nil {
				c.log.Warn().Err(err).Str("user_id", userID).Str("conversation_id", id).Msg("collector: read messages")
				return nil
			}
			found := c.scan(userID, msgs)
			mu.Lock()
			defer mu.Unlock()
			scanned += len(msgs)
			for topic, cand := range found {
				if cur, ok := best[topic]; !ok || cand.score.Score > cur.score.Score {
					best[topic] = cand
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Scanned = scanned
	res.Candidates = len(best)

	topics := make([]string, 0, len(best))
	for t := range best {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, t := range topics {
		cand := best[t]
		ok, err := c.memories.Remember(ctx, userID, cand.score.Topic, cand.content, cand.score.Score)
		if err != nil {
			c.log.Warn().Err(err).Str("user_id", userID).Str("topic", t).Msg("collector: remember")
			continue
		}
		if ok {
			res.Stored++
		}
	}
	c.log.Debug().Str("user_id", userID).
		Int("conversations", res.Conversations).
		Int("candidates", res.Candidates).
		Int("stored", res.Stored).
		Msg("collector: sweep done")
	return res
}

// scan scores the user's own text messages, newest first, and keeps the best
// candidate per topic. On equal scores the newer message wins.
func (c *Collector) scan(userID string, msgs []conversation.Message) map[string]candidate {
	out := make(map[string]candidate)
	for _, m := range msgs {
		if m.SenderID != userID || m.Type == conversation.TypeImage {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if utf8.RuneCountInString(text) < c.minLen {
			continue
		}
		s := analysis.Score(text)
		if s.Score <= c.minScore {
			continue
		}
		key := strings.ToLower(s.Topic)
		if cur, ok := out[key]; ok && cur.score.Score >= s.Score {
			continue
		}
		out[key] = candidate{score: s, content: text}
	}
	return out
}

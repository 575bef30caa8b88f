package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/companion/internal/conversation"
	"github.com/memvra/companion/internal/db"
	"github.com/memvra/companion/internal/kv"
	"github.com/memvra/companion/internal/memory"
)

type remembered struct {
	topic, content string
	importance     int
}

type recorder struct {
	mu    sync.Mutex
	calls []remembered
}

func (r *recorder) Remember(_ context.Context, _, topic, content string, importance int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, remembered{topic, content, importance})
	return true, nil
}

func (r *recorder) snapshot() []remembered {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]remembered(nil), r.calls...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "companion.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

// seed writes two conversations for u1 and one for u2.
func seed(t *testing.T, store *conversation.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	add := func(a, b string, msgs ...conversation.Message) {
		id, err := store.Ensure(ctx, a, b)
		require.NoError(t, err)
		for _, m := range msgs {
			_, err := store.Append(ctx, id, m)
			require.NoError(t, err)
		}
	}
	at := func(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

	add("u1", "lea",
		conversation.Message{SenderID: "u1", Content: "I have been so sick this week", CreatedAt: at(1)},
		conversation.Message{SenderID: "lea", Content: "Oh no, did you see a doctor?", CreatedAt: at(2)},
		conversation.Message{SenderID: "u1", Content: "ok", CreatedAt: at(3)},
		conversation.Message{SenderID: "u1", Content: "I love knitting scarves", CreatedAt: at(4)},
		conversation.Message{SenderID: "u1", Content: "I feel sad today", CreatedAt: at(5)},
	)
	add("u1", "max",
		conversation.Message{SenderID: "u1", Content: "My cousin had a baby yesterday!", CreatedAt: at(1)},
		conversation.Message{SenderID: "u1", Content: "My cousin had a baby, she is called Rose", CreatedAt: at(2)},
		conversation.Message{SenderID: "u1", Content: "We are going on a trip next month", CreatedAt: at(3)},
		conversation.Message{SenderID: "u1", Content: "Photo of my family trip", Type: conversation.TypeImage, CreatedAt: at(4)},
	)
	add("u2", "lea",
		conversation.Message{SenderID: "u2", Content: "My sister got married last week", CreatedAt: at(1)},
	)
}

func newCollector(t *testing.T, mems Memories) (*Collector, *clock, *db.DB) {
	t.Helper()
	database := openDB(t)
	convs := conversation.NewSQLiteStore(database, zerolog.Nop())
	seed(t, convs)
	clk := &clock{now: t0.Add(time.Hour)}
	c := New(Options{
		Conversations: convs,
		Memories:      mems,
		Tiers:         kv.Tiers{Local: kv.NewSQLite(database)},
		Now:           clk.Now,
		Logger:        zerolog.Nop(),
	})
	return c, clk, database
}

func TestSweep_CollectsBestPerTopic(t *testing.T) {
	rec := &recorder{}
	c, _, _ := newCollector(t, rec)

	res := c.Sweep(context.Background(), "u1")
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Conversations)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 3, res.Stored)

	assert.Equal(t, []remembered{
		{"your cousin's baby", "My cousin had a baby, she is called Rose", 10},
		{"your health", "I have been so sick this week", 8},
		{"your trip", "We are going on a trip next month", 6},
	}, rec.snapshot())
}

func TestSweep_RateLimited(t *testing.T) {
	rec := &recorder{}
	c, clk, _ := newCollector(t, rec)
	ctx := context.Background()

	require.False(t, c.Sweep(ctx, "u1").Skipped)

	clk.Advance(10 * time.Minute)
	assert.True(t, c.Sweep(ctx, "u1").Skipped)
	assert.Len(t, rec.snapshot(), 3)

	assert.False(t, c.Sweep(ctx, "u2").Skipped, "users are limited independently")

	clk.Advance(21 * time.Minute)
	assert.False(t, c.Sweep(ctx, "u1").Skipped)
}

func TestSweepNow_IgnoresRateLimit(t *testing.T) {
	rec := &recorder{}
	c, _, _ := newCollector(t, rec)
	ctx := context.Background()

	c.Sweep(ctx, "u1")
	res := c.SweepNow(ctx, "u1")
	assert.False(t, res.Skipped)
	assert.Len(t, rec.snapshot(), 6)
}

func TestSweep_LastRunIsDurable(t *testing.T) {
	rec := &recorder{}
	c, clk, database := newCollector(t, rec)
	ctx := context.Background()
	c.Sweep(ctx, "u1")

	other := New(Options{
		Conversations: conversation.NewSQLiteStore(database, zerolog.Nop()),
		Memories:      rec,
		Tiers:         kv.Tiers{Local: kv.NewSQLite(database)},
		Now:           clk.Now,
		Logger:        zerolog.Nop(),
	})
	assert.True(t, other.Sweep(ctx, "u1").Skipped)
}

func TestSweep_ConcurrentCallsRunOnce(t *testing.T) {
	rec := &recorder{}
	c, _, _ := newCollector(t, rec)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Sweep(context.Background(), "u1")
		}()
	}
	wg.Wait()
	assert.Len(t, rec.snapshot(), 3)
}

func TestSweep_MemoryDedupRejectsRepeats(t *testing.T) {
	clk := &clock{now: t0.Add(time.Hour)}
	store := memory.NewStore(memory.Options{Now: clk.Now, Logger: zerolog.Nop()})
	c, _, _ := newCollector(t, store)
	ctx := context.Background()

	assert.Equal(t, 3, c.SweepNow(ctx, "u1").Stored)
	assert.Equal(t, 0, c.SweepNow(ctx, "u1").Stored)

	mems := store.Fetch(ctx, "u1")
	require.Len(t, mems, 3)
	assert.Equal(t, "your cousin's baby", mems[0].Topic)
	assert.Equal(t, "birth in the family", mems[0].Context)
}

type failingConversations struct{ listErr, readErr error }

func (f failingConversations) ConversationsFor(context.Context, string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []string{"broken-u1", "fine-u1"}, nil
}

func (f failingConversations) Recent(_ context.Context, id string, _ int, _ conversation.Order) ([]conversation.Message, error) {
	if id == "broken-u1" {
		return nil, f.readErr
	}
	return []conversation.Message{{SenderID: "u1", Content: "My sister got married last week"}}, nil
}

func TestSweep_ReadFailuresAreAbsorbed(t *testing.T) {
	rec := &recorder{}
	c := New(Options{
		Conversations: failingConversations{readErr: errors.New("disk")},
		Memories:      rec,
		Logger:        zerolog.Nop(),
	})
	res := c.Sweep(context.Background(), "u1")
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, "the wedding", rec.snapshot()[0].topic)

	c = New(Options{
		Conversations: failingConversations{listErr: errors.New("disk")},
		Memories:      rec,
		Logger:        zerolog.Nop(),
	})
	res = c.Sweep(context.Background(), "u1")
	assert.False(t, res.Skipped)
	assert.Zero(t, res.Stored)
}

func TestSweep_MissingUser(t *testing.T) {
	c := New(Options{Conversations: failingConversations{}, Memories: &recorder{}, Logger: zerolog.Nop()})
	assert.True(t, c.Sweep(context.Background(), "").Skipped)
}

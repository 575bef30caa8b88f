package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/db"
	"github.com/memvra/companion/internal/kv"
	"github.com/memvra/companion/internal/profile"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type eventRecorder struct {
	mu      sync.Mutex
	patches []profile.Patch
}

func (r *eventRecorder) Update(_ context.Context, _ string, p profile.Patch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, p)
	return true
}

type topicEmbedder struct{}

func (topicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "trip") {
			out[i] = []float32{1, 0, 0}
		} else {
			out[i] = []float32{0, 1, 0}
		}
	}
	return out, nil
}

type brokenStore struct{}

func (brokenStore) GetJSON(context.Context, string, any) (bool, error) { return false, errors.New("down") }
func (brokenStore) SetJSON(context.Context, string, any) error         { return errors.New("down") }

// flakyStore is a working tier whose reads can be made to fail.
type flakyStore struct {
	*kv.Cache
	getErr error
}

func (f *flakyStore) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if f.getErr != nil {
		return false, f.getErr
	}
	return f.Cache.GetJSON(ctx, key, dst)
}

func newStore(t *testing.T, opts Options) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
	if opts.Tiers.Local == nil {
		opts.Tiers.Local = kv.NewCache()
	}
	opts.Now = clk.Now
	opts.Logger = zerolog.Nop()
	return NewStore(opts), clk
}

func TestRemember_StoresAndFetches(t *testing.T) {
	s, clk := newStore(t, Options{})
	ctx := context.Background()

	ok, err := s.Remember(ctx, "u1", "your trip", "Going to Mexico with Paul", 6)
	require.NoError(t, err)
	require.True(t, ok)

	mems := s.Fetch(ctx, "u1")
	require.Len(t, mems, 1)
	m := mems[0]
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "your trip", m.Topic)
	assert.Equal(t, "travel plans", m.Context)
	assert.Equal(t, 6, m.Importance)
	assert.Equal(t, clk.now, m.CreatedAt)
	assert.Nil(t, m.RemindAfter)
}

func TestRemember_DedupWithinSevenDays(t *testing.T) {
	s, clk := newStore(t, Options{})
	ctx := context.Background()

	ok, err := s.Remember(ctx, "u1", "your health", "I have the flu", 8)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(time.Hour)
	ok, err = s.Remember(ctx, "u1", "your health", "Still coughing", 8)
	require.NoError(t, err)
	assert.False(t, ok, "same topic inside the window is rejected")
	assert.Len(t, s.Fetch(ctx, "u1"), 1)

	ok, _ = s.Remember(ctx, "u2", "your health", "Knee hurts", 8)
	assert.True(t, ok, "dedup is per user")

	clk.Advance(7 * 24 * time.Hour)
	ok, err = s.Remember(ctx, "u1", "your health", "Back to the doctor", 8)
	require.NoError(t, err)
	assert.True(t, ok, "window has passed")
}

func TestRemember_DeferredCountsForDedup(t *testing.T) {
	s, clk := newStore(t, Options{})
	ctx := context.Background()

	ok, _ := s.Remember(ctx, "u1", "your family", "My grandson visits next week", 7)
	require.True(t, ok)

	mems := s.Fetch(ctx, "u1")
	require.Len(t, mems, 1)
	require.NotNil(t, mems[0].RemindAfter)
	assert.Equal(t, clk.now.Add(7*24*time.Hour), *mems[0].RemindAfter)

	assert.Empty(t, Discussable(mems, clk.now), "deferred memories stay out of the active context")
	assert.Len(t, Deferred(mems, clk.now), 1)

	ok, _ = s.Remember(ctx, "u1", "your family", "He is bringing his dog", 7)
	assert.False(t, ok, "a deferred sibling still blocks the topic")

	clk.Advance(8 * 24 * time.Hour)
	assert.Len(t, Discussable(mems, clk.now), 1)
}

func TestRemember_CategoryFloors(t *testing.T) {
	tests := []struct {
		topic       string
		importance  int
		wantScore   int
		wantContext string
	}{
		{"your cousin's baby", 6, 10, "birth in the family"},
		{"the wedding", 2, 10, "wedding in the family"},
		{"the loss of a loved one", 9, 10, "bereavement"},
		{"your health", 5, 8, "health concern"},
		{"your family", 3, 7, "family news"},
		{"your hobbies", 4, 4, "hobbies"},
		{"quantum physics", 12, 10, "conversation"},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			s, _ := newStore(t, Options{})
			ok, err := s.Remember(context.Background(), "u1", tt.topic, "content", tt.importance)
			require.NoError(t, err)
			require.True(t, ok)
			m := s.Fetch(context.Background(), "u1")[0]
			assert.Equal(t, tt.wantScore, m.Importance)
			assert.Equal(t, tt.wantContext, m.Context)
		})
	}
}

func TestRemember_CapKeepsMostImportant(t *testing.T) {
	s, clk := newStore(t, Options{})
	ctx := context.Background()

	stored := map[string]bool{}
	for i := 0; i < 25; i++ {
		topic := fmt.Sprintf("topic %d", i)
		ok, err := s.Remember(ctx, "u1", topic, "content", i%11)
		require.NoError(t, err)
		stored[topic] = ok
		clk.Advance(time.Minute)
	}

	mems := s.Fetch(ctx, "u1")
	require.Len(t, mems, 20)

	kept := map[string]bool{}
	lowestKept := 10
	for _, m := range mems {
		kept[m.Topic] = true
		lowestKept = min(lowestKept, m.Importance)
	}
	for i := 0; i < 25; i++ {
		if !kept[fmt.Sprintf("topic %d", i)] {
			assert.LessOrEqual(t, i%11, lowestKept, "dropped topic %d outranks a kept one", i)
		}
	}
	for i := 1; i < len(mems); i++ {
		assert.GreaterOrEqual(t, mems[i-1].Importance, mems[i].Importance)
	}
	for topic, ok := range stored {
		if !ok {
			assert.False(t, kept[topic], "%s was reported as not stored", topic)
		}
	}
}

func TestRemember_OutrankedIsNotStored(t *testing.T) {
	s, clk := newStore(t, Options{})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		ok, err := s.Remember(ctx, "u1", fmt.Sprintf("topic %d", i), "content", 9)
		require.NoError(t, err)
		require.True(t, ok)
		clk.Advance(time.Minute)
	}
	before := s.Fetch(ctx, "u1")

	ok, err := s.Remember(ctx, "u1", "minor detail", "content", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	after := s.Fetch(ctx, "u1")
	require.Len(t, after, 20)
	assert.Equal(t, before, after)
	for _, m := range after {
		assert.NotEqual(t, "minor detail", m.Topic)
	}
	assert.False(t, s.Knows(ctx, "u1", "minor detail"))
	assert.True(t, s.Knows(ctx, "u1", "Topic 3"), "topics compare case-insensitively")
}

func TestRemember_RemoteOutageKeepsRemoteList(t *testing.T) {
	ctx := context.Background()
	remote := &flakyStore{Cache: kv.NewCache()}
	require.NoError(t, remote.SetJSON(ctx, Key("u1"), []Memory{
		{ID: "w", Topic: "the wedding", Importance: 10},
		{ID: "h", Topic: "your health", Importance: 8},
	}))
	remote.getErr = errors.New("connection reset")
	outbox := kv.NewOutbox(remote, 4, zerolog.Nop())

	s, _ := newStore(t, Options{Tiers: kv.Tiers{Local: kv.NewCache(), Remote: remote, Outbox: outbox}})
	ok, err := s.Remember(ctx, "u1", "your trip", "Going to Mexico", 6)
	assert.Error(t, err)
	assert.False(t, ok)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, outbox.Close(closeCtx))

	var got []Memory
	remote.getErr = nil
	found, err := remote.GetJSON(ctx, Key("u1"), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got, 2, "the remote list must not be replaced")
}

func TestRemember_ImportantEventReachesProfile(t *testing.T) {
	events := &eventRecorder{}
	s, _ := newStore(t, Options{Events: events})
	ctx := context.Background()

	_, _ = s.Remember(ctx, "u1", "your hobbies", "knitting", 4)
	assert.Empty(t, events.patches)

	score := analysis.Score("My cousin had a baby yesterday!")
	require.Equal(t, "your cousin's baby", score.Topic)
	ok, err := s.Remember(ctx, "u1", score.Topic, "My cousin had a baby yesterday!", score.Score)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, events.patches, 1)
	ev := events.patches[0].RecentImportantEvent
	require.NotNil(t, ev)
	assert.Equal(t, "birth in the family", ev.Context)
	assert.Equal(t, "your cousin's baby", ev.Topic)
}

func TestRemember_WithProfileResolver(t *testing.T) {
	profiles := profile.NewResolver(kv.Tiers{Local: kv.NewCache()}, 0, zerolog.Nop())
	s, _ := newStore(t, Options{Events: profiles})
	ctx := context.Background()

	_, err := s.Remember(ctx, "u1", "the wedding", "My granddaughter got married", 10)
	require.NoError(t, err)

	uc := profiles.Get(ctx, "u1")
	require.NotNil(t, uc.RecentImportantEvent)
	assert.Equal(t, "the wedding", uc.RecentImportantEvent.Topic)
}

func TestRemember_InvalidInputIsNotStored(t *testing.T) {
	s, _ := newStore(t, Options{})
	ctx := context.Background()

	ok, err := s.Remember(ctx, "u1", "  ", "x", 5)
	assert.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Remember(ctx, "", "topic", "x", 5)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.Fetch(ctx, "u1"))
}

func TestRemember_LocalFailureIsReturned(t *testing.T) {
	s, _ := newStore(t, Options{Tiers: kv.Tiers{Local: brokenStore{}}})
	ok, err := s.Remember(context.Background(), "u1", "your trip", "x", 6)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestForget(t *testing.T) {
	s, _ := newStore(t, Options{})
	ctx := context.Background()

	_, err := s.Remember(ctx, "u1", "your trip", "Going to Mexico with Paul", 6)
	require.NoError(t, err)
	_, err = s.Remember(ctx, "u1", "your health", "Flu since Monday", 8)
	require.NoError(t, err)

	mems := s.Fetch(ctx, "u1")
	require.Len(t, mems, 2)

	ok, err := s.Forget(ctx, "u1", mems[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	left := s.Fetch(ctx, "u1")
	require.Len(t, left, 1)
	assert.Equal(t, mems[1].ID, left[0].ID)

	ok, err = s.Forget(ctx, "u1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Forget(ctx, "", "x")
	assert.Error(t, err)
}

func TestFetch_TotalFailureIsEmpty(t *testing.T) {
	s, _ := newStore(t, Options{Tiers: kv.Tiers{Local: brokenStore{}, Remote: brokenStore{}}})
	mems := s.Fetch(context.Background(), "u1")
	assert.NotNil(t, mems)
	assert.Empty(t, mems)
}

func TestFetch_FallsBackToRemote(t *testing.T) {
	ctx := context.Background()
	remote := kv.NewCache()
	require.NoError(t, remote.SetJSON(ctx, Key("u1"), []Memory{{ID: "r1", Topic: "your trip", Importance: 6}}))

	s, _ := newStore(t, Options{Tiers: kv.Tiers{Local: brokenStore{}, Remote: remote}})
	mems := s.Fetch(ctx, "u1")
	require.Len(t, mems, 1)
	assert.Equal(t, "r1", mems[0].ID)
}

func TestRelevant_FallsBackToImportance(t *testing.T) {
	s, _ := newStore(t, Options{})
	mems := []Memory{{ID: "a", Importance: 6}, {ID: "b", Importance: 9}}
	out := s.Relevant(context.Background(), "u1", "anything", mems)
	assert.Equal(t, "b", out[0].ID)
}

func TestRelevant_UsesEmbeddings(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "mem.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	vectors := NewVectorStore(database)
	if !vectors.Enabled() {
		t.Skip("sqlite-vec not available")
	}

	s, _ := newStore(t, Options{Tiers: kv.Tiers{Local: kv.NewSQLite(database)}, Embedder: topicEmbedder{}, Vectors: vectors})
	ctx := context.Background()

	_, err = s.Remember(ctx, "u1", "your trip", "Going to Mexico", 6)
	require.NoError(t, err)
	_, err = s.Remember(ctx, "u1", "the new baby", "A granddaughter", 10)
	require.NoError(t, err)

	mems := s.Fetch(ctx, "u1")
	require.Equal(t, "the new baby", mems[0].Topic, "stored by importance")

	out := s.Relevant(ctx, "u1", "How was the trip?", mems)
	assert.Equal(t, "your trip", out[0].Topic)
}

func TestParseDelay(t *testing.T) {
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		content string
		want    time.Duration
		none    bool
	}{
		{content: "See the doctor tomorrow", want: day},
		{content: "Je vois le médecin demain", want: day},
		{content: "On part après-demain", want: 2 * day},
		{content: "My son comes next week", want: 7 * day},
		{content: "Ma fille vient la semaine prochaine", want: 7 * day},
		{content: "Surgery in 3 days", want: 3 * day},
		{content: "Résultats dans 10 jours", want: 10 * day},
		{content: "Moving in 2 weeks", want: 14 * day},
		{content: "Le mariage est le mois prochain", want: 30 * day},
		{content: "I feel fine", none: true},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got := ParseDelay(tt.content, now)
			if tt.none {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, now.Add(tt.want), *got)
		})
	}
}

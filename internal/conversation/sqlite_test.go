package conversation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/companion/internal/db"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "conv.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewSQLiteStore(database, zerolog.Nop())
}

func TestID_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, "alice-lea", ID("alice", "lea"))
	assert.Equal(t, ID("alice", "lea"), ID("lea", "alice"))
	assert.Equal(t, "a-a", ID("a", "a"))
}

func TestAppendAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	s.WithClock(func() time.Time { return now })

	id, err := s.Ensure(ctx, "user-1", "lea")
	require.NoError(t, err)
	assert.Equal(t, "lea-user-1", id)

	// Same timestamp for all three: insertion order breaks the tie.
	for _, text := range []string{"one", "two", "three"} {
		_, err := s.Append(ctx, id, Message{SenderID: "user-1", Content: text})
		require.NoError(t, err)
	}

	asc, err := s.Recent(ctx, id, 10, Ascending)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, []string{"one", "two", "three"}, contents(asc))
	assert.Equal(t, TypeText, asc[0].Type)
	assert.Equal(t, now, asc[0].CreatedAt)

	desc, err := s.Recent(ctx, id, 2, Descending)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two"}, contents(desc))
}

func TestRecent_OrdersByTimestampFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.Ensure(ctx, "u", "lea")
	require.NoError(t, err)

	t0 := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	_, err = s.Append(ctx, id, Message{SenderID: "u", Content: "later", CreatedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.Append(ctx, id, Message{SenderID: "u", Content: "earlier", CreatedAt: t0})
	require.NoError(t, err)

	msgs, err := s.Recent(ctx, id, 10, Ascending)
	require.NoError(t, err)
	assert.Equal(t, []string{"earlier", "later"}, contents(msgs))
}

func TestAppend_Validation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "", Message{SenderID: "u", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Append(ctx, "lea-u", Message{SenderID: "u", Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Append(ctx, "lea-u", Message{SenderID: "u", Content: "hello"})
	assert.ErrorIs(t, err, ErrUnknownConversation)

	_, err = s.Ensure(ctx, "", "lea")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAppend_ImageWithoutCaption(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.Ensure(ctx, "u", "lea")
	require.NoError(t, err)

	_, err = s.Append(ctx, id, Message{SenderID: "u", Type: TypeImage})
	require.NoError(t, err)
	msgs, _ := s.Recent(ctx, id, 1, Descending)
	assert.Equal(t, TypeImage, msgs[0].Type)
}

func TestConversationsFor(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Ensure(ctx, "u1", "lea")
	require.NoError(t, err)
	_, err = s.Ensure(ctx, "lea", "u1") // same conversation
	require.NoError(t, err)
	_, err = s.Ensure(ctx, "u1", "max")
	require.NoError(t, err)
	_, err = s.Ensure(ctx, "u2", "lea")
	require.NoError(t, err)

	ids, err := s.ConversationsFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lea-u1", "max-u1"}, ids)

	ids, err = s.ConversationsFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSubscribe_DeliversInitialAndAppends(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.Ensure(ctx, "u", "lea")
	require.NoError(t, err)
	_, err = s.Append(ctx, id, Message{SenderID: "u", Content: "before"})
	require.NoError(t, err)

	var mu sync.Mutex
	var last []Message
	deliveries := make(chan struct{}, 16)
	unsubscribe := s.Subscribe(id, func(msgs []Message) {
		mu.Lock()
		last = msgs
		mu.Unlock()
		deliveries <- struct{}{}
	})
	defer unsubscribe()

	waitDelivery(t, deliveries)
	mu.Lock()
	assert.Equal(t, []string{"before"}, contents(last))
	mu.Unlock()

	_, err = s.Append(ctx, id, Message{SenderID: "lea", Content: "after"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 2 && last[1].Content == "after"
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.Ensure(ctx, "u", "lea")
	require.NoError(t, err)

	deliveries := make(chan struct{}, 16)
	unsubscribe := s.Subscribe(id, func([]Message) { deliveries <- struct{}{} })
	waitDelivery(t, deliveries)

	unsubscribe()
	unsubscribe() // idempotent

	_, err = s.Append(ctx, id, Message{SenderID: "u", Content: "nobody listens"})
	require.NoError(t, err)

	select {
	case <-deliveries:
		t.Fatal("delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
	s.mu.Lock()
	assert.Empty(t, s.subs)
	s.mu.Unlock()
}

func waitDelivery(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

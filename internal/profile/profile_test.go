package profile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/kv"
)

type failingStore struct{ err error }

func (f failingStore) GetJSON(context.Context, string, any) (bool, error) { return false, f.err }
func (f failingStore) SetJSON(context.Context, string, any) error         { return f.err }

// unwritableStore reads normally and rejects every write.
type unwritableStore struct{ *kv.Cache }

func (unwritableStore) SetJSON(context.Context, string, any) error { return errors.New("unreachable") }

var t0 = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func newResolver(tiers kv.Tiers) *Resolver {
	return NewResolver(tiers, 0, zerolog.Nop()).WithClock(func() time.Time { return t0 })
}

func TestGet_CreatesAndPersistsDefault(t *testing.T) {
	local := kv.NewCache()
	r := newResolver(kv.Tiers{Local: local})

	uc := r.Get(context.Background(), "u1")
	assert.Equal(t, MoodNeutral, uc.Mood.Current)
	assert.Equal(t, t0, uc.LastUpdated)

	var stored UserContext
	ok, err := local.GetJSON(context.Background(), Key("u1"), &stored)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdate_MergesInsteadOfReplacing(t *testing.T) {
	r := newResolver(kv.Tiers{Local: kv.NewCache()})
	ctx := context.Background()

	require.True(t, r.Update(ctx, "u1", Patch{IsSick: ptr(true)}))
	require.True(t, r.Update(ctx, "u1", Patch{Mood: ptr(MoodNegative)}))
	require.True(t, r.Update(ctx, "u1", Patch{FirstName: ptr("Jeanne")}))

	uc := r.Get(ctx, "u1")
	assert.True(t, uc.Health.IsSick)
	assert.Equal(t, t0, uc.Health.Since)
	assert.Equal(t, MoodNegative, uc.Mood.Current)
	assert.Equal(t, "Jeanne", uc.FirstName)
}

func TestUpdate_RemoteFailureDoesNotFail(t *testing.T) {
	remote := unwritableStore{kv.NewCache()}
	outbox := kv.NewOutbox(remote, 4, zerolog.Nop())
	r := newResolver(kv.Tiers{Local: kv.NewCache(), Remote: remote, Outbox: outbox})
	ctx := context.Background()

	assert.True(t, r.Update(ctx, "u1", Patch{IsAlone: ptr(true)}))
	assert.True(t, r.Get(ctx, "u1").Situation.IsAlone)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, outbox.Close(closeCtx))
	assert.Equal(t, int64(1), outbox.Stats().Failed)
}

func TestUpdate_LocalFailureReportsFalse(t *testing.T) {
	r := newResolver(kv.Tiers{Local: failingStore{err: errors.New("read-only")}})
	assert.False(t, r.Update(context.Background(), "u1", Patch{IsSick: ptr(true)}))
}

func TestUpdate_RemoteReadFailureKeepsRemoteContext(t *testing.T) {
	ctx := context.Background()
	stored := kv.NewCache()
	require.NoError(t, stored.SetJSON(ctx, Key("u1"), UserContext{FirstName: "Paul", Mood: Mood{Current: MoodPositive}}))
	remote := &flakyStore{Cache: stored, getErr: errors.New("connection reset")}
	outbox := kv.NewOutbox(remote, 4, zerolog.Nop())
	r := newResolver(kv.Tiers{Local: kv.NewCache(), Remote: remote, Outbox: outbox})

	assert.False(t, r.Update(ctx, "u1", Patch{IsSick: ptr(true)}))
	assert.Equal(t, MoodNeutral, r.Get(ctx, "u1").Mood.Current, "a default answers the read")

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, outbox.Close(closeCtx))
	assert.Equal(t, int64(0), outbox.Stats().Sent)

	var got UserContext
	ok, err := stored.GetJSON(ctx, Key("u1"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Paul", got.FirstName)
	assert.False(t, got.Health.IsSick)
}

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

func TestGet_TotalFailureStillAnswers(t *testing.T) {
	broken := failingStore{err: errors.New("down")}
	r := newResolver(kv.Tiers{Local: broken, Remote: broken})
	uc := r.Get(context.Background(), "u1")
	assert.Equal(t, MoodNeutral, uc.Mood.Current)
}

func TestGet_ReadsThroughToRemote(t *testing.T) {
	ctx := context.Background()
	remote := kv.NewCache()
	require.NoError(t, remote.SetJSON(ctx, Key("u1"), UserContext{FirstName: "Paul", Mood: Mood{Current: MoodPositive}}))
	local := kv.NewCache()

	r := newResolver(kv.Tiers{Local: local, Remote: remote})
	assert.Equal(t, "Paul", r.Get(ctx, "u1").FirstName)

	var refreshed UserContext
	ok, _ := local.GetJSON(ctx, Key("u1"), &refreshed)
	assert.True(t, ok, "local tier is refreshed from remote")
}

func TestApply_ClearingSicknessResetsSince(t *testing.T) {
	uc := Default(t0).Apply(Patch{IsSick: ptr(true)}, t0)
	later := t0.Add(48 * time.Hour)
	uc = uc.Apply(Patch{IsSick: ptr(false)}, later)
	assert.False(t, uc.Health.IsSick)
	assert.True(t, uc.Health.Since.IsZero())
	assert.Equal(t, later, uc.LastUpdated)
}

func TestFromAnalysis(t *testing.T) {
	p := FromAnalysis(analysis.Analyze("Je suis malade et je me sens seule"))
	require.NotNil(t, p.IsSick)
	require.NotNil(t, p.IsAlone)
	assert.True(t, *p.IsSick)
	assert.True(t, *p.IsAlone)

	assert.True(t, FromAnalysis(analysis.Analysis{}).Empty())

	p = FromAnalysis(analysis.Analysis{Mood: analysis.Mood{IsPositive: true}})
	require.NotNil(t, p.Mood)
	assert.Equal(t, MoodPositive, *p.Mood)
}

func TestUserContext_JSONShape(t *testing.T) {
	uc := Default(t0).Apply(Patch{RecentImportantEvent: &Event{Topic: "the new baby", Context: "birth in the family", At: t0}}, t0)
	raw, err := json.Marshal(uc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"recentImportantEvent":{"topic":"the new baby"`)
	assert.Contains(t, string(raw), `"mood":{"current":"neutral"}`)
}

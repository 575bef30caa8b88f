package timeline

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/kv"
)

const (
	// DefaultGreetingCooldown is the silence after which a fresh greeting is due.
	DefaultGreetingCooldown = 30 * time.Minute
	// DefaultIdleEviction is how long an untouched session stays in memory.
	DefaultIdleEviction = 6 * time.Hour

	localWindow    = 20
	negationWindow = 30
	jokeMaxRunes   = 20
)

// Key is the persisted mirror key for a user's timeline.
func Key(userID string) string { return "timeline:" + userID }

// Options configures a Tracker. Zero values fall back to the defaults.
type Options struct {
	Store            kv.Store
	GreetingCooldown time.Duration
	IdleEviction     time.Duration
	Now              func() time.Time
	Logger           zerolog.Logger
}

// session owns one user's timeline. Its mutex serializes turns for that user.
type session struct {
	mu       sync.Mutex
	state    Timeline
	loaded   bool
	evicted  bool
	lastSeen time.Time
}

// Tracker holds a session per user and mirrors each one to a kv.Store.
type Tracker struct {
	store    kv.Store
	cooldown time.Duration
	idle     time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewTracker creates a Tracker.
func NewTracker(opts Options) *Tracker {
	if opts.GreetingCooldown <= 0 {
		opts.GreetingCooldown = DefaultGreetingCooldown
	}
	if opts.IdleEviction <= 0 {
		opts.IdleEviction = DefaultIdleEviction
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		store:    opts.Store,
		cooldown: opts.GreetingCooldown,
		idle:     opts.IdleEviction,
		now:      opts.Now,
		log:      opts.Logger,
		sessions: make(map[string]*session),
	}
}

// acquire returns the user's session locked. Callers must unlock it.
func (t *Tracker) acquire(ctx context.Context, userID string) *session {
	for {
		t.mu.Lock()
		s, ok := t.sessions[userID]
		if !ok {
			s = &session{}
			t.sessions[userID] = s
		}
		t.mu.Unlock()

		s.mu.Lock()
		if s.evicted {
			s.mu.Unlock()
			continue
		}
		if !s.loaded {
			t.load(ctx, userID, s)
		}
		return s
	}
}

func (t *Tracker) load(ctx context.Context, userID string, s *session) {
	s.loaded = true
	if t.store == nil {
		return
	}
	var stored Timeline
	ok, err := t.store.GetJSON(ctx, Key(userID), &stored)
	if err != nil {
		t.log.Warn().Err(err).Str("user_id", userID).Msg("timeline: load mirror")
		return
	}
	if ok {
		s.state = stored
	}
}

func (t *Tracker) persist(ctx context.Context, userID string, state Timeline) {
	if t.store == nil {
		return
	}
	if err := t.store.SetJSON(ctx, Key(userID), state); err != nil {
		t.log.Warn().Err(err).Str("user_id", userID).Msg("timeline: persist mirror")
	}
}

// Update folds one user message into the user's timeline and returns the
// result. The returned HasGreeted is the value before this message, so the
// reply to an opening "hello" may still greet back.
func (t *Tracker) Update(ctx context.Context, userID, message string) Timeline {
	return t.updateAt(ctx, userID, message, t.now())
}

func (t *Tracker) updateAt(ctx context.Context, userID, message string, now time.Time) Timeline {
	s := t.acquire(ctx, userID)
	defer s.mu.Unlock()
	s.lastSeen = now

	st := &s.state
	if !st.LastMessageTime.IsZero() && now.Sub(st.LastMessageTime) > t.cooldown {
		st.HasGreeted = false
	}
	greetedBefore := st.HasGreeted

	text := strings.TrimSpace(message)
	travelActive := st.ConversationContext == string(analysis.CategoryTravel)

	if isJoke(text, travelActive) {
		st.IsJoking = true
		st.JokeContent = text
	} else {
		st.IsJoking = false
		st.JokeContent = ""
		applyActivities(st, text)
	}

	if IsGreeting(text) {
		st.HasGreeted = true
	}

	if ctxName := contextOf(text); ctxName != "" && ctxName != st.ConversationContext {
		st.PreviousContext = st.ConversationContext
		st.ConversationContext = ctxName
	}

	st.LastMessageTime = now
	st.LastUpdated = now
	t.persist(ctx, userID, *st)

	out := st.Clone()
	out.HasGreeted = greetedBefore
	return out
}

func isJoke(text string, travelActive bool) bool {
	return travelActive && utf8.RuneCountInString(text) < jokeMaxRunes && absurdTransport.MatchString(text)
}

func applyActivities(st *Timeline, text string) {
	if text == "" {
		return
	}
	if planChangeCues.MatchString(text) {
		st.Future = nil
	}
	global := ClassifyTense(text)
	for _, a := range Activities {
		loc := a.Patterns.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if negationCues.MatchString(before(text, loc[0], negationWindow)) {
			st.Future = remove(st.Future, a.Name)
			st.Present = remove(st.Present, a.Name)
			continue
		}
		tense := global
		if tense == TenseUnknown {
			tense = classifyLocal(window(text, loc[0], loc[1], localWindow))
		}
		st.file(a.Name, tense)
		st.LastActivity = a.Name
	}
}

// contextOf names the subject a message moves the conversation to, or "".
func contextOf(text string) string {
	for _, a := range Activities {
		if a.Travel && a.Patterns.MatchString(text) {
			return string(analysis.CategoryTravel)
		}
	}
	if c := analysis.Score(text).Category; c != analysis.CategoryGeneral {
		return string(c)
	}
	return ""
}

// ObserveReply records the companion's reply; a greeting in it counts as
// having greeted.
func (t *Tracker) ObserveReply(ctx context.Context, userID, reply string) {
	if !IsGreeting(reply) {
		return
	}
	s := t.acquire(ctx, userID)
	defer s.mu.Unlock()
	if s.state.HasGreeted {
		return
	}
	s.state.HasGreeted = true
	t.persist(ctx, userID, s.state)
}

// Snapshot returns the user's current timeline.
func (t *Tracker) Snapshot(ctx context.Context, userID string) Timeline {
	s := t.acquire(ctx, userID)
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Len reports how many sessions are in memory.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// EvictIdle drops sessions untouched since now minus the idle TTL. Sessions
// busy with a turn are skipped. It returns how many were dropped.
func (t *Tracker) EvictIdle(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, s := range t.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if now.Sub(s.lastSeen) >= t.idle {
			s.evicted = true
			delete(t.sessions, id)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Run evicts idle sessions every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = t.idle / 4
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.EvictIdle(t.now()); n > 0 {
				t.log.Debug().Int("evicted", n).Msg("timeline: idle sessions dropped")
			}
		}
	}
}

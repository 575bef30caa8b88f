// Package companion runs conversation turns: it reads what the companion
// knows about the user, updates it from the new message, builds the prompt
// and produces the reply.
package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/memvra/companion/internal/adapter"
	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/collector"
	ctxpkg "github.com/memvra/companion/internal/context"
	"github.com/memvra/companion/internal/conversation"
	"github.com/memvra/companion/internal/kv"
	"github.com/memvra/companion/internal/memory"
	"github.com/memvra/companion/internal/profile"
	"github.com/memvra/companion/internal/timeline"
)

// Defaults for Options.
const (
	DefaultMinImportance = 6
	DefaultHistory       = 30
	DefaultTimeout       = 30 * time.Second
)

// ErrInvalidInput is returned when a turn is missing its user, companion or text.
var ErrInvalidInput = errors.New("companion: invalid input")

var errNoGenerator = errors.New("companion: no generator configured")

// Generation holds the generator call parameters.
type Generation struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Options wires an Engine. LLM and Collector are optional: without a
// generator every reply is the fallback sentence.
type Options struct {
	Conversations conversation.Store
	Timeline      *timeline.Tracker
	Profiles      *profile.Resolver
	Memories      *memory.Store
	Assembler     *ctxpkg.Assembler
	Collector     *collector.Collector
	LLM           adapter.LLMAdapter
	Generation    Generation

	// MinImportance is the lowest topic score stored as a memory during a turn.
	MinImportance int
	// History is how many stored messages are read for each turn.
	History int

	CompanionName string
	Location      string
	TimeZone      string

	Now    func() time.Time
	Logger zerolog.Logger
}

// Reply is the outcome of one turn.
type Reply struct {
	Text string `json:"text"`
	// MessageID is the stored id of the reply, empty if it could not be stored.
	MessageID  string              `json:"messageId,omitempty"`
	Fallback   bool                `json:"fallback"`
	AutoStart  bool                `json:"autoStart"`
	Remembered bool                `json:"remembered"`
	Topic      analysis.TopicScore `json:"topic"`
	Prompt     ctxpkg.Prompt       `json:"-"`
}

// Engine orchestrates turns. Turns for the same user run one at a time.
type Engine struct {
	convs     conversation.Store
	timeline  *timeline.Tracker
	profiles  *profile.Resolver
	memories  *memory.Store
	assembler *ctxpkg.Assembler
	collector *collector.Collector
	llm       adapter.LLMAdapter
	gen       Generation
	minImp    int
	history   int
	now       func() time.Time
	log       zerolog.Logger

	ambientMu sync.RWMutex
	ambient   ctxpkg.Ambient

	users kv.Locks
	bg    sync.WaitGroup
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.MinImportance <= 0 {
		opts.MinImportance = DefaultMinImportance
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.Generation.Timeout <= 0 {
		opts.Generation.Timeout = DefaultTimeout
	}
	if opts.Assembler == nil {
		opts.Assembler = ctxpkg.NewAssembler(nil, nil, ctxpkg.Options{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		convs:     opts.Conversations,
		timeline:  opts.Timeline,
		profiles:  opts.Profiles,
		memories:  opts.Memories,
		assembler: opts.Assembler,
		collector: opts.Collector,
		llm:       opts.LLM,
		gen:       opts.Generation,
		minImp:    opts.MinImportance,
		history:   opts.History,
		ambient: ctxpkg.Ambient{
			Location:      opts.Location,
			TimeZone:      opts.TimeZone,
			CompanionName: opts.CompanionName,
		},
		now: opts.Now,
		log: opts.Logger,
	}
}

// Ambient returns the facts every prompt carries about the companion's setting.
func (e *Engine) Ambient() ctxpkg.Ambient {
	e.ambientMu.RLock()
	defer e.ambientMu.RUnlock()
	return e.ambient
}

// SetAmbient replaces the companion's name, location and time zone for the
// turns that start after it returns.
func (e *Engine) SetAmbient(companionName, location, timeZone string) {
	e.ambientMu.Lock()
	defer e.ambientMu.Unlock()
	e.ambient = ctxpkg.Ambient{CompanionName: companionName, Location: location, TimeZone: timeZone}
}

// Say stores text as a message from userID and runs the turn. The auto-start
// sentinel is handled without being stored.
func (e *Engine) Say(ctx context.Context, userID, companionID, text string) (Reply, error) {
	if userID == "" || companionID == "" || strings.TrimSpace(text) == "" {
		e.log.Warn().Str("user_id", userID).Str("op", "say").Msg("companion: missing user, companion or text")
		return Reply{}, ErrInvalidInput
	}
	convID, err := e.convs.Ensure(ctx, userID, companionID)
	if err != nil {
		return Reply{}, fmt.Errorf("companion: open conversation: %w", err)
	}

	msg := conversation.Message{
		ConversationID: convID,
		SenderID:       userID,
		Content:        text,
		Type:           conversation.TypeText,
		CreatedAt:      e.now(),
	}
	if !ctxpkg.IsAutoStart(text) {
		id, err := e.convs.Append(ctx, convID, msg)
		if err != nil {
			return Reply{}, fmt.Errorf("companion: store message: %w", err)
		}
		msg.ID = id
	}
	return e.Handle(ctx, companionID, msg)
}

// Handle runs the turn for a message the user already stored.
func (e *Engine) Handle(ctx context.Context, companionID string, msg conversation.Message) (Reply, error) {
	userID := msg.SenderID
	if userID == "" || companionID == "" || msg.ConversationID == "" {
		e.log.Warn().Str("user_id", userID).Str("op", "handle").Msg("companion: missing user, companion or conversation")
		return Reply{}, ErrInvalidInput
	}

	unlock := e.users.Lock(userID)
	defer unlock()

	text := strings.TrimSpace(msg.Content)
	autoStart := ctxpkg.IsAutoStart(text)
	log := e.log.With().Str("user_id", userID).Str("conversation_id", msg.ConversationID).Logger()

	var (
		an      analysis.Analysis
		score   analysis.TopicScore
		mems    []memory.Memory
		uc      profile.UserContext
		history []conversation.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	if !autoStart {
		g.Go(func() error {
			an = analysis.Analyze(text)
			score = analysis.Score(text)
			return nil
		})
	}
	g.Go(func() error {
		mems = e.memories.Fetch(gctx, userID)
		return nil
	})
	g.Go(func() error {
		uc = e.profiles.Get(gctx, userID)
		return nil
	})
	g.Go(func() error {
		h, err := e.convs.Recent(gctx, msg.ConversationID, e.history, conversation.Ascending)
		if err != nil {
			log.Warn().Err(err).Msg("companion: read history")
			return nil
		}
		history = h
		return nil
	})
	_ = g.Wait()

	reply := Reply{AutoStart: autoStart, Topic: score}

	var tl timeline.Timeline
	if autoStart {
		tl = e.timeline.Snapshot(ctx, userID)
	} else {
		tl = e.timeline.Update(ctx, userID, text)

		if score.Score >= e.minImp && msg.Type != conversation.TypeImage {
			ok, err := e.memories.Remember(ctx, userID, score.Topic, text, score.Score)
			if err != nil {
				log.Warn().Err(err).Str("topic", score.Topic).Msg("companion: remember")
			}
			if ok {
				reply.Remembered = true
				mems = e.memories.Fetch(ctx, userID)
			}
		}
		if an.Any() {
			e.profiles.Update(ctx, userID, profile.FromAnalysis(an))
			uc = e.profiles.Get(ctx, userID)
		}
	}

	query := text
	if autoStart {
		query = ""
	}
	mems = e.memories.Relevant(ctx, userID, query, mems)

	ambient := e.Ambient()
	ambient.Now = e.now()
	in := ctxpkg.Input{
		UserID:   userID,
		Message:  text,
		History:  history,
		Timeline: tl,
		Memories: mems,
		Profile:  uc,
		Topic:    score,
		Ambient:  ambient,
	}
	reply.Prompt = e.assembler.Assemble(in)

	out, err := e.generate(ctx, reply.Prompt)
	if err != nil {
		log.Warn().Err(err).Msg("companion: generator failed, using fallback")
		out = ctxpkg.Fallback(in)
		reply.Fallback = true
	}
	if tl.HasGreeted {
		out = ctxpkg.StripGreeting(out)
	}
	reply.Text = out
	e.timeline.ObserveReply(ctx, userID, out)

	id, err := e.convs.Append(ctx, msg.ConversationID, conversation.Message{
		SenderID:  companionID,
		Content:   out,
		Type:      conversation.TypeText,
		CreatedAt: e.now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("companion: store reply")
	}
	reply.MessageID = id

	e.sweep(ctx, userID)

	log.Debug().
		Bool("fallback", reply.Fallback).
		Bool("auto_start", autoStart).
		Bool("remembered", reply.Remembered).
		Int("tokens", reply.Prompt.TokensUsed).
		Msg("companion: turn done")
	return reply, nil
}

// Preview assembles the prompt a turn for text would send, without storing
// anything, updating state or calling the generator.
func (e *Engine) Preview(ctx context.Context, userID, companionID, text string) (ctxpkg.Prompt, error) {
	text = strings.TrimSpace(text)
	if userID == "" || companionID == "" || text == "" {
		return ctxpkg.Prompt{}, ErrInvalidInput
	}
	convID := conversation.ID(userID, companionID)

	var (
		mems    []memory.Memory
		uc      profile.UserContext
		history []conversation.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mems = e.memories.Fetch(gctx, userID)
		return nil
	})
	g.Go(func() error {
		uc = e.profiles.Get(gctx, userID)
		return nil
	})
	g.Go(func() error {
		h, err := e.convs.Recent(gctx, convID, e.history, conversation.Ascending)
		if err != nil {
			e.log.Warn().Err(err).Str("user_id", userID).Str("op", "preview").Msg("companion: read history")
			return nil
		}
		history = h
		return nil
	})
	_ = g.Wait()

	var score analysis.TopicScore
	query := ""
	if !ctxpkg.IsAutoStart(text) {
		score = analysis.Score(text)
		query = text
	}

	ambient := e.Ambient()
	ambient.Now = e.now()
	return e.assembler.Assemble(ctxpkg.Input{
		UserID:   userID,
		Message:  text,
		History:  history,
		Timeline: e.timeline.Snapshot(ctx, userID),
		Memories: e.memories.Relevant(ctx, userID, query, mems),
		Profile:  uc,
		Topic:    score,
		Ambient:  ambient,
	}), nil
}

func (e *Engine) generate(ctx context.Context, p ctxpkg.Prompt) (string, error) {
	if e.llm == nil {
		return "", errNoGenerator
	}
	ctx, cancel := context.WithTimeout(ctx, e.gen.Timeout)
	defer cancel()
	return adapter.Generate(ctx, e.llm, adapter.CompletionRequest{
		SystemPrompt: p.SystemText(),
		Context:      p.Context,
		UserMessage:  p.UserMessage,
		Model:        e.gen.Model,
		MaxTokens:    e.gen.MaxTokens,
		Temperature:  e.gen.Temperature,
	})
}

// sweep starts a background collection for userID. It outlives ctx.
func (e *Engine) sweep(ctx context.Context, userID string) {
	if e.collector == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		e.collector.Sweep(bg, userID)
	}()
}

// Wait blocks until background sweeps started by turns have finished.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// Listen handles user messages appended to the conversation between userID
// and companionID, in arrival order, until ctx is done. Messages stored
// before the call are not handled.
func (e *Engine) Listen(ctx context.Context, userID, companionID string) error {
	if userID == "" || companionID == "" {
		return ErrInvalidInput
	}
	convID, err := e.convs.Ensure(ctx, userID, companionID)
	if err != nil {
		return fmt.Errorf("companion: open conversation: %w", err)
	}

	var seen int64
	latest, err := e.convs.Recent(ctx, convID, 1, conversation.Descending)
	if err != nil {
		return fmt.Errorf("companion: read conversation: %w", err)
	}
	if len(latest) > 0 {
		seen = latest[0].Seq
	}

	unsubscribe := e.convs.Subscribe(convID, func(msgs []conversation.Message) {
		for _, m := range msgs {
			if m.Seq <= seen {
				continue
			}
			seen = m.Seq
			if m.SenderID != userID || ctx.Err() != nil {
				continue
			}
			m.ConversationID = convID
			if _, err := e.Handle(ctx, companionID, m); err != nil {
				e.log.Warn().Err(err).Str("user_id", userID).Msg("companion: handle message")
			}
		}
	})
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

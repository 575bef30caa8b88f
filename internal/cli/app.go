package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/memvra/companion/internal/adapter"
	"github.com/memvra/companion/internal/collector"
	"github.com/memvra/companion/internal/companion"
	"github.com/memvra/companion/internal/config"
	ctxpkg "github.com/memvra/companion/internal/context"
	"github.com/memvra/companion/internal/conversation"
	"github.com/memvra/companion/internal/db"
	"github.com/memvra/companion/internal/kv"
	"github.com/memvra/companion/internal/logger"
	"github.com/memvra/companion/internal/memory"
	"github.com/memvra/companion/internal/profile"
	"github.com/memvra/companion/internal/remote"
	"github.com/memvra/companion/internal/timeline"
)

// providerNone disables the generator or the embedder.
const providerNone = "none"

// app is every component wired from one config.
type app struct {
	cfg config.Config
	log zerolog.Logger

	db     *db.DB
	pool   *pgxpool.Pool
	outbox *kv.Outbox
	local  *kv.SQLite
	tiers  kv.Tiers

	convs     *conversation.SQLiteStore
	timeline  *timeline.Tracker
	profiles  *profile.Resolver
	memories  *memory.Store
	vectors   *memory.VectorStore
	embed     adapter.Embedder
	collector *collector.Collector
	assembler *ctxpkg.Assembler
	llm       adapter.LLMAdapter
	engine    *companion.Engine
}

// openApp loads the config and opens storage. The generator is only built
// when withGenerator is set; without it turns use the fallback sentence.
func openApp(ctx context.Context, flags *globalFlags, withGenerator bool) (*app, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	log := logger.New("companion", logger.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dim := cfg.Embedding.Dimension
	if cfg.Embedding.Provider == providerNone {
		dim = 0
	}
	database, err := db.Open(cfg.Storage.Path, dim)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: database, local: kv.NewSQLite(database)}
	a.tiers = kv.Tiers{Cache: kv.NewCache(), Local: a.local}

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		// The remote tier is optional: without it everything stays local.
		if err := a.connectRemote(ctx, dsn); err != nil {
			log.Warn().Err(err).Msg("remote store unavailable, continuing locally")
		}
	}

	a.embed = a.embedder()
	a.vectors = memory.NewVectorStore(database)
	a.profiles = profile.NewResolver(a.tiers, cfg.Context.CacheFreshness, log)
	a.memories = memory.NewStore(memory.Options{
		Tiers:              a.tiers,
		Freshness:          cfg.Memory.CacheFreshness,
		DedupWindow:        cfg.Memory.DedupWindow,
		MaxEntries:         cfg.Memory.MaxEntries,
		ImportantThreshold: cfg.Memory.ImportantThreshold,
		Events:             a.profiles,
		Embedder:           a.embed,
		Vectors:            a.vectors,
		Logger:             log,
	})
	a.timeline = timeline.NewTracker(timeline.Options{
		Store:            a.local,
		GreetingCooldown: cfg.Timeline.GreetingCooldown,
		IdleEviction:     cfg.Timeline.IdleEviction,
		Logger:           log,
	})
	a.convs = conversation.NewSQLiteStore(database, log)
	a.collector = collector.New(collector.Options{
		Conversations:           a.convs,
		Memories:                a.memories,
		Tiers:                   a.tiers,
		Interval:                cfg.Collector.Interval,
		MessagesPerConversation: cfg.Collector.MessagesPerConversation,
		MinScore:                cfg.Collector.MinScore,
		MinLength:               cfg.Collector.MinLength,
		Concurrency:             cfg.Collector.Concurrency,
		Logger:                  log,
	})

	tokenizer, err := ctxpkg.NewTokenizer()
	if err != nil {
		log.Debug().Err(err).Msg("tokenizer unavailable, estimating token counts")
		tokenizer = nil
	}
	a.assembler = ctxpkg.NewAssembler(ctxpkg.NewFormatter(), tokenizer, ctxpkg.Options{
		MaxTokens:      cfg.Prompt.MaxTokens,
		HistoryTurns:   cfg.Prompt.HistoryTurns,
		AutoStartTurns: cfg.Prompt.AutoStartTurns,
	})

	if withGenerator {
		a.llm = a.generator()
	}

	a.engine = companion.New(companion.Options{
		Conversations: a.convs,
		Timeline:      a.timeline,
		Profiles:      a.profiles,
		Memories:      a.memories,
		Assembler:     a.assembler,
		Collector:     a.collector,
		LLM:           a.llm,
		Generation: companion.Generation{
			Model:       cfg.Generator.Model,
			MaxTokens:   cfg.Generator.MaxTokens,
			Temperature: cfg.Generator.Temperature,
			Timeout:     cfg.Generator.Timeout,
		},
		MinImportance: cfg.Memory.MinImportance,
		CompanionName: cfg.Prompt.CompanionName,
		Location:      cfg.Prompt.Location,
		TimeZone:      cfg.Prompt.TimeZone,
		Logger:        log,
	})
	return a, nil
}

func (a *app) connectRemote(ctx context.Context, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := remote.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	store := remote.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return err
	}
	a.pool = pool
	a.outbox = kv.NewOutbox(store, a.cfg.Storage.OutboxSize, a.log)
	a.tiers.Remote = store
	a.tiers.Outbox = a.outbox
	return nil
}

func (a *app) generator() adapter.LLMAdapter {
	provider := a.cfg.Generator.Provider
	if provider == "" || provider == providerNone {
		return nil
	}
	opts := adapter.Options{
		Provider: provider,
		Model:    a.cfg.Generator.Model,
		APIKey:   apiKey(a.cfg, provider),
		Timeout:  a.cfg.Generator.Timeout,
	}
	if provider == adapter.ProviderOllama {
		opts.BaseURL = a.cfg.Ollama.Host
		opts.EmbedModel = a.cfg.Ollama.EmbedModel
	}
	llm, err := adapter.New(opts)
	if err != nil {
		a.log.Warn().Err(err).Msg("generator unavailable, replies will use the fallback")
		return nil
	}
	return adapter.NewLimited(llm, a.cfg.Generator.RatePerMinute)
}

func (a *app) embedder() adapter.Embedder {
	switch a.cfg.Embedding.Provider {
	case adapter.ProviderOllama:
		return adapter.NewOllama(a.cfg.Ollama.Host, "", a.cfg.Ollama.EmbedModel, 0)
	case adapter.ProviderOpenAI:
		return adapter.NewOpenAI(apiKey(a.cfg, adapter.ProviderOpenAI), "", "")
	case adapter.ProviderGemini:
		return adapter.NewGemini(apiKey(a.cfg, adapter.ProviderGemini), "", "", 0)
	default:
		return nil
	}
}

// Close waits for background sweeps, flushes the remote outbox and closes storage.
func (a *app) Close() {
	a.engine.Wait()
	if a.outbox != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.outbox.Close(ctx); err != nil {
			a.log.Warn().Err(err).Msg("remote writes still pending at exit")
		}
		cancel()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.db.Close()
}

func apiKey(cfg config.Config, provider string) string {
	switch provider {
	case adapter.ProviderClaude:
		return cfg.Keys.Anthropic
	case adapter.ProviderOpenAI:
		return cfg.Keys.OpenAI
	case adapter.ProviderGemini:
		return cfg.Keys.Gemini
	}
	return ""
}

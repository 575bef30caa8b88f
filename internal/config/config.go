// Package config manages the companion configuration file
// (~/.config/companion/config.toml) and its COMPANION_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides, e.g. COMPANION_GENERATOR_PROVIDER
// or COMPANION_STORAGE_POSTGRES_DSN.
const EnvPrefix = "COMPANION"

// Config holds every tunable of the companion engine.
type Config struct {
	Generator GeneratorConfig `toml:"generator"`
	Keys      KeysConfig      `toml:"keys"`
	Ollama    OllamaConfig    `toml:"ollama"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Storage   StorageConfig   `toml:"storage"`
	Memory    MemoryConfig    `toml:"memory"`
	Context   ContextConfig   `toml:"context"`
	Timeline  TimelineConfig  `toml:"timeline"`
	Collector CollectorConfig `toml:"collector"`
	Prompt    PromptConfig    `toml:"prompt"`
	Log       LogConfig       `toml:"log"`
}

// GeneratorConfig selects the text-completion backend.
type GeneratorConfig struct {
	Provider      string        `toml:"provider"`
	Model         string        `toml:"model"`
	MaxTokens     int           `toml:"max_tokens" split_words:"true"`
	Temperature   float64       `toml:"temperature"`
	Timeout       time.Duration `toml:"timeout"`
	RatePerMinute int           `toml:"rate_per_minute" split_words:"true"`
}

type KeysConfig struct {
	Anthropic string `toml:"anthropic"`
	OpenAI    string `toml:"openai"`
	Gemini    string `toml:"gemini"`
}

type OllamaConfig struct {
	Host       string `toml:"host"`
	EmbedModel string `toml:"embed_model" split_words:"true"`
}

// EmbeddingConfig controls memory relevance ranking. Provider is "ollama",
// "openai", "gemini" or "none".
type EmbeddingConfig struct {
	Provider  string `toml:"provider"`
	Dimension int    `toml:"dimension"`
}

// StorageConfig locates the local SQLite database and the optional remote Postgres tier.
type StorageConfig struct {
	Path        string `toml:"path"`
	PostgresDSN string `toml:"postgres_dsn" split_words:"true"`
	OutboxSize  int    `toml:"outbox_size" split_words:"true"`
}

type MemoryConfig struct {
	DedupWindow        time.Duration `toml:"dedup_window" split_words:"true"`
	CacheFreshness     time.Duration `toml:"cache_freshness" split_words:"true"`
	MaxEntries         int           `toml:"max_entries" split_words:"true"`
	MinImportance      int           `toml:"min_importance" split_words:"true"`
	ImportantThreshold int           `toml:"important_threshold" split_words:"true"`
}

type ContextConfig struct {
	CacheFreshness time.Duration `toml:"cache_freshness" split_words:"true"`
}

type TimelineConfig struct {
	GreetingCooldown time.Duration `toml:"greeting_cooldown" split_words:"true"`
	IdleEviction     time.Duration `toml:"idle_eviction" split_words:"true"`
}

type CollectorConfig struct {
	Interval                time.Duration `toml:"interval"`
	MessagesPerConversation int           `toml:"messages_per_conversation" split_words:"true"`
	MinScore                int           `toml:"min_score" split_words:"true"`
	MinLength               int           `toml:"min_length" split_words:"true"`
	Concurrency             int           `toml:"concurrency"`
}

// PromptConfig holds the token budget and the ambient facts injected into every prompt.
type PromptConfig struct {
	MaxTokens      int    `toml:"max_tokens" split_words:"true"`
	HistoryTurns   int    `toml:"history_turns" split_words:"true"`
	AutoStartTurns int    `toml:"auto_start_turns" split_words:"true"`
	Location       string `toml:"location"`
	TimeZone       string `toml:"timezone" split_words:"true"`
	CompanionName  string `toml:"companion_name" split_words:"true"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Generator: GeneratorConfig{
			Provider:      "claude",
			MaxTokens:     400,
			Temperature:   0.8,
			Timeout:       30 * time.Second,
			RatePerMinute: 30,
		},
		Ollama: OllamaConfig{
			Host:       "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Embedding: EmbeddingConfig{Provider: "ollama", Dimension: 768},
		Storage:   StorageConfig{OutboxSize: 256},
		Memory: MemoryConfig{
			DedupWindow:        7 * 24 * time.Hour,
			CacheFreshness:     2 * time.Minute,
			MaxEntries:         20,
			MinImportance:      6,
			ImportantThreshold: 8,
		},
		Context: ContextConfig{CacheFreshness: 5 * time.Minute},
		Timeline: TimelineConfig{
			GreetingCooldown: 30 * time.Minute,
			IdleEviction:     6 * time.Hour,
		},
		Collector: CollectorConfig{
			Interval:                30 * time.Minute,
			MessagesPerConversation: 15,
			MinScore:                5,
			MinLength:               10,
			Concurrency:             4,
		},
		Prompt: PromptConfig{
			MaxTokens:      3000,
			HistoryTurns:   12,
			AutoStartTurns: 6,
			CompanionName:  "Léa",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Dir returns ~/.config/companion.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "companion"), nil
}

// DefaultPath returns the path to the config file.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config at path (DefaultPath when empty), applying defaults for
// missing values and environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("config: load %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("config: env overrides: %w", err)
	}

	// Conventional provider variables win over the file.
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Keys.Anthropic = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Keys.OpenAI = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Keys.Gemini = v
	}

	if cfg.Storage.Path == "" {
		if dir, err := Dir(); err == nil {
			cfg.Storage.Path = filepath.Join(dir, "companion.db")
		} else {
			cfg.Storage.Path = "companion.db"
		}
	}

	return cfg, nil
}

// Save writes cfg to path (DefaultPath when empty).
func Save(path string, cfg Config) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultL2TimeoutMS is the default per-call deadline for the semantic oracle.
	DefaultL2TimeoutMS = 2000

	// DefaultL2CacheMaxEntries is the default LRU bound for the oracle cache.
	DefaultL2CacheMaxEntries = 10000

	// DefaultL2MonthlyTokenBudget is the default token allowance per process-month.
	DefaultL2MonthlyTokenBudget = 1_000_000

	// DefaultDecayWindowTurns is the grace period before short-term decay starts.
	DefaultDecayWindowTurns = 5

	// DefaultDecayRate is the score lost per turn past the decay window.
	DefaultDecayRate = 0.5

	// DefaultPronounWindowTurns is how far back a pronoun may reach for a referent.
	DefaultPronounWindowTurns = 3
)

// Config holds all configuration for dialogmem.
type Config struct {
	Claude   ClaudeConfig   `mapstructure:"claude"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Patterns PatternsConfig `mapstructure:"patterns"`
	Entities EntitiesConfig `mapstructure:"entities"`
	Learning LearningConfig `mapstructure:"learning"`
	Decay    DecayConfig    `mapstructure:"decay"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PatternsConfig holds pattern catalog settings. An empty CatalogPath uses the
// embedded default catalog.
type PatternsConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

// ClaudeConfig holds Anthropic Claude API settings.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", maskAPIKey(c.APIKey), c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// OracleConfig holds L2 semantic oracle settings.
type OracleConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	MockMode           bool     `mapstructure:"mock_mode"`
	TimeoutMS          int      `mapstructure:"timeout_ms"`
	CacheMaxEntries    int      `mapstructure:"cache_max_entries"`
	MonthlyTokenBudget int64    `mapstructure:"monthly_token_budget"`
	EmotiveLexicon     []string `mapstructure:"emotive_lexicon"`
}

// ScoringConfig holds L1 retention thresholds.
type ScoringConfig struct {
	LongTermThreshold  float64 `mapstructure:"long_term_threshold"`
	BorderlineLow      float64 `mapstructure:"borderline_low"`
	BorderlineHigh     float64 `mapstructure:"borderline_high"`
	ShortTermThreshold float64 `mapstructure:"short_term_threshold"`
}

// EntitiesConfig holds L3 entity linking settings.
type EntitiesConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	PronounWindowTurns int  `mapstructure:"pronoun_window_turns"`
}

// LearningConfig holds L4 user weight adaptation settings.
type LearningConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DecayConfig holds short-term decay settings.
type DecayConfig struct {
	WindowTurns int     `mapstructure:"window_turns"`
	Rate        float64 `mapstructure:"rate"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultEmotiveLexicon is the stock emotive token list consulted by the L2 gate.
var DefaultEmotiveLexicon = []string{
	"terrifies", "terrified", "devastated", "thrilled", "scared",
	"panic", "heartbroken", "overwhelmed", "furious",
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("oracle.enabled", true)
	v.SetDefault("oracle.mock_mode", false)
	v.SetDefault("oracle.timeout_ms", DefaultL2TimeoutMS)
	v.SetDefault("oracle.cache_max_entries", DefaultL2CacheMaxEntries)
	v.SetDefault("oracle.monthly_token_budget", DefaultL2MonthlyTokenBudget)
	v.SetDefault("oracle.emotive_lexicon", DefaultEmotiveLexicon)

	v.SetDefault("scoring.long_term_threshold", 15.0)
	v.SetDefault("scoring.borderline_low", 10.0)
	v.SetDefault("scoring.borderline_high", 14.0)
	v.SetDefault("scoring.short_term_threshold", 3.0)

	v.SetDefault("entities.enabled", true)
	v.SetDefault("entities.pronoun_window_turns", DefaultPronounWindowTurns)

	v.SetDefault("learning.enabled", true)

	v.SetDefault("decay.window_turns", DefaultDecayWindowTurns)
	v.SetDefault("decay.rate", DefaultDecayRate)

	v.SetDefault("storage.sqlite_path", filepath.Join(homeDir(), ".dialogmem", "dialogmem.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("patterns.catalog_path", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".dialogmem"))
	v.AddConfigPath(".")

	v.SetEnvPrefix("DIALOGMEM")
	v.AutomaticEnv()

	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("storage.sqlite_path", "DIALOGMEM_SQLITE_PATH")
	_ = v.BindEnv("oracle.enabled", "DIALOGMEM_ORACLE_ENABLED")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK — use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the stock configuration without touching disk or env.
func Default() *Config {
	return &Config{
		Claude: ClaudeConfig{Model: "claude-haiku-4-5-20251001"},
		Oracle: OracleConfig{
			Enabled:            true,
			TimeoutMS:          DefaultL2TimeoutMS,
			CacheMaxEntries:    DefaultL2CacheMaxEntries,
			MonthlyTokenBudget: DefaultL2MonthlyTokenBudget,
			EmotiveLexicon:     DefaultEmotiveLexicon,
		},
		Scoring: ScoringConfig{
			LongTermThreshold:  15,
			BorderlineLow:      10,
			BorderlineHigh:     14,
			ShortTermThreshold: 3,
		},
		Entities: EntitiesConfig{Enabled: true, PronounWindowTurns: DefaultPronounWindowTurns},
		Learning: LearningConfig{Enabled: true},
		Decay:    DecayConfig{WindowTurns: DefaultDecayWindowTurns, Rate: DefaultDecayRate},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Validate checks that configuration fields are consistent. Failures here are
// fatal at init.
func (c *Config) Validate() error {
	if c.Oracle.TimeoutMS <= 0 {
		return fmt.Errorf("oracle.timeout_ms must be greater than 0")
	}
	if c.Oracle.CacheMaxEntries <= 0 {
		return fmt.Errorf("oracle.cache_max_entries must be greater than 0")
	}
	if c.Oracle.MonthlyTokenBudget < 0 {
		return fmt.Errorf("oracle.monthly_token_budget must be >= 0")
	}
	if c.Scoring.BorderlineLow > c.Scoring.BorderlineHigh {
		return fmt.Errorf("scoring.borderline_low (%v) must not exceed scoring.borderline_high (%v)",
			c.Scoring.BorderlineLow, c.Scoring.BorderlineHigh)
	}
	if c.Scoring.BorderlineHigh >= c.Scoring.LongTermThreshold {
		return fmt.Errorf("scoring.borderline_high (%v) must be below scoring.long_term_threshold (%v)",
			c.Scoring.BorderlineHigh, c.Scoring.LongTermThreshold)
	}
	if c.Scoring.ShortTermThreshold > c.Scoring.BorderlineLow {
		return fmt.Errorf("scoring.short_term_threshold (%v) must not exceed scoring.borderline_low (%v)",
			c.Scoring.ShortTermThreshold, c.Scoring.BorderlineLow)
	}
	if c.Decay.WindowTurns < 0 {
		return fmt.Errorf("decay.window_turns must be >= 0")
	}
	if c.Decay.Rate < 0 {
		return fmt.Errorf("decay.rate must be >= 0")
	}
	if c.Entities.PronounWindowTurns <= 0 {
		return fmt.Errorf("entities.pronoun_window_turns must be greater than 0")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

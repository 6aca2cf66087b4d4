// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/storai/internal/cipher"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	DatabaseURL string `masq:"secret"`
	// ChatKey is the base64 encoded 32 byte key sealing stored summaries.
	ChatKey string `masq:"secret"`

	GenerationProvider  string
	OpenAIAPIKey        string `masq:"secret"`
	OpenAIBaseURL       string
	OpenAIModel         string
	AnthropicAPIKey     string `masq:"secret"`
	AnthropicModel      string
	GenerationMaxTokens int
	GenerationTimeout   time.Duration
	GenerationRetries   int

	SummaryMaxTokens  int
	CompactionTimeout time.Duration

	VectorDBPath          string
	EmbeddingModel        string
	EmbeddingCacheEntries int
	RetrievalTopK         int
	RetrievalTimeout      time.Duration
	PassageMaxChars       int

	MaxMessageWords int
	MaxMessageChars int
}

// Load reads environment variables, applies defaults and validates the result.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		ShutdownTimeout:       15 * time.Second,
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "storai"),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		LogFormat:             envOrDefault("LOG_FORMAT", "console"),
		DatabaseURL:           trimmed("DATABASE_URL"),
		ChatKey:               trimmed("CHAT_KEY"),
		GenerationProvider:    strings.ToLower(envOrDefault("GENERATION_PROVIDER", "auto")),
		OpenAIAPIKey:          trimmed("OPENAI_API_KEY"),
		OpenAIBaseURL:         trimmed("OPENAI_BASE_URL"),
		OpenAIModel:           envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		AnthropicAPIKey:       trimmed("ANTHROPIC_API_KEY"),
		AnthropicModel:        envOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		GenerationMaxTokens:   700,
		GenerationTimeout:     30 * time.Second,
		GenerationRetries:     2,
		SummaryMaxTokens:      300,
		CompactionTimeout:     30 * time.Second,
		VectorDBPath:          trimmed("VECTOR_DB_PATH"),
		EmbeddingModel:        envOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingCacheEntries: 4096,
		RetrievalTopK:         4,
		RetrievalTimeout:      5 * time.Second,
		PassageMaxChars:       500,
		MaxMessageWords:       50,
		MaxMessageChars:       400,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.GenerationTimeout, err = durationFromEnv("GENERATION_TIMEOUT", cfg.GenerationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.CompactionTimeout, err = durationFromEnv("COMPACTION_TIMEOUT", cfg.CompactionTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetrievalTimeout, err = durationFromEnv("RETRIEVAL_TIMEOUT", cfg.RetrievalTimeout); err != nil {
		return Config{}, err
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"GENERATION_MAX_TOKENS", &cfg.GenerationMaxTokens},
		{"GENERATION_RETRIES", &cfg.GenerationRetries},
		{"SUMMARY_MAX_TOKENS", &cfg.SummaryMaxTokens},
		{"EMBEDDING_CACHE_ENTRIES", &cfg.EmbeddingCacheEntries},
		{"RETRIEVAL_TOP_K", &cfg.RetrievalTopK},
		{"PASSAGE_MAX_CHARS", &cfg.PassageMaxChars},
		{"MAX_MESSAGE_WORDS", &cfg.MaxMessageWords},
		{"MAX_MESSAGE_CHARS", &cfg.MaxMessageChars},
	}
	for _, f := range ints {
		if *f.dst, err = intFromEnv(f.key, *f.dst); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	if c.ChatKey == "" {
		return fmt.Errorf("CHAT_KEY is required")
	}
	if _, err := cipher.NewFromBase64(c.ChatKey); err != nil {
		return fmt.Errorf("CHAT_KEY invalid: %w", err)
	}

	switch c.GenerationProvider {
	case "auto", "mock":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("GENERATION_PROVIDER=openai requires OPENAI_API_KEY")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("GENERATION_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("GENERATION_PROVIDER must be one of auto|openai|anthropic|mock, got %q", c.GenerationProvider)
	}

	positive := []struct {
		key string
		v   int
	}{
		{"GENERATION_MAX_TOKENS", c.GenerationMaxTokens},
		{"SUMMARY_MAX_TOKENS", c.SummaryMaxTokens},
		{"EMBEDDING_CACHE_ENTRIES", c.EmbeddingCacheEntries},
		{"RETRIEVAL_TOP_K", c.RetrievalTopK},
		{"PASSAGE_MAX_CHARS", c.PassageMaxChars},
		{"MAX_MESSAGE_WORDS", c.MaxMessageWords},
		{"MAX_MESSAGE_CHARS", c.MaxMessageChars},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.key, p.v)
		}
	}
	if c.GenerationRetries < 0 {
		return fmt.Errorf("GENERATION_RETRIES must not be negative, got %d", c.GenerationRetries)
	}
	// passages shorter than the ellipsis cannot carry any text
	if c.PassageMaxChars < 4 {
		return fmt.Errorf("PASSAGE_MAX_CHARS must be at least 4, got %d", c.PassageMaxChars)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmed(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

// Package generation wraps the generative language model providers behind a
// single Generator interface.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/observability"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Messages  []Message
	MaxTokens int
	// Temperature is left to the provider default when nil.
	Temperature   *float64
	StopSequences []string
}

// Generator produces one complete reply for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var ErrEmptyResponse = errors.New("model returned an empty response")

// StatusError carries the upstream HTTP status of a failed provider call.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Temperature returns a pointer for Request.Temperature.
func Temperature(v float64) *float64 { return &v }

// Config controls generator construction.
type Config struct {
	Mode string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	AnthropicAPIKey string
	AnthropicModel  string

	MaxRetries int
	RetryBase  time.Duration
	RetryCap   time.Duration

	Metrics *observability.Metrics
}

// New builds the generator selected by cfg.Mode (auto|openai|anthropic|mock).
// Real providers are wrapped with retry on transient upstream statuses.
func New(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	openaiGen := func() (Generator, error) {
		p, err := NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		return withRetry(p, "openai", cfg), nil
	}
	anthropicGen := func() (Generator, error) {
		p, err := NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if err != nil {
			return nil, err
		}
		return withRetry(p, "anthropic", cfg), nil
	}

	switch mode {
	case "openai":
		return openaiGen()
	case "anthropic":
		return anthropicGen()
	case "mock":
		return NewMockGenerator(), nil
	case "auto":
		return newAuto(cfg, openaiGen, anthropicGen)
	default:
		return nil, fmt.Errorf("unsupported generation provider %q (expected auto|openai|anthropic|mock)", cfg.Mode)
	}
}

func newAuto(cfg Config, openaiGen, anthropicGen func() (Generator, error)) (Generator, error) {
	var chain []Generator
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		g, err := openaiGen()
		if err != nil {
			return nil, err
		}
		chain = append(chain, g)
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		g, err := anthropicGen()
		if err != nil {
			return nil, err
		}
		chain = append(chain, g)
	}

	switch len(chain) {
	case 0:
		logging.Default().Warn("no generation API key configured, using mock generator")
		return NewMockGenerator(), nil
	case 1:
		return chain[0], nil
	default:
		return NewFallbackGenerator(chain[0], chain[1]), nil
	}
}

func withRetry(g Generator, provider string, cfg Config) Generator {
	if cfg.MaxRetries <= 0 {
		return g
	}
	return &RetryGenerator{
		next:       g,
		provider:   provider,
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBase,
		cap:        cfg.RetryCap,
		metrics:    cfg.Metrics,
	}
}

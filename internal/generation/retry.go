package generation

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/observability"
	"github.com/antoniostano/storai/internal/reliability"
)

// RetryGenerator retries transient upstream failures with capped backoff.
type RetryGenerator struct {
	next       Generator
	provider   string
	maxRetries int
	base       time.Duration
	cap        time.Duration
	metrics    *observability.Metrics
}

func NewRetryGenerator(next Generator, provider string, maxRetries int, base, cap time.Duration, metrics *observability.Metrics) *RetryGenerator {
	return &RetryGenerator{
		next:       next,
		provider:   provider,
		maxRetries: maxRetries,
		base:       base,
		cap:        cap,
		metrics:    metrics,
	}
}

func (g *RetryGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var text string
	err := reliability.Retry(ctx, reliability.Policy{
		MaxRetries: g.maxRetries,
		Base:       g.base,
		Cap:        g.cap,
		Retryable:  isRetryable,
		OnRetry: func(attempt int, err error) {
			g.metrics.ObserveGenerationRetry(g.provider)
			logging.From(ctx).Warn("retrying generation",
				"provider", g.provider,
				"attempt", attempt,
				"error", err,
			)
		},
	}, func(ctx context.Context) error {
		var err error
		text, err = g.next.Generate(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.Code)
	}
	return false
}

package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/antoniostano/storai/internal/logging"
)

// FallbackGenerator tries a primary generator first and falls back on error.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g == nil || g.primary == nil {
		if g != nil && g.fallback != nil {
			return g.fallback.Generate(ctx, req)
		}
		return "", fmt.Errorf("fallback generator misconfigured")
	}

	text, err := g.primary.Generate(ctx, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	if g.fallback == nil {
		return "", err
	}

	logging.From(ctx).Warn("primary generator failed, trying fallback", "error", err)
	text, fallbackErr := g.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary generator error: %w; fallback generator error: %v", err, fallbackErr)
	}
	return text, nil
}

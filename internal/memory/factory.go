package memory

import (
	"context"
	"strings"
)

// NewRepository creates a postgres-backed repository when configured, otherwise in-memory.
func NewRepository(ctx context.Context, databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryRepository(), nil
	}
	return NewPostgresRepository(ctx, databaseURL)
}

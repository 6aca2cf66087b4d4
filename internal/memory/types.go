package memory

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("summary not found")

// Record is one stored conversation summary. The summary is only ever held
// here as ciphertext.
type Record struct {
	UserID     string    `json:"user_id"`
	Persona    string    `json:"persona"`
	Ciphertext []byte    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Repository persists encrypted summary rows keyed by (user, persona) and the
// per-user chat counter.
type Repository interface {
	GetSummary(ctx context.Context, userID, persona string) (Record, error)
	UpsertSummary(ctx context.Context, rec Record) error
	// PurgeUser removes every summary row of the user and resets the chat
	// counter in one atomic step.
	PurgeUser(ctx context.Context, userID string) error
	IncrementChats(ctx context.Context, userID string) error
	ChatCount(ctx context.Context, userID string) (int, error)
	Close() error
}

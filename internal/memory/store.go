// Package memory keeps one encrypted running summary per (user, persona).
package memory

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/storai/internal/cipher"
	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/observability"
	"github.com/antoniostano/storai/internal/persona"
)

// Store encrypts summaries before they reach the repository and degrades
// unreadable rows to an empty summary.
type Store struct {
	repo    Repository
	cipher  *cipher.Cipher
	metrics *observability.Metrics
}

func NewStore(repo Repository, c *cipher.Cipher, metrics *observability.Metrics) *Store {
	return &Store{repo: repo, cipher: c, metrics: metrics}
}

// Load returns the decrypted summary, or "" when there is none or it cannot
// be read.
func (s *Store) Load(ctx context.Context, userID string, p persona.Persona) string {
	log := logging.From(ctx).With("user_id", userID, "persona", p.String())

	rec, err := s.repo.GetSummary(ctx, userID, p.String())
	if errors.Is(err, ErrNotFound) {
		return ""
	}
	if err != nil {
		log.Error("summary lookup failed, continuing without memory", "error", err)
		return ""
	}
	if len(rec.Ciphertext) == 0 {
		return ""
	}

	summary, err := s.cipher.Decrypt(rec.Ciphertext)
	if err != nil {
		s.metrics.ObserveDecryptFailure()
		log.Error("stored summary is unreadable, treating as empty",
			"error", err,
			"updated_at", rec.UpdatedAt,
			"ciphertext_len", len(rec.Ciphertext),
		)
		return ""
	}
	return summary
}

// Save encrypts and upserts the summary. Concurrent saves for the same key
// are last-write-wins.
func (s *Store) Save(ctx context.Context, userID string, p persona.Persona, summary string) error {
	blob, err := s.cipher.Encrypt(summary)
	if err != nil {
		return goerr.Wrap(err, "encrypt summary", goerr.V("user_id", userID), goerr.V("persona", p.String()))
	}
	return s.repo.UpsertSummary(ctx, Record{
		UserID:     userID,
		Persona:    p.String(),
		Ciphertext: blob,
	})
}

// Purge deletes every persona's summary for the user and resets the chat counter.
func (s *Store) Purge(ctx context.Context, userID string) error {
	if err := s.repo.PurgeUser(ctx, userID); err != nil {
		return goerr.Wrap(err, "purge memory", goerr.V("user_id", userID))
	}
	return nil
}

// RecordTurn bumps the user's completed-chat counter.
func (s *Store) RecordTurn(ctx context.Context, userID string) error {
	return s.repo.IncrementChats(ctx, userID)
}

func (s *Store) ChatCount(ctx context.Context, userID string) (int, error) {
	return s.repo.ChatCount(ctx, userID)
}

func (s *Store) Close() error {
	return s.repo.Close()
}

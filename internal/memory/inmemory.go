package memory

import (
	"context"
	"sync"
	"time"
)

type summaryKey struct {
	userID  string
	persona string
}

// InMemoryRepository is a simple in-process repository for local/dev use.
type InMemoryRepository struct {
	mu        sync.RWMutex
	summaries map[summaryKey]Record
	chats     map[string]int
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		summaries: make(map[summaryKey]Record),
		chats:     make(map[string]int),
	}
}

func (r *InMemoryRepository) GetSummary(_ context.Context, userID, persona string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.summaries[summaryKey{userID, persona}]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Ciphertext = append([]byte(nil), rec.Ciphertext...)
	return rec, nil
}

func (r *InMemoryRepository) UpsertSummary(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	rec.Ciphertext = append([]byte(nil), rec.Ciphertext...)
	r.summaries[summaryKey{rec.UserID, rec.Persona}] = rec
	return nil
}

func (r *InMemoryRepository) PurgeUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.summaries {
		if k.userID == userID {
			delete(r.summaries, k)
		}
	}
	delete(r.chats, userID)
	return nil
}

func (r *InMemoryRepository) IncrementChats(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats[userID]++
	return nil
}

func (r *InMemoryRepository) ChatCount(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chats[userID], nil
}

func (r *InMemoryRepository) Close() error { return nil }

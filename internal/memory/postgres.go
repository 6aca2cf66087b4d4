package memory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
)

// PostgresRepository persists encrypted summaries in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "connect postgres")
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_summaries (
			user_id TEXT NOT NULL,
			ai_type TEXT NOT NULL,
			summary BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, ai_type)
		);`,
		`CREATE TABLE IF NOT EXISTS chat_counters (
			user_id TEXT PRIMARY KEY,
			num_chats INTEGER NOT NULL DEFAULT 0
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return goerr.Wrap(err, "init schema failed", goerr.V("stmt", stmt))
		}
	}
	return nil
}

func (r *PostgresRepository) GetSummary(ctx context.Context, userID, persona string) (Record, error) {
	rec := Record{UserID: userID, Persona: persona}
	err := r.pool.QueryRow(ctx,
		`SELECT summary, updated_at FROM chat_summaries WHERE user_id=$1 AND ai_type=$2`,
		userID,
		persona,
	).Scan(&rec.Ciphertext, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, goerr.Wrap(err, "query summary", goerr.V("user_id", userID), goerr.V("persona", persona))
	}
	return rec, nil
}

func (r *PostgresRepository) UpsertSummary(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_summaries (user_id, ai_type, summary, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, ai_type)
		 DO UPDATE SET summary=EXCLUDED.summary, updated_at=EXCLUDED.updated_at`,
		rec.UserID,
		rec.Persona,
		rec.Ciphertext,
		rec.UpdatedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "upsert summary", goerr.V("user_id", rec.UserID), goerr.V("persona", rec.Persona))
	}
	return nil
}

func (r *PostgresRepository) PurgeUser(ctx context.Context, userID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return goerr.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM chat_summaries WHERE user_id=$1`, userID); err != nil {
		return goerr.Wrap(err, "delete summaries", goerr.V("user_id", userID))
	}
	if _, err := tx.Exec(ctx, `UPDATE chat_counters SET num_chats=0 WHERE user_id=$1`, userID); err != nil {
		return goerr.Wrap(err, "reset chat counter", goerr.V("user_id", userID))
	}
	if err := tx.Commit(ctx); err != nil {
		return goerr.Wrap(err, "commit purge", goerr.V("user_id", userID))
	}
	return nil
}

func (r *PostgresRepository) IncrementChats(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_counters (user_id, num_chats) VALUES ($1, 1)
		 ON CONFLICT (user_id) DO UPDATE SET num_chats=chat_counters.num_chats+1`,
		userID,
	)
	if err != nil {
		return goerr.Wrap(err, "increment chat counter", goerr.V("user_id", userID))
	}
	return nil
}

func (r *PostgresRepository) ChatCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT num_chats FROM chat_counters WHERE user_id=$1`, userID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, goerr.Wrap(err, "query chat counter", goerr.V("user_id", userID))
	}
	return n, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

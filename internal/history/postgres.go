package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversationEntries = `
CREATE TABLE IF NOT EXISTS conversation_entries (
    id              UUID         PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    role            TEXT         NOT NULL,
    message         TEXT         NOT NULL,
    at              TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_entries_conversation_at
    ON conversation_entries (conversation_id, at);
`

// PGStore is a PostgreSQL-backed Store for the SMS daemon, where conversation
// history must survive restarts.
//
// All methods are safe for concurrent use.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore establishes a connection pool to the database at dsn and ensures
// the conversation_entries table exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlConversationEntries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Append implements Store. Eviction happens in the same statement batch so a
// crash between insert and trim cannot grow a conversation unboundedly.
func (s *PGStore) Append(ctx context.Context, id string, entry Entry) error {
	const insert = `
		INSERT INTO conversation_entries (id, conversation_id, role, message, at)
		VALUES ($1, $2, $3, $4, $5)`

	const trim = `
		DELETE FROM conversation_entries
		WHERE conversation_id = $1
		  AND id NOT IN (
		    SELECT id FROM conversation_entries
		    WHERE conversation_id = $1
		    ORDER BY at DESC
		    LIMIT $2
		  )`

	batch := &pgx.Batch{}
	batch.Queue(insert, uuid.New(), id, entry.Role, entry.Message, entry.At)
	batch.Queue(trim, id, MaxEntries)

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// History implements Store.
func (s *PGStore) History(ctx context.Context, id string) ([]Entry, error) {
	const q = `
		SELECT role, message, at
		FROM   conversation_entries
		WHERE  conversation_id = $1
		ORDER  BY at`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.Role, &e.Message, &e.At)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Reset implements Store.
func (s *PGStore) Reset(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_entries WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("history: reset: %w", err)
	}
	return nil
}

// Ping verifies the database connection is still usable.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Package postgres implements anvil.ConversationStore using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool; Close on the store is a
// no-op for the pool itself.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	anvil "github.com/nevindra/anvil"
)

// Store implements anvil.ConversationStore backed by PostgreSQL.
// Snapshots are stored as JSONB documents keyed by conversation id.
type Store struct {
	pool *pgxpool.Pool
}

var _ anvil.ConversationStore = (*Store)(nil)

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the schema if absent.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			archived   BOOLEAN NOT NULL DEFAULT FALSE,
			document   JSONB NOT NULL,
			updated_at BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("postgres: init schema: %w", err)
	}
	return nil
}

// Upsert writes the conversation snapshot, replacing any prior version.
func (s *Store) Upsert(ctx context.Context, conv anvil.Conversation) error {
	document, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("postgres: encode conversation: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, archived, document, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			archived = EXCLUDED.archived,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		conv.ID, conv.Archived, document, anvil.NowUnix())
	if err != nil {
		return fmt.Errorf("postgres: upsert conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Get returns the conversation with the given id.
func (s *Store) Get(ctx context.Context, id string) (anvil.Conversation, error) {
	var document []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM conversations WHERE id = $1`, id).Scan(&document)
	if err != nil {
		return anvil.Conversation{}, fmt.Errorf("postgres: get conversation %s: %w", id, err)
	}
	var conv anvil.Conversation
	if err := json.Unmarshal(document, &conv); err != nil {
		return anvil.Conversation{}, fmt.Errorf("postgres: decode conversation %s: %w", id, err)
	}
	return conv, nil
}

// List returns conversation snapshots, newest first, up to limit.
func (s *Store) List(ctx context.Context, limit int) ([]anvil.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM conversations ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	defer rows.Close()

	var out []anvil.Conversation
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}
		var conv anvil.Conversation
		if err := json.Unmarshal(document, &conv); err != nil {
			continue
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// Archive marks the conversation archived.
func (s *Store) Archive(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET archived = TRUE,
		    document = jsonb_set(document, '{archived}', 'true'),
		    updated_at = $1
		WHERE id = $2`, anvil.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("postgres: archive conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: archive conversation %s: not found", id)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

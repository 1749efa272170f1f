// Package sqlite implements anvil.ConversationStore using pure-Go SQLite.
// Zero CGO required. Conversation snapshots are stored as JSON documents
// keyed by conversation id.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	anvil "github.com/nevindra/anvil"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements anvil.ConversationStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ anvil.ConversationStore = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the schema if absent.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			archived   INTEGER NOT NULL DEFAULT 0,
			document   TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
	}
	return nil
}

// Upsert writes the conversation snapshot, replacing any prior version.
func (s *Store) Upsert(ctx context.Context, conv anvil.Conversation) error {
	document, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("sqlite: encode conversation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, archived, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			archived = excluded.archived,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		conv.ID, boolInt(conv.Archived), string(document), anvil.NowUnix())
	if err != nil {
		return fmt.Errorf("sqlite: upsert conversation %s: %w", conv.ID, err)
	}
	s.logger.Debug("sqlite: conversation upserted", "id", conv.ID, "bytes", len(document))
	return nil
}

// Get returns the conversation with the given id.
func (s *Store) Get(ctx context.Context, id string) (anvil.Conversation, error) {
	var document string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM conversations WHERE id = ?`, id).Scan(&document)
	if err != nil {
		return anvil.Conversation{}, fmt.Errorf("sqlite: get conversation %s: %w", id, err)
	}
	var conv anvil.Conversation
	if err := json.Unmarshal([]byte(document), &conv); err != nil {
		return anvil.Conversation{}, fmt.Errorf("sqlite: decode conversation %s: %w", id, err)
	}
	return conv, nil
}

// List returns conversation snapshots, newest first, up to limit.
func (s *Store) List(ctx context.Context, limit int) ([]anvil.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conversations: %w", err)
	}
	defer rows.Close()

	var out []anvil.Conversation
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}
		var conv anvil.Conversation
		if err := json.Unmarshal([]byte(document), &conv); err != nil {
			continue // skip undecodable rows
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// Archive marks the conversation archived.
func (s *Store) Archive(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET archived = 1,
		    document = json_set(document, '$.archived', json('true')),
		    updated_at = ?
		WHERE id = ?`, anvil.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("sqlite: archive conversation %s: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("sqlite: archive conversation %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

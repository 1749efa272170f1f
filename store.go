package anvil

import "context"

// ConversationStore abstracts conversation persistence. The orchestrator
// upserts a snapshot after every turn-loop iteration; readers use Get/List
// for inspection and resumption.
type ConversationStore interface {
	// Upsert writes the conversation snapshot, replacing any prior version.
	Upsert(ctx context.Context, conv Conversation) error
	// Get returns the conversation with the given id.
	Get(ctx context.Context, id string) (Conversation, error)
	// List returns conversation snapshots, newest first, up to limit.
	List(ctx context.Context, limit int) ([]Conversation, error)
	// Archive marks the conversation archived.
	Archive(ctx context.Context, id string) error
	// Close releases underlying resources.
	Close() error
}

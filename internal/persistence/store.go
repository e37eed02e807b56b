// Package persistence defines the storage interface the core consumes. The
// core never talks to a database directly; it functions against the in-memory
// implementation in tests and the SQLite implementation in production.
package persistence

import (
	"context"

	"github.com/sankalp-s/dialogmem/internal/models"
)

// Store is the persistence contract consumed by the core.
type Store interface {
	// LoadUserWeights returns every learned weight for the user, keyed by
	// pattern name. A user with no feedback yields an empty map.
	LoadUserWeights(ctx context.Context, userID string) (map[string]models.UserWeight, error)

	// SaveUserWeight inserts or updates one (user, pattern) weight row.
	SaveUserWeight(ctx context.Context, w models.UserWeight) error

	// AppendMemoryItems appends the items produced for a conversation.
	AppendMemoryItems(ctx context.Context, conversationID string, items []models.MemoryItem) error

	// UpsertEntities writes the conversation's final entity state for a user.
	UpsertEntities(ctx context.Context, userID string, entities []*models.Entity) error

	// AppendEntityMentions appends mention records for a conversation.
	AppendEntityMentions(ctx context.Context, conversationID string, mentions []models.Mention) error

	// AppendFeedback appends one feedback record.
	AppendFeedback(ctx context.Context, rec models.FeedbackRecord) error

	// Close cleans up resources.
	Close() error
}

package persistence

import (
	"context"
	"sync"

	"github.com/sankalp-s/dialogmem/internal/models"
)

// MemStore is an in-memory implementation of Store. It backs tests and
// ephemeral deployments.
type MemStore struct {
	mu       sync.RWMutex
	weights  map[string]map[string]models.UserWeight // userID -> pattern -> weight
	items    map[string][]models.MemoryItem          // conversationID -> items
	entities map[string]map[string]*models.Entity    // userID -> entityID -> entity
	mentions map[string][]models.Mention             // conversationID -> mentions
	feedback []models.FeedbackRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		weights:  make(map[string]map[string]models.UserWeight),
		items:    make(map[string][]models.MemoryItem),
		entities: make(map[string]map[string]*models.Entity),
		mentions: make(map[string][]models.Mention),
	}
}

// LoadUserWeights returns a copy of the user's weight rows.
func (m *MemStore) LoadUserWeights(_ context.Context, userID string) (map[string]models.UserWeight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.UserWeight, len(m.weights[userID]))
	for k, v := range m.weights[userID] {
		out[k] = v
	}
	return out, nil
}

// SaveUserWeight inserts or replaces one weight row.
func (m *MemStore) SaveUserWeight(_ context.Context, w models.UserWeight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.weights[w.UserID] == nil {
		m.weights[w.UserID] = make(map[string]models.UserWeight)
	}
	m.weights[w.UserID][w.PatternName] = w
	return nil
}

// AppendMemoryItems appends deep copies of the items.
func (m *MemStore) AppendMemoryItems(_ context.Context, conversationID string, items []models.MemoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.items[conversationID] = append(m.items[conversationID], copyItem(it))
	}
	return nil
}

// MemoryItems returns the stored items for a conversation.
func (m *MemStore) MemoryItems(conversationID string) []models.MemoryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.MemoryItem, 0, len(m.items[conversationID]))
	for _, it := range m.items[conversationID] {
		out = append(out, copyItem(it))
	}
	return out
}

// UpsertEntities writes deep copies of the entities under the user.
func (m *MemStore) UpsertEntities(_ context.Context, userID string, entities []*models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entities[userID] == nil {
		m.entities[userID] = make(map[string]*models.Entity)
	}
	for _, e := range entities {
		c := copyEntity(e)
		m.entities[userID][e.ID] = &c
	}
	return nil
}

// Entities returns the stored entities for a user.
func (m *MemStore) Entities(userID string) []*models.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Entity, 0, len(m.entities[userID]))
	for _, e := range m.entities[userID] {
		c := copyEntity(e)
		out = append(out, &c)
	}
	return out
}

// AppendEntityMentions appends mention records.
func (m *MemStore) AppendEntityMentions(_ context.Context, conversationID string, mentions []models.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mentions[conversationID] = append(m.mentions[conversationID], mentions...)
	return nil
}

// AppendFeedback appends one feedback record.
func (m *MemStore) AppendFeedback(_ context.Context, rec models.FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, rec)
	return nil
}

// FeedbackRecords returns every stored feedback record.
func (m *MemStore) FeedbackRecords() []models.FeedbackRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FeedbackRecord, len(m.feedback))
	copy(out, m.feedback)
	return out
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }

// --- deep copies keep stored state isolated from caller mutation ---

func copyItem(it models.MemoryItem) models.MemoryItem {
	out := it
	out.MatchedPatterns = append([]models.PatternMatch(nil), it.MatchedPatterns...)
	out.Categories = append([]string(nil), it.Categories...)
	out.EntityRefs = append([]string(nil), it.EntityRefs...)
	out.Trace = append([]models.TraceEntry(nil), it.Trace...)
	if it.SupersededBy != nil {
		ref := *it.SupersededBy
		out.SupersededBy = &ref
	}
	return out
}

func copyEntity(e *models.Entity) models.Entity {
	out := *e
	out.Aliases = append([]string(nil), e.Aliases...)
	if e.Attributes != nil {
		out.Attributes = make(map[string][]models.AttributeValue, len(e.Attributes))
		for k, vals := range e.Attributes {
			out.Attributes[k] = append([]models.AttributeValue(nil), vals...)
		}
	}
	return out
}

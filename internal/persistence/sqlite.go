package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sankalp-s/dialogmem/internal/models"
)

// SQLiteStore implements Store using SQLite. It is the production shape of
// the persistence schema; the core only ever touches it through the Store
// interface.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id    TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		user_id         TEXT,
		created_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_items (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id  TEXT NOT NULL,
		turn_index       INTEGER NOT NULL,
		speaker          TEXT NOT NULL,
		content          TEXT NOT NULL,
		raw_score        INTEGER NOT NULL,
		adjusted_score   REAL NOT NULL,
		pre_decay_score  REAL NOT NULL,
		retention        TEXT NOT NULL,
		matched_patterns TEXT,
		categories       TEXT,
		entity_refs      TEXT,
		superseded_by    TEXT,
		reasoning        TEXT NOT NULL,
		trace            TEXT,
		evict            INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_conversation ON memory_items(conversation_id, turn_index);
	CREATE INDEX IF NOT EXISTS idx_items_retention ON memory_items(retention);

	CREATE TABLE IF NOT EXISTS entities (
		entity_id        TEXT NOT NULL,
		user_id          TEXT NOT NULL,
		entity_type      TEXT NOT NULL,
		canonical_name   TEXT NOT NULL,
		aliases          TEXT,
		attributes       TEXT,
		first_turn       INTEGER NOT NULL,
		last_turn        INTEGER NOT NULL,
		mention_count    INTEGER NOT NULL,
		importance_score REAL NOT NULL,
		updated_at       TEXT NOT NULL,
		PRIMARY KEY (user_id, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(user_id, entity_type);

	CREATE TABLE IF NOT EXISTS entity_mentions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		entity_id       TEXT NOT NULL,
		turn_index      INTEGER NOT NULL,
		surface         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mentions_entity ON entity_mentions(entity_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id            TEXT NOT NULL,
		statement          TEXT NOT NULL,
		actual_retention   TEXT NOT NULL,
		expected_retention TEXT NOT NULL,
		feedback_type      TEXT NOT NULL,
		category_override  TEXT,
		created_at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_user ON feedback(user_id);

	CREATE TABLE IF NOT EXISTS user_weights (
		user_id           TEXT NOT NULL,
		pattern_name      TEXT NOT NULL,
		weight_adjustment REAL NOT NULL,
		feedback_count    INTEGER NOT NULL,
		updated_at        TEXT NOT NULL,
		PRIMARY KEY (user_id, pattern_name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadUserWeights returns every learned weight row for the user.
func (s *SQLiteStore) LoadUserWeights(ctx context.Context, userID string) (map[string]models.UserWeight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern_name, weight_adjustment, feedback_count
		 FROM user_weights WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("load user weights: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.UserWeight)
	for rows.Next() {
		w := models.UserWeight{UserID: userID}
		if err := rows.Scan(&w.PatternName, &w.Adjustment, &w.FeedbackCount); err != nil {
			return nil, fmt.Errorf("scan user weight: %w", err)
		}
		out[w.PatternName] = w
	}
	return out, rows.Err()
}

// SaveUserWeight upserts one (user, pattern) weight row.
func (s *SQLiteStore) SaveUserWeight(ctx context.Context, w models.UserWeight) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_weights (user_id, pattern_name, weight_adjustment, feedback_count, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, pattern_name) DO UPDATE SET
		   weight_adjustment = excluded.weight_adjustment,
		   feedback_count    = excluded.feedback_count,
		   updated_at        = excluded.updated_at`,
		w.UserID, w.PatternName, w.Adjustment, w.FeedbackCount, now)
	if err != nil {
		return fmt.Errorf("save user weight: %w", err)
	}
	return nil
}

// AppendMemoryItems inserts the items for a conversation in one transaction.
func (s *SQLiteStore) AppendMemoryItems(ctx context.Context, conversationID string, items []models.MemoryItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append memory items: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (conversation_id, user_id, created_at) VALUES (?, NULL, ?)`,
		conversationID, now); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}

	for i := range items {
		it := &items[i]
		var superseded *string
		if it.SupersededBy != nil {
			b, _ := json.Marshal(it.SupersededBy)
			str := string(b)
			superseded = &str
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO memory_items (conversation_id, turn_index, speaker, content,
			   raw_score, adjusted_score, pre_decay_score, retention, matched_patterns,
			   categories, entity_refs, superseded_by, reasoning, trace, evict, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, it.Utterance.TurnIndex, it.Utterance.Speaker, it.Content,
			it.RawScore, it.AdjustedScore, it.PreDecayScore, string(it.Retention),
			marshalJSON(it.MatchedPatterns), marshalJSON(it.Categories),
			marshalJSON(it.EntityRefs), superseded, it.Reasoning,
			marshalJSON(it.Trace), boolInt(it.Evict), now)
		if err != nil {
			return fmt.Errorf("insert memory item: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertEntities writes the final entity state for a user.
func (s *SQLiteStore) UpsertEntities(ctx context.Context, userID string, entities []*models.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert entities: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, created_at) VALUES (?, ?)`, userID, now); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	for _, e := range entities {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entities (entity_id, user_id, entity_type, canonical_name,
			   aliases, attributes, first_turn, last_turn, mention_count, importance_score, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, entity_id) DO UPDATE SET
			   canonical_name   = excluded.canonical_name,
			   aliases          = excluded.aliases,
			   attributes       = excluded.attributes,
			   last_turn        = excluded.last_turn,
			   mention_count    = excluded.mention_count,
			   importance_score = excluded.importance_score,
			   updated_at       = excluded.updated_at`,
			e.ID, userID, string(e.Type), e.CanonicalName,
			marshalJSON(e.Aliases), marshalJSON(e.Attributes),
			e.FirstTurn, e.LastTurn, e.MentionCount, e.ImportanceScore, now)
		if err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	}
	return tx.Commit()
}

// AppendEntityMentions inserts mention records for a conversation.
func (s *SQLiteStore) AppendEntityMentions(ctx context.Context, conversationID string, mentions []models.Mention) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append mentions: %w", err)
	}
	defer tx.Rollback()

	for _, m := range mentions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_mentions (conversation_id, entity_id, turn_index, surface)
			 VALUES (?, ?, ?, ?)`,
			conversationID, m.EntityID, m.TurnIndex, m.Surface); err != nil {
			return fmt.Errorf("insert mention: %w", err)
		}
	}
	return tx.Commit()
}

// AppendFeedback inserts one feedback record.
func (s *SQLiteStore) AppendFeedback(ctx context.Context, rec models.FeedbackRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (user_id, statement, actual_retention, expected_retention,
		   feedback_type, category_override, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Statement, string(rec.ActualRetention), string(rec.ExpectedRetention),
		string(rec.Type), rec.CategoryOverride, createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalJSON(v any) *string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil
	}
	str := string(b)
	return &str
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package contradiction

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sankalp-s/dialogmem/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func item(turn uint32, content string, retention models.RetentionLevel, score float64, categories ...string) *models.MemoryItem {
	return &models.MemoryItem{
		Utterance:     models.UtteranceRef{TurnIndex: turn, Speaker: "Speaker1"},
		Content:       content,
		AdjustedScore: score,
		PreDecayScore: score,
		Retention:     retention,
		Categories:    categories,
		Reasoning:     "test",
	}
}

func TestSushiContradiction(t *testing.T) {
	d := New(testLogger())

	older := item(4, "I love sushi.", models.RetentionShortTerm, 13, "preference")
	newer := item(10, "I can't eat sushi anymore — shellfish allergy.", models.RetentionLongTerm, 26, "preference", "medical")

	events := d.Apply(newer, []*models.MemoryItem{older})
	require.Len(t, events, 1)

	require.NotNil(t, older.SupersededBy)
	assert.Equal(t, uint32(10), older.SupersededBy.TurnIndex)
	assert.Equal(t, 31.0, newer.AdjustedScore)

	bonus := false
	for _, e := range newer.Trace {
		if e.Source == models.TraceContradictionBonus {
			bonus = true
			assert.Equal(t, 5.0, e.Delta)
		}
	}
	assert.True(t, bonus)
}

func TestNoContradictionWithoutNegationAsymmetry(t *testing.T) {
	d := New(testLogger())

	older := item(2, "I love sushi.", models.RetentionShortTerm, 13, "preference")
	newer := item(6, "I love sushi rolls.", models.RetentionShortTerm, 13, "preference")

	events := d.Apply(newer, []*models.MemoryItem{older})
	assert.Empty(t, events)
	assert.Nil(t, older.SupersededBy)
}

func TestNoContradictionWithoutSharedNoun(t *testing.T) {
	d := New(testLogger())

	older := item(2, "I love sushi.", models.RetentionShortTerm, 13, "preference")
	newer := item(6, "I can't eat peanuts anymore.", models.RetentionShortTerm, 11, "preference")

	events := d.Apply(newer, []*models.MemoryItem{older})
	assert.Empty(t, events)
}

func TestHypotheticalsAreNotContradictions(t *testing.T) {
	d := New(testLogger())

	older := item(2, "I love sushi.", models.RetentionShortTerm, 13, "preference")
	newer := item(6, "I might stop eating sushi, not sure yet.", models.RetentionShortTerm, 11, "preference")

	events := d.Apply(newer, []*models.MemoryItem{older})
	assert.Empty(t, events)
}

func TestDiscardedItemsNeverParticipate(t *testing.T) {
	d := New(testLogger())

	older := item(2, "I love sushi.", models.RetentionImmediateDiscard, 1, "preference")
	newer := item(6, "I can't eat sushi anymore.", models.RetentionLongTerm, 20, "preference")

	assert.Empty(t, d.Apply(newer, []*models.MemoryItem{older}))

	discardNew := item(7, "I can't eat sushi anymore.", models.RetentionImmediateDiscard, 1, "preference")
	retained := item(2, "I love sushi.", models.RetentionShortTerm, 13, "preference")
	assert.Empty(t, d.Apply(discardNew, []*models.MemoryItem{retained}))
}

func TestSupersededByPointsForwardOnly(t *testing.T) {
	d := New(testLogger())

	// The "older" item is actually from a later turn; nothing may supersede it.
	later := item(12, "I love sushi.", models.RetentionShortTerm, 13, "preference")
	newer := item(10, "I can't eat sushi anymore.", models.RetentionLongTerm, 20, "preference")

	assert.Empty(t, d.Apply(newer, []*models.MemoryItem{later}))
	assert.Nil(t, later.SupersededBy)
}

func TestBonusAppliedOncePerItem(t *testing.T) {
	d := New(testLogger())

	a := item(2, "I love sushi.", models.RetentionShortTerm, 13, "preference")
	b := item(3, "Sushi is my favorite, I love sushi.", models.RetentionShortTerm, 13, "preference")
	newer := item(9, "I can't eat sushi anymore.", models.RetentionLongTerm, 20, "preference")

	events := d.Apply(newer, []*models.MemoryItem{a, b})
	require.Len(t, events, 2)
	assert.Equal(t, 25.0, newer.AdjustedScore)
	assert.NotNil(t, a.SupersededBy)
	assert.NotNil(t, b.SupersededBy)
}

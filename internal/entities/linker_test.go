package entities

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sankalp-s/dialogmem/internal/models"
	"github.com/sankalp-s/dialogmem/internal/patterns"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newLinker(t *testing.T, userID string) *Linker {
	t.Helper()
	reg, err := patterns.Default(testLogger())
	require.NoError(t, err)
	return New(reg, 3, userID, testLogger())
}

func utt(turn uint32, text string) models.Utterance {
	return models.Utterance{TurnIndex: turn, Speaker: "Speaker1", Text: text}
}

func TestPronounLinking(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(13, "My daughter Emily just started kindergarten."), 20, g)
	l.Link(utt(18, "She had a nightmare last night."), 8, g)

	people := []*models.Entity{}
	for _, e := range g.Entities() {
		if e.Type == models.EntityTypePerson {
			people = append(people, e)
		}
	}
	require.Len(t, people, 1)

	emily := people[0]
	assert.Equal(t, "Emily", emily.CanonicalName)
	assert.Contains(t, emily.Aliases, "my daughter")
	assert.Contains(t, emily.Aliases, "she")
	assert.Equal(t, 2, emily.MentionCount)
	assert.Equal(t, uint32(13), emily.FirstTurn)
	assert.Equal(t, uint32(18), emily.LastTurn)
	assert.Equal(t, "daughter", emily.Attr("relationship"))
	assert.Equal(t, 5, emily.Attr("age")) // inferred from kindergarten
}

func TestPronounOutsideWindowIsDiscarded(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(1, "My daughter Emily just started kindergarten."), 20, g)
	// Three intervening utterances put Emily four utterances back, outside the
	// 3-utterance window.
	l.Link(utt(2, "I had a nightmare about my appointment"), 8, g)
	l.Link(utt(3, "The meeting ran long"), 7, g)
	l.Link(utt(4, "Another meeting tomorrow"), 7, g)
	l.Link(utt(5, "She seemed upset"), 4, g)

	emily, ok := g.Get(g.order[0])
	require.True(t, ok)
	assert.NotContains(t, emily.Aliases, "she")
}

func TestPronounTypeConstraints(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(1, "My son Daniel plays guitar"), 12, g)
	// "it" must not bind to a person.
	res := l.Link(utt(2, "It was loud"), 4, g)
	assert.Empty(t, res.Touched)
}

func TestMedicalConditionEntity(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(2, "I have a severe peanut allergy"), 30, g)

	var med *models.Entity
	for _, e := range g.Entities() {
		if e.Type == models.EntityTypeMedicalCondition {
			med = e
		}
	}
	require.NotNil(t, med)
	assert.Equal(t, "peanut allergy", med.CanonicalName)
	assert.Equal(t, 30.0, med.ImportanceScore)
}

func TestConditionAttributeOnPerson(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(1, "My daughter Emily has asthma"), 28, g)

	var person *models.Entity
	for _, e := range g.Entities() {
		if e.Type == models.EntityTypePerson {
			person = e
		}
	}
	require.NotNil(t, person)
	assert.Equal(t, "asthma", person.Attr("condition"))
}

func TestConflictingAgesArePreservedWithProvenance(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(1, "My daughter Emily is 5 years old"), 20, g)
	res := l.Link(utt(9, "My daughter Emily is 7 years old"), 20, g)

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, "age", c.Attribute)
	assert.Equal(t, 5, c.Previous.Value)
	assert.Equal(t, 7, c.New.Value)

	emily, ok := g.Get(c.EntityID)
	require.True(t, ok)
	vals := emily.Attributes["age"]
	require.Len(t, vals, 2)
	assert.Equal(t, uint32(1), vals[0].Turn)
	assert.Equal(t, uint32(9), vals[1].Turn)
}

func TestLocationExtraction(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(1, "We moved to Portland last spring"), 12, g)

	var loc *models.Entity
	for _, e := range g.Entities() {
		if e.Type == models.EntityTypeLocation {
			loc = e
		}
	}
	require.NotNil(t, loc)
	assert.Equal(t, "Portland", loc.CanonicalName)
}

func TestOrganizationExtraction(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(1, "I just started working for Acme Robotics"), 12, g)

	found := false
	for _, e := range g.Entities() {
		if e.Type == models.EntityTypeOrganization {
			found = true
			assert.Equal(t, "Acme Robotics", e.CanonicalName)
		}
	}
	assert.True(t, found)
}

func TestStableIDsAcrossConversations(t *testing.T) {
	g1 := NewGraph()
	newLinker(t, "user_001").Link(utt(1, "My daughter Emily loves painting"), 15, g1)

	g2 := NewGraph()
	newLinker(t, "user_001").Link(utt(4, "My daughter Emily loves painting"), 15, g2)

	require.Equal(t, g1.Len(), g2.Len())
	for i := range g1.order {
		assert.Equal(t, g1.order[i], g2.order[i])
	}

	// A different user namespace yields different ids.
	g3 := NewGraph()
	newLinker(t, "user_002").Link(utt(1, "My daughter Emily loves painting"), 15, g3)
	assert.NotEqual(t, g1.order[0], g3.order[0])
}

func TestMentionRecordsMatchMentionCount(t *testing.T) {
	l := newLinker(t, "user_001")
	g := NewGraph()

	l.Link(utt(1, "My daughter Emily just started kindergarten."), 20, g)
	l.Link(utt(2, "She had a nightmare last night."), 8, g)

	total := 0
	for _, e := range g.Entities() {
		total += e.MentionCount
	}
	assert.Equal(t, total, len(g.Mentions()))
}

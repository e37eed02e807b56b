package scorer

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

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	reg, err := patterns.Default(testLogger())
	require.NoError(t, err)
	return New(reg, DefaultThresholds(), testLogger())
}

func utt(turn uint32, text string) models.Utterance {
	return models.Utterance{TurnIndex: turn, Speaker: "Speaker1", Text: text}
}

func TestScoreAllergyEmergency(t *testing.T) {
	s := newScorer(t)
	res := s.Score(utt(1, "I have a severe peanut allergy and my EpiPen expired — it's life-threatening if we don't have one."), nil)

	assert.Equal(t, models.RetentionLongTerm, res.Retention)
	assert.GreaterOrEqual(t, res.AdjustedScore, 25.0)

	names := map[string]bool{}
	for _, m := range res.Matches {
		names[m.PatternName] = true
	}
	assert.True(t, names["allergy"])
	assert.True(t, names["medical_equipment"])

	// Severity fires once per distinct trigger: severe and life-threatening.
	severity := 0
	for _, e := range res.Trace {
		if e.Source == models.TraceSeverityMod {
			severity++
			assert.Equal(t, 5.0, e.Delta)
		}
	}
	assert.Equal(t, 2, severity)
}

func TestScoreGreeting(t *testing.T) {
	s := newScorer(t)
	res := s.Score(utt(1, "Hello, how are you today?"), nil)

	assert.Equal(t, models.RetentionImmediateDiscard, res.Retention)
	assert.LessOrEqual(t, res.AdjustedScore, 2.0)

	negative := false
	for _, m := range res.Matches {
		if m.PatternName == "greeting" && m.Weight < 0 {
			negative = true
		}
	}
	assert.True(t, negative, "expected a negative-weight greeting match")

	// "today" is an urgency marker but there is no positive match, so the
	// urgency modifier must not fire.
	for _, e := range res.Trace {
		assert.NotEqual(t, models.TraceUrgencyMod, e.Source)
	}
}

func TestScoreBorderlineEmotive(t *testing.T) {
	s := newScorer(t)
	res := s.Score(utt(1, "Flying absolutely terrifies me."), nil)

	assert.GreaterOrEqual(t, res.AdjustedScore, 10.0)
	assert.LessOrEqual(t, res.AdjustedScore, 14.0)
	assert.True(t, res.Borderline)
	assert.Equal(t, models.RetentionShortTerm, res.Retention)
}

func TestScorePunctuationOnly(t *testing.T) {
	s := newScorer(t)
	res := s.Score(utt(1, "?!..."), nil)

	assert.Equal(t, models.RetentionImmediateDiscard, res.Retention)
	assert.Empty(t, res.Trace)
	assert.Empty(t, res.Matches)
	assert.Zero(t, res.AdjustedScore)
	assert.NotEmpty(t, res.Reasoning)
}

func TestScoreManyPatternsNoOverflow(t *testing.T) {
	s := newScorer(t)
	text := "hello thanks yes um what weather allergy diagnosed asthma medication " +
		"inhaler headache smoking insomnia emergency scared asap married died " +
		"pregnant fired love vegan guitar church lawyer rent birthday meeting kindergarten nightmare"
	res := s.Score(utt(1, text), nil)

	require.GreaterOrEqual(t, len(res.Matches), 20)

	patternEntries := 0
	for _, e := range res.Trace {
		if e.Source == models.TracePattern {
			patternEntries++
		}
	}
	assert.Equal(t, len(res.Matches), patternEntries)
}

func TestScoreModifiers(t *testing.T) {
	s := newScorer(t)

	tests := []struct {
		name   string
		text   string
		source models.TraceSource
		delta  float64
	}{
		{
			name:   "permanence marker with positive match",
			text:   "I always prefer tea",
			source: models.TracePermanenceMod,
			delta:  3,
		},
		{
			name:   "urgency marker with positive match",
			text:   "I need to see a doctor right now",
			source: models.TraceUrgencyMod,
			delta:  4,
		},
		{
			name:   "numeric content with positive match",
			text:   "My daughter is 5",
			source: models.TraceNumericBonus,
			delta:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Score(utt(1, tt.text), nil)
			found := false
			for _, e := range res.Trace {
				if e.Source == tt.source {
					found = true
					assert.Equal(t, tt.delta, e.Delta)
				}
			}
			assert.True(t, found, "expected %s in trace", tt.source)
		})
	}
}

func TestScoreLengthBonusIndependentOfMatches(t *testing.T) {
	s := newScorer(t)

	twelve := "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu"
	res := s.Score(utt(1, twelve), nil)
	assert.Equal(t, 1.0, res.AdjustedScore)
	require.Len(t, res.Trace, 1)
	assert.Equal(t, models.TraceLengthBonus, res.Trace[0].Source)

	long := twelve + " nu xi omicron pi rho sigma tau upsilon phi chi psi omega"
	res = s.Score(utt(1, long), nil)
	assert.Equal(t, 2.0, res.AdjustedScore)
}

func TestScoreThresholdTies(t *testing.T) {
	s := newScorer(t)

	// "I love sushi." scores 13 with empty weights; user weights steer it
	// onto each inclusive boundary.
	tests := []struct {
		name       string
		weight     float64
		retention  models.RetentionLevel
		borderline bool
	}{
		{"exactly long-term threshold", 2, models.RetentionLongTerm, false},
		{"exactly borderline low", -3, models.RetentionShortTerm, true},
		{"exactly short-term threshold", -10, models.RetentionShortTerm, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Score(utt(1, "I love sushi."), map[string]float64{"strong_preference": tt.weight})
			assert.Equal(t, tt.retention, res.Retention)
			assert.Equal(t, tt.borderline, res.Borderline)
		})
	}
}

func TestScoreUserWeightsRounded(t *testing.T) {
	s := newScorer(t)
	res := s.Score(utt(1, "I love sushi."), map[string]float64{"strong_preference": 0.04})
	assert.Equal(t, 13.0, res.AdjustedScore)

	res = s.Score(utt(1, "I love sushi."), map[string]float64{"strong_preference": -2.5})
	assert.InDelta(t, 10.5, res.AdjustedScore, 0.0001)

	found := false
	for _, e := range res.Trace {
		if e.Source == models.TraceUserWeight {
			found = true
			assert.Equal(t, "strong_preference", e.Name)
		}
	}
	assert.True(t, found)
}

func TestMatchNamesHasNoSideEffects(t *testing.T) {
	s := newScorer(t)
	names := s.MatchNames("I have a peanut allergy")
	assert.Contains(t, names, "allergy")
}

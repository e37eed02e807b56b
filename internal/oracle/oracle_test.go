package oracle

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sankalp-s/dialogmem/internal/config"
	"github.com/sankalp-s/dialogmem/internal/models"
	"github.com/sankalp-s/dialogmem/internal/scorer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingClassifier wraps the mock and counts remote-equivalent calls.
type countingClassifier struct {
	inner Classifier
	calls atomic.Int64
}

func (c *countingClassifier) Classify(ctx context.Context, text string) (*Verdict, error) {
	c.calls.Add(1)
	return c.inner.Classify(ctx, text)
}

func oracleCfg() config.OracleConfig {
	return config.OracleConfig{
		Enabled:            true,
		MockMode:           true,
		TimeoutMS:          config.DefaultL2TimeoutMS,
		CacheMaxEntries:    config.DefaultL2CacheMaxEntries,
		MonthlyTokenBudget: config.DefaultL2MonthlyTokenBudget,
		EmotiveLexicon:     config.DefaultEmotiveLexicon,
	}
}

func TestCacheSingleCallForIdenticalNormalizedText(t *testing.T) {
	cls := &countingClassifier{inner: NewMockClassifier(config.DefaultEmotiveLexicon)}
	o := NewWithClassifier(oracleCfg(), cls, testLogger())

	ctx := context.Background()
	v1, err := o.Classify(ctx, "Flying absolutely TERRIFIES me.")
	require.NoError(t, err)
	v2, err := o.Classify(ctx, "flying   absolutely terrifies me.")
	require.NoError(t, err)

	assert.Equal(t, int64(1), cls.calls.Load())
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, o.CacheLen())
}

func TestCacheLRUEviction(t *testing.T) {
	cfg := oracleCfg()
	cfg.CacheMaxEntries = 2
	cls := &countingClassifier{inner: NewMockClassifier(nil)}
	o := NewWithClassifier(cfg, cls, testLogger())

	ctx := context.Background()
	for _, text := range []string{"first statement", "second statement", "third statement"} {
		_, err := o.Classify(ctx, text)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, o.CacheLen())

	// The oldest entry was evicted, so it costs another call.
	_, err := o.Classify(ctx, "first statement")
	require.NoError(t, err)
	assert.Equal(t, int64(4), cls.calls.Load())
}

func TestGating(t *testing.T) {
	o := NewWithClassifier(oracleCfg(), NewMockClassifier(config.DefaultEmotiveLexicon), testLogger())

	tests := []struct {
		name    string
		text    string
		l1      scorer.Result
		consult bool
	}{
		{
			name:    "borderline always consults",
			text:    "Flying absolutely terrifies me.",
			l1:      scorer.Result{AdjustedScore: 11, Borderline: true},
			consult: true,
		},
		{
			name:    "emotive token without strong medical",
			text:    "I was devastated by the news",
			l1:      scorer.Result{AdjustedScore: 20},
			consult: true,
		},
		{
			name: "emotive token with strong medical match",
			text: "My peanut allergy terrifies me",
			l1: scorer.Result{
				AdjustedScore:    26,
				Matches:          []models.PatternMatch{{PatternName: "allergy", Weight: 15}},
				Categories:       []string{"medical", "safety"},
				MaxMedicalWeight: 15,
			},
			consult: false,
		},
		{
			name:    "plain greeting never consults",
			text:    "Hello, how are you today?",
			l1:      scorer.Result{AdjustedScore: -7},
			consult: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.consult, o.ShouldConsult(tt.text, tt.l1))
		})
	}
}

func TestBudgetExhaustionDisablesOracle(t *testing.T) {
	cfg := oracleCfg()
	cfg.MonthlyTokenBudget = 600 // room for roughly one call
	cls := &countingClassifier{inner: NewMockClassifier(nil)}
	o := NewWithClassifier(cfg, cls, testLogger())

	ctx := context.Background()
	_, err := o.Classify(ctx, "the first statement about something")
	require.NoError(t, err)

	_, err = o.Classify(ctx, "a completely different second statement")
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.True(t, o.Disabled())

	// Stays disabled for the remainder of the process.
	_, err = o.Classify(ctx, "yet another statement")
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, int64(1), cls.calls.Load())

	// Cache hits still work while disabled.
	v, err := o.Classify(ctx, "the first statement about something")
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestMockDeterminism(t *testing.T) {
	m := NewMockClassifier(config.DefaultEmotiveLexicon)
	ctx := context.Background()

	v1, err := m.Classify(ctx, "Flying absolutely terrifies me.")
	require.NoError(t, err)
	v2, err := m.Classify(ctx, "Flying absolutely terrifies me.")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, models.RetentionLongTerm, v1.Retention)
	assert.Equal(t, 18.0, v1.Importance)
	assert.NotEmpty(t, v1.Reasoning)
}

func TestMergePolicy(t *testing.T) {
	l1 := scorer.Result{
		RawScore:      10,
		AdjustedScore: 11,
		Retention:     models.RetentionShortTerm,
		Borderline:    true,
	}

	t.Run("high importance upgrades to long term", func(t *testing.T) {
		v := &Verdict{Retention: models.RetentionLongTerm, Importance: 18, Reasoning: "emotive"}
		retention, adjusted, entry, frag := Merge(l1, v)
		assert.Equal(t, models.RetentionLongTerm, retention)
		assert.Equal(t, 18.0, adjusted)
		require.NotNil(t, entry)
		assert.Equal(t, models.TraceOracleAdjust, entry.Source)
		assert.Equal(t, 7.0, entry.Delta)
		assert.Contains(t, frag, "upgrade")
	})

	t.Run("discard verdict downgrades only weak raw scores", func(t *testing.T) {
		weak := scorer.Result{RawScore: 5, AdjustedScore: 6, Retention: models.RetentionShortTerm}
		v := &Verdict{Retention: models.RetentionImmediateDiscard, Importance: 1, Reasoning: "smalltalk"}
		retention, adjusted, _, _ := Merge(weak, v)
		assert.Equal(t, models.RetentionImmediateDiscard, retention)
		assert.Equal(t, 1.0, adjusted)

		strong := scorer.Result{RawScore: 9, AdjustedScore: 10, Retention: models.RetentionShortTerm}
		retention, adjusted, entry, _ := Merge(strong, v)
		assert.Equal(t, models.RetentionShortTerm, retention)
		assert.Equal(t, 10.0, adjusted)
		assert.Nil(t, entry)
	})

	t.Run("nil verdict leaves l1 standing", func(t *testing.T) {
		retention, adjusted, entry, frag := Merge(l1, nil)
		assert.Equal(t, l1.Retention, retention)
		assert.Equal(t, l1.AdjustedScore, adjusted)
		assert.Nil(t, entry)
		assert.Empty(t, frag)
	})
}

// Package oracle implements the L2 semantic fallback: a gated, cached,
// budget-accounted call to a remote classifier consulted only for borderline
// or emotive utterances.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sankalp-s/dialogmem/internal/config"
	"github.com/sankalp-s/dialogmem/internal/metrics"
	"github.com/sankalp-s/dialogmem/internal/models"
	"github.com/sankalp-s/dialogmem/internal/scorer"
	"github.com/sankalp-s/dialogmem/pkg/tokenizer"
)

var (
	// ErrTimeout is returned when the remote call exceeds the per-call deadline.
	ErrTimeout = errors.New("oracle timeout")

	// ErrTransport is returned for remote call failures other than timeouts.
	ErrTransport = errors.New("oracle transport error")

	// ErrBudgetExceeded is returned once the monthly token budget is spent.
	// The oracle stays disabled for the remainder of the process.
	ErrBudgetExceeded = errors.New("oracle token budget exceeded")
)

// strongMedicalWeight is the pattern weight at which a medical match suppresses
// the emotive gate.
const strongMedicalWeight = 15

// Verdict is the structured result of one oracle consultation.
type Verdict struct {
	Retention  models.RetentionLevel `json:"retention"`
	Importance float64               `json:"importance_0_to_30"`
	Categories []string              `json:"categories"`
	Reasoning  string                `json:"reasoning"`
}

// Classifier produces a verdict for one utterance text.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Verdict, error)
}

// Stats is a snapshot of oracle usage within this process.
type Stats struct {
	Calls       int64 `json:"calls"`
	CacheHits   int64 `json:"cache_hits"`
	Errors      int64 `json:"errors"`
	TokensSpent int64 `json:"tokens_spent"`
}

// Oracle gates, caches, and budgets consultations of a Classifier.
type Oracle struct {
	classifier Classifier
	cache      *verdictCache
	timeout    time.Duration
	logger     *slog.Logger

	lexicon []*regexp.Regexp

	budget      int64
	tokensSpent atomic.Int64
	disabled    atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

// New builds an oracle from config. In mock mode the classifier is the
// deterministic lexicon-driven mock; otherwise it calls Claude.
func New(cfg config.OracleConfig, claude config.ClaudeConfig, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	var cls Classifier
	if cfg.MockMode {
		cls = NewMockClassifier(cfg.EmotiveLexicon)
	} else {
		cls = NewClaudeClassifier(claude.APIKey, claude.Model, logger)
	}
	return NewWithClassifier(cfg, cls, logger)
}

// NewWithClassifier builds an oracle around an explicit classifier.
func NewWithClassifier(cfg config.OracleConfig, cls Classifier, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	lexicon := make([]*regexp.Regexp, 0, len(cfg.EmotiveLexicon))
	for _, token := range cfg.EmotiveLexicon {
		lexicon = append(lexicon, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(token)+`\b`))
	}
	return &Oracle{
		classifier: cls,
		cache:      newVerdictCache(cfg.CacheMaxEntries),
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:     logger,
		lexicon:    lexicon,
		budget:     cfg.MonthlyTokenBudget,
	}
}

// ShouldConsult reports whether the gate fires for this utterance: borderline
// L1 score, or an emotive token without a strong medical match.
func (o *Oracle) ShouldConsult(text string, l1 scorer.Result) bool {
	if l1.Borderline {
		return true
	}
	if o.emotive(text) && l1.MaxMedicalWeight < strongMedicalWeight {
		return true
	}
	return false
}

func (o *Oracle) emotive(text string) bool {
	for _, re := range o.lexicon {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Classify consults the cache, then the remote classifier, under the per-call
// deadline and the process token budget. On timeout, transport failure or an
// exhausted budget it returns a nil verdict and the error; the caller keeps
// the L1 verdict.
func (o *Oracle) Classify(ctx context.Context, text string) (*Verdict, error) {
	key := CacheKey(text)
	if v, ok := o.cache.Get(key); ok {
		metrics.Inc(metrics.OracleCacheHits)
		o.bump(func(s *Stats) { s.CacheHits++ })
		return v, nil
	}

	if o.disabled.Load() {
		metrics.Inc(metrics.OracleBudgetDenials)
		return nil, ErrBudgetExceeded
	}

	estimate := int64(tokenizer.EstimateTokens(text) + classifyMaxTokens)
	if o.budget > 0 && o.tokensSpent.Load()+estimate > o.budget {
		o.disabled.Store(true)
		metrics.Inc(metrics.OracleBudgetDenials)
		o.logger.Warn("oracle disabled: monthly token budget exceeded",
			"spent", o.tokensSpent.Load(), "budget", o.budget)
		return nil, ErrBudgetExceeded
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	metrics.Inc(metrics.OracleCalls)
	o.bump(func(s *Stats) { s.Calls++ })

	v, err := o.classifier.Classify(callCtx, text)
	if err != nil {
		metrics.Inc(metrics.OracleErrors)
		o.bump(func(s *Stats) { s.Errors++ })
		o.logger.Warn("oracle call failed, falling back to L1 verdict", "error", err)
		return nil, err
	}

	o.tokensSpent.Add(estimate)
	o.bump(func(s *Stats) { s.TokensSpent += estimate })
	o.cache.Put(key, v)
	return v, nil
}

// Merge applies the verdict to the L1 result per the merge policy. It returns
// the final retention, the final adjusted score, an optional trace entry for
// the applied delta, and a reasoning fragment describing the merge.
func Merge(l1 scorer.Result, v *Verdict) (models.RetentionLevel, float64, *models.TraceEntry, string) {
	if v == nil {
		return l1.Retention, l1.AdjustedScore, nil, ""
	}

	if v.Importance > 15 {
		adjusted := l1.AdjustedScore
		if v.Importance > adjusted {
			adjusted = v.Importance
		}
		var entry *models.TraceEntry
		if delta := adjusted - l1.AdjustedScore; delta != 0 {
			entry = &models.TraceEntry{Source: models.TraceOracleAdjust, Delta: delta}
		}
		return models.RetentionLongTerm, adjusted,
			entry, "oracle upgrade to long_term: " + v.Reasoning
	}

	if v.Retention == models.RetentionImmediateDiscard && l1.RawScore < 8 {
		adjusted := l1.AdjustedScore
		if v.Importance < adjusted {
			adjusted = v.Importance
		}
		var entry *models.TraceEntry
		if delta := adjusted - l1.AdjustedScore; delta != 0 {
			entry = &models.TraceEntry{Source: models.TraceOracleAdjust, Delta: delta}
		}
		return models.RetentionImmediateDiscard, adjusted,
			entry, "oracle downgrade to immediate_discard: " + v.Reasoning
	}

	return l1.Retention, l1.AdjustedScore, nil, "oracle concurs: " + v.Reasoning
}

// CacheLen returns the number of cached verdicts.
func (o *Oracle) CacheLen() int { return o.cache.Len() }

// Disabled reports whether the budget cutoff has fired.
func (o *Oracle) Disabled() bool { return o.disabled.Load() }

// UsageStats returns a snapshot of oracle usage.
func (o *Oracle) UsageStats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.stats
}

func (o *Oracle) bump(f func(*Stats)) {
	o.statsMu.Lock()
	f(&o.stats)
	o.statsMu.Unlock()
}

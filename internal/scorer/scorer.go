// Package scorer implements the L1 additive scoring engine: matched pattern
// weights, modifier bonuses, user-weight adjustment, and the retention decision.
package scorer

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/sankalp-s/dialogmem/internal/models"
	"github.com/sankalp-s/dialogmem/internal/patterns"
)

// TagSeverityAmplifiable marks patterns whose score the severity modifier may
// amplify.
const TagSeverityAmplifiable = "severity_amplifiable"

// Thresholds are the retention cut points applied to the adjusted score.
// Lower bounds are inclusive; ties resolve toward the higher retention.
type Thresholds struct {
	LongTerm       float64
	BorderlineLow  float64
	BorderlineHigh float64
	ShortTerm      float64
}

// DefaultThresholds returns the stock cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{LongTerm: 15, BorderlineLow: 10, BorderlineHigh: 14, ShortTerm: 3}
}

// Default modifier lexicons. New reads all three; a Scorer's severity triggers
// can be replaced with SetSeverityTriggers before first use.
var (
	DefaultSeverityTriggers  = []string{"severe", "severely", "life-threatening", "critical", "emergency"}
	DefaultPermanenceMarkers = []string{"always", "never", "every", "forever"}
	DefaultUrgencyMarkers    = []string{"now", "today", "immediately", "right now"}
)

const (
	severityBonus    = 5
	permanenceBonus  = 3
	urgencyBonus     = 4
	lengthBonusShort = 1
	lengthBonusLong  = 2
	firstPersonBonus = 1
	numericBonus     = 1

	lengthShortTokens = 12
	lengthLongTokens  = 24
)

var (
	firstPersonRe = regexp.MustCompile(`(?i)\b(?:i|i'm|i've|i'd|i'll|me|my|mine)\b`)
	digitRe       = regexp.MustCompile(`\d`)
)

// Result is the full L1 outcome for one utterance.
type Result struct {
	RawScore      int
	AdjustedScore float64
	Retention     models.RetentionLevel
	Borderline    bool
	Matches       []models.PatternMatch
	Categories    []string
	Trace         []models.TraceEntry
	Reasoning     string

	// MaxMedicalWeight is the largest weight among matched medical patterns;
	// the oracle gate uses it to suppress emotive consultations that already
	// have a strong medical signal.
	MaxMedicalWeight int
}

// Scorer applies the additive model over a shared pattern registry. It holds
// no per-conversation state and is safe for concurrent use.
type Scorer struct {
	registry   *patterns.Registry
	thresholds Thresholds
	logger     *slog.Logger

	severityTriggers []string
	severityRes      map[string]*regexp.Regexp
	permanenceRes    map[string]*regexp.Regexp
	urgencyRes       map[string]*regexp.Regexp
}

// New creates a scorer with the default modifier lexicons.
func New(registry *patterns.Registry, thresholds Thresholds, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scorer{
		registry:   registry,
		thresholds: thresholds,
		logger:     logger,
	}
	s.severityTriggers = DefaultSeverityTriggers
	s.severityRes = compileMarkers(DefaultSeverityTriggers)
	s.permanenceRes = compileMarkers(DefaultPermanenceMarkers)
	s.urgencyRes = compileMarkers(DefaultUrgencyMarkers)
	return s
}

// SetSeverityTriggers replaces the severity trigger lexicon. Call before the
// first Score; the scorer is otherwise immutable.
func (s *Scorer) SetSeverityTriggers(triggers []string) {
	s.severityTriggers = triggers
	s.severityRes = compileMarkers(triggers)
}

func compileMarkers(markers []string) map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(markers))
	for _, m := range markers {
		res[m] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(m) + `\b`)
	}
	return res
}

// Score runs the additive model: pattern weights first, then modifiers in
// fixed order, then per-pattern user weights, rounded to the nearest 0.1.
func (s *Scorer) Score(u models.Utterance, userWeights map[string]float64) Result {
	matches := s.registry.MatchAll(u.Text)

	var res Result
	raw := 0
	positive := false
	amplifiable := false

	for _, m := range matches {
		raw += m.Pattern.Weight
		if m.Pattern.Weight > 0 {
			positive = true
		}
		if m.Pattern.HasTag(TagSeverityAmplifiable) {
			amplifiable = true
		}
		if m.Pattern.Category == "medical" && m.Pattern.Weight > res.MaxMedicalWeight {
			res.MaxMedicalWeight = m.Pattern.Weight
		}
		res.Matches = append(res.Matches, models.PatternMatch{
			PatternName: m.Pattern.Name,
			Weight:      m.Pattern.Weight,
		})
		res.Categories = append(res.Categories, m.Pattern.Category)
		res.Trace = append(res.Trace, models.TraceEntry{
			Source: models.TracePattern,
			Name:   m.Pattern.Name,
			Delta:  float64(m.Pattern.Weight),
		})
	}
	res.Categories = lo.Uniq(res.Categories)
	res.RawScore = raw
	adjusted := float64(raw)

	var reasons []string
	if len(matches) > 0 {
		names := lo.Map(res.Matches, func(m models.PatternMatch, _ int) string {
			return fmt.Sprintf("%s(%+d)", m.PatternName, m.Weight)
		})
		reasons = append(reasons, "matched "+strings.Join(names, ", "))
	}

	// 1. Severity: +5 per distinct trigger token, only when an amplifiable
	// pattern matched.
	if amplifiable {
		var fired []string
		for _, trigger := range s.severityTriggers {
			re, ok := s.severityRes[trigger]
			if ok && re.MatchString(u.Text) {
				fired = append(fired, trigger)
				adjusted += severityBonus
				res.Trace = append(res.Trace, models.TraceEntry{
					Source: models.TraceSeverityMod,
					Name:   trigger,
					Delta:  severityBonus,
				})
			}
		}
		if len(fired) > 0 {
			reasons = append(reasons, fmt.Sprintf("severity(%s) +%d", strings.Join(fired, ", "), severityBonus*len(fired)))
		}
	}

	// 2. Permanence: absolute temporal marker plus a positive match.
	if positive && anyMarker(s.permanenceRes, u.Text) {
		adjusted += permanenceBonus
		res.Trace = append(res.Trace, models.TraceEntry{Source: models.TracePermanenceMod, Delta: permanenceBonus})
		reasons = append(reasons, fmt.Sprintf("permanence +%d", permanenceBonus))
	}

	// 3. Urgency.
	if positive && anyMarker(s.urgencyRes, u.Text) {
		adjusted += urgencyBonus
		res.Trace = append(res.Trace, models.TraceEntry{Source: models.TraceUrgencyMod, Delta: urgencyBonus})
		reasons = append(reasons, fmt.Sprintf("urgency +%d", urgencyBonus))
	}

	// 4. Length bonus is independent of matches.
	tokens := len(strings.Fields(u.Text))
	switch {
	case tokens >= lengthLongTokens:
		adjusted += lengthBonusLong
		res.Trace = append(res.Trace, models.TraceEntry{Source: models.TraceLengthBonus, Delta: lengthBonusLong})
		reasons = append(reasons, "detailed statement +2")
	case tokens >= lengthShortTokens:
		adjusted += lengthBonusShort
		res.Trace = append(res.Trace, models.TraceEntry{Source: models.TraceLengthBonus, Delta: lengthBonusShort})
		reasons = append(reasons, "detailed statement +1")
	}

	// 5. First person.
	if positive && firstPersonRe.MatchString(u.Text) {
		adjusted += firstPersonBonus
		res.Trace = append(res.Trace, models.TraceEntry{Source: models.TraceFirstPersonBonus, Delta: firstPersonBonus})
		reasons = append(reasons, "first-person +1")
	}

	// 6. Numeric content.
	if positive && digitRe.MatchString(u.Text) {
		adjusted += numericBonus
		res.Trace = append(res.Trace, models.TraceEntry{Source: models.TraceNumericBonus, Delta: numericBonus})
		reasons = append(reasons, "numeric content +1")
	}

	// 7. Per-pattern user weights, then round to nearest 0.1.
	for _, m := range res.Matches {
		w := userWeights[m.PatternName]
		if w == 0 {
			continue
		}
		adjusted += w
		res.Trace = append(res.Trace, models.TraceEntry{
			Source: models.TraceUserWeight,
			Name:   m.PatternName,
			Delta:  w,
		})
		reasons = append(reasons, fmt.Sprintf("user weight %s %+.1f", m.PatternName, w))
	}
	adjusted = math.Round(adjusted*10) / 10
	res.AdjustedScore = adjusted

	res.Retention, res.Borderline = s.decide(adjusted)
	if len(reasons) == 0 {
		reasons = append(reasons, "no patterns matched")
	}
	res.Reasoning = strings.Join(reasons, "; ")

	s.logger.Debug("scored utterance",
		"turn", u.TurnIndex, "raw", raw, "adjusted", adjusted, "retention", res.Retention)
	return res
}

// MatchNames returns the names of every pattern matching the text, with no
// scoring side effects. Used by the feedback path.
func (s *Scorer) MatchNames(text string) []string {
	matches := s.registry.MatchAll(text)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Pattern.Name)
	}
	return names
}

func (s *Scorer) decide(adjusted float64) (models.RetentionLevel, bool) {
	t := s.thresholds
	switch {
	case adjusted >= t.LongTerm:
		return models.RetentionLongTerm, false
	case adjusted >= t.BorderlineLow:
		// Borderline defaults to short-term; the oracle may upgrade it.
		return models.RetentionShortTerm, adjusted <= t.BorderlineHigh
	case adjusted >= t.ShortTerm:
		return models.RetentionShortTerm, false
	default:
		return models.RetentionImmediateDiscard, false
	}
}

func anyMarker(res map[string]*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

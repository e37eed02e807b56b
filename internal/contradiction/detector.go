// Package contradiction flags retained items that negate earlier retained
// items and marks the earlier ones superseded.
package contradiction

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/sankalp-s/dialogmem/internal/metrics"
	"github.com/sankalp-s/dialogmem/internal/models"
)

// contradictionBonus is added to the newer item's score when it supersedes an
// earlier one.
const contradictionBonus = 5

// negationTokens signal that a statement reverses an earlier one.
var negationTokens = []string{
	"not", "no longer", "can't", "cannot", "won't",
	"don't", "doesn't", "didn't", "never", "stopped", "quit",
}

// hypotheticalMarkers suppress detection: a hypothetical does not contradict
// an actual state.
var hypotheticalMarkers = []string{
	"would", "could", "might", "if ", "thinking about", "planning to", "considering",
}

// contradictionCategories are the category tags on which two items may
// contradict directly.
var contradictionCategories = map[string]bool{
	"preference": true,
	"fact":       true,
}

// relatedCategories widens direct category sharing: a shared tag from this set
// also qualifies (two medical statements, or two family statements, can
// contradict each other). Both items must still carry the same tag.
var relatedCategories = map[string]bool{
	"medical":    true,
	"family":     true,
	"career":     true,
	"life_event": true,
}

var nounRe = regexp.MustCompile(`[a-z][a-z'-]{3,}`)

// salientStopWords are frequent words that never count as the shared noun.
var salientStopWords = map[string]bool{
	"have": true, "this": true, "that": true, "with": true, "from": true,
	"anymore": true, "really": true, "just": true, "very": true, "about": true,
	"been": true, "were": true, "will": true, "them": true, "they": true,
	"don't": true, "can't": true, "cannot": true, "won't": true, "never": true,
	"longer": true, "stopped": true, "quit": true,
}

// Event records one supersession applied by the detector.
type Event struct {
	OlderRef models.UtteranceRef
	NewerRef models.UtteranceRef
	Category string
}

// Detector compares a new retained item against earlier retained items.
// It is stateless and safe for concurrent use across conversations.
type Detector struct {
	logger *slog.Logger
}

// New creates a detector.
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Apply checks the new item against all earlier retained items, marks
// contradicted ones superseded, and grants the new item a single +5 bonus if
// anything was superseded. Neither side is deleted.
func (d *Detector) Apply(newItem *models.MemoryItem, prior []*models.MemoryItem) []Event {
	if newItem.Retention == models.RetentionImmediateDiscard {
		return nil
	}

	var events []Event
	for _, old := range prior {
		if old.Retention == models.RetentionImmediateDiscard {
			continue
		}
		if old.Utterance.TurnIndex >= newItem.Utterance.TurnIndex {
			continue
		}
		cat, ok := d.contradicts(old, newItem)
		if !ok {
			continue
		}
		ref := newItem.Utterance
		old.SupersededBy = &ref
		old.Reasoning += fmt.Sprintf(" | superseded by turn %d", newItem.Utterance.TurnIndex)
		events = append(events, Event{
			OlderRef: old.Utterance,
			NewerRef: newItem.Utterance,
			Category: cat,
		})
		metrics.Inc(metrics.Contradictions)
		d.logger.Debug("contradiction detected",
			"older_turn", old.Utterance.TurnIndex,
			"newer_turn", newItem.Utterance.TurnIndex,
			"category", cat)
	}

	if len(events) > 0 {
		newItem.AdjustedScore += contradictionBonus
		newItem.PreDecayScore += contradictionBonus
		newItem.Trace = append(newItem.Trace, models.TraceEntry{
			Source: models.TraceContradictionBonus,
			Delta:  contradictionBonus,
		})
		newItem.Reasoning += " | contradicts earlier statement (+5)"
	}
	return events
}

// contradicts applies the heuristic: a qualifying shared category, a negation
// token on exactly one side, a shared salient noun, and no hypothetical framing.
func (d *Detector) contradicts(older, newer *models.MemoryItem) (string, bool) {
	shared := lo.Intersect(older.Categories, newer.Categories)
	category := ""
	for _, c := range shared {
		if contradictionCategories[c] || relatedCategories[c] {
			category = c
			break
		}
	}
	if category == "" {
		return "", false
	}

	oldLower := strings.ToLower(older.Content)
	newLower := strings.ToLower(newer.Content)

	for _, marker := range hypotheticalMarkers {
		if strings.Contains(oldLower, marker) || strings.Contains(newLower, marker) {
			return "", false
		}
	}

	if hasNegation(oldLower) == hasNegation(newLower) {
		return "", false
	}

	if len(lo.Intersect(salientNouns(oldLower), salientNouns(newLower))) == 0 {
		return "", false
	}

	return category, true
}

func hasNegation(lower string) bool {
	for _, tok := range negationTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func salientNouns(lower string) []string {
	words := nounRe.FindAllString(lower, -1)
	return lo.Filter(words, func(w string, _ int) bool {
		return !salientStopWords[w]
	})
}

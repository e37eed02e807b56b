// Package decay applies turn-based score reduction to short-term items. The
// engine is a pure function over stored items and the current turn: running it
// twice with the same turn yields the same state.
package decay

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/sankalp-s/dialogmem/internal/metrics"
	"github.com/sankalp-s/dialogmem/internal/models"
)

// Engine decays short-term items past the grace window. Long-term items are
// untouched.
type Engine struct {
	windowTurns int
	rate        float64
	discardAt   float64
	logger      *slog.Logger
}

// New creates a decay engine. discardAt is the short-term threshold below
// which a decayed item is reclassified for eviction.
func New(windowTurns int, rate, discardAt float64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{windowTurns: windowTurns, rate: rate, discardAt: discardAt, logger: logger}
}

// Apply recomputes decay for every short-term item and returns the number of
// items newly marked for eviction. The penalty is always derived from the
// pre-decay score, which keeps the pass idempotent.
func (e *Engine) Apply(items []*models.MemoryItem, currentTurn uint32) int {
	evicted := 0
	for _, item := range items {
		if item.Retention != models.RetentionShortTerm {
			continue
		}
		if currentTurn < item.Utterance.TurnIndex {
			continue
		}
		turnsAgo := int(currentTurn - item.Utterance.TurnIndex)
		if turnsAgo <= e.windowTurns {
			continue
		}

		penalty := e.rate * float64(turnsAgo-e.windowTurns)
		item.AdjustedScore = math.Round((item.PreDecayScore-penalty)*10) / 10

		if item.AdjustedScore < e.discardAt {
			item.Retention = models.RetentionImmediateDiscard
			item.Evict = true
			item.Reasoning += fmt.Sprintf(" | decayed after %d turns", turnsAgo)
			evicted++
			metrics.Inc(metrics.DecayEvictions)
			e.logger.Debug("short-term item decayed out",
				"turn", item.Utterance.TurnIndex, "current_turn", currentTurn,
				"score", item.AdjustedScore)
		}
	}
	return evicted
}

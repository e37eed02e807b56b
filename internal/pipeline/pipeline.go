// Package pipeline composes the four layers: L1 pattern scoring, the L2
// semantic oracle, L3 entity linking, and L4 user weight adaptation, plus the
// contradiction and decay passes over accumulated items.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sankalp-s/dialogmem/internal/config"
	"github.com/sankalp-s/dialogmem/internal/contradiction"
	"github.com/sankalp-s/dialogmem/internal/decay"
	"github.com/sankalp-s/dialogmem/internal/entities"
	"github.com/sankalp-s/dialogmem/internal/metrics"
	"github.com/sankalp-s/dialogmem/internal/models"
	"github.com/sankalp-s/dialogmem/internal/oracle"
	"github.com/sankalp-s/dialogmem/internal/patterns"
	"github.com/sankalp-s/dialogmem/internal/persistence"
	"github.com/sankalp-s/dialogmem/internal/scorer"
	"github.com/sankalp-s/dialogmem/internal/weights"
)

// ErrLearningDisabled is returned by Feedback when learning is toggled off.
var ErrLearningDisabled = errors.New("learning is disabled")

// ConversationResult is the output of one processed conversation: items in
// input turn order and the final entity graph.
type ConversationResult struct {
	Items    []*models.MemoryItem
	Entities []*models.Entity
	Mentions []models.Mention
}

// Pipeline owns the shared, conversation-crossing state: the immutable
// pattern registry, the oracle with its cache, and the user weight store.
// Everything per-conversation lives on the stack of ProcessConversation, so
// conversations can run concurrently.
type Pipeline struct {
	cfg      *config.Config
	registry *patterns.Registry
	scorer   *scorer.Scorer
	oracle   *oracle.Oracle
	detector *contradiction.Detector
	decayer  *decay.Engine
	weights  *weights.Store
	persist  persistence.Store
	logger   *slog.Logger
}

// New builds a pipeline from config. The persistence store is consumed, not
// owned: Close it where it was opened.
func New(cfg *config.Config, persist persistence.Store, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var reg *patterns.Registry
	var err error
	if cfg.Patterns.CatalogPath != "" {
		reg, err = patterns.LoadFile(cfg.Patterns.CatalogPath, logger)
	} else {
		reg, err = patterns.Default(logger)
	}
	if err != nil {
		return nil, fmt.Errorf("loading pattern registry: %w", err)
	}

	sc := scorer.New(reg, scorer.Thresholds{
		LongTerm:       cfg.Scoring.LongTermThreshold,
		BorderlineLow:  cfg.Scoring.BorderlineLow,
		BorderlineHigh: cfg.Scoring.BorderlineHigh,
		ShortTerm:      cfg.Scoring.ShortTermThreshold,
	}, logger)

	p := &Pipeline{
		cfg:      cfg,
		registry: reg,
		scorer:   sc,
		detector: contradiction.New(logger),
		decayer:  decay.New(cfg.Decay.WindowTurns, cfg.Decay.Rate, cfg.Scoring.ShortTermThreshold, logger),
		persist:  persist,
		logger:   logger,
	}
	if cfg.Oracle.Enabled {
		p.oracle = oracle.New(cfg.Oracle, cfg.Claude, logger)
	}
	if cfg.Learning.Enabled {
		p.weights = weights.New(persist, sc, logger)
	}
	return p, nil
}

// Registry exposes the shared pattern registry.
func (p *Pipeline) Registry() *patterns.Registry { return p.registry }

// Oracle exposes the shared oracle, or nil when L2 is disabled.
func (p *Pipeline) Oracle() *oracle.Oracle { return p.oracle }

// ProcessConversation classifies every utterance in turn order and returns
// the item vector plus the final entity graph. A cancelled context discards
// partial results; a persistence failure surfaces to the caller with the
// in-memory state untouched.
func (p *Pipeline) ProcessConversation(ctx context.Context, userID, conversationID string,
	utterances []models.Utterance) (*ConversationResult, error) {

	userWeights := map[string]float64{}
	if p.weights != nil {
		var err error
		userWeights, err = p.weights.Load(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("persistence: %w", err)
		}
	}

	var linker *entities.Linker
	graph := entities.NewGraph()
	if p.cfg.Entities.Enabled {
		linker = entities.New(p.registry, p.cfg.Entities.PronounWindowTurns, userID, p.logger)
	}

	var items []*models.MemoryItem
	for _, u := range utterances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := p.processUtterance(ctx, u, userWeights, items, linker, graph)
		items = append(items, item)
		metrics.Inc(metrics.ItemsTotal)

		// Step 7: decay accumulated short-term items at the current turn.
		p.decayer.Apply(items, u.TurnIndex)
	}

	result := &ConversationResult{
		Items:    items,
		Entities: graph.Entities(),
		Mentions: graph.Mentions(),
	}

	if p.persist != nil {
		flat := make([]models.MemoryItem, len(items))
		for i := range items {
			flat[i] = *items[i]
		}
		if err := p.persist.AppendMemoryItems(ctx, conversationID, flat); err != nil {
			return nil, fmt.Errorf("persistence: %w", err)
		}
		if err := p.persist.UpsertEntities(ctx, userID, result.Entities); err != nil {
			return nil, fmt.Errorf("persistence: %w", err)
		}
		if err := p.persist.AppendEntityMentions(ctx, conversationID, result.Mentions); err != nil {
			return nil, fmt.Errorf("persistence: %w", err)
		}
	}

	p.logger.Info("conversation processed",
		"conversation", conversationID, "turns", len(utterances),
		"items", len(items), "entities", graph.Len())
	return result, nil
}

func (p *Pipeline) processUtterance(ctx context.Context, u models.Utterance,
	userWeights map[string]float64, prior []*models.MemoryItem,
	linker *entities.Linker, graph *entities.Graph) *models.MemoryItem {

	// Step 2: L1 scoring.
	l1 := p.scorer.Score(u, userWeights)
	retention := l1.Retention
	adjusted := l1.AdjustedScore
	reasoning := l1.Reasoning
	trace := l1.Trace

	// Step 3: the oracle, when the gate fires. Failures fall back to L1.
	if p.oracle != nil && p.oracle.ShouldConsult(u.Text, l1) {
		verdict, err := p.oracle.Classify(ctx, u.Text)
		if err == nil && verdict != nil {
			var entry *models.TraceEntry
			var fragment string
			retention, adjusted, entry, fragment = oracle.Merge(l1, verdict)
			if entry != nil {
				trace = append(trace, *entry)
			}
			if fragment != "" {
				reasoning += " | " + fragment
			}
		}
	}

	// Step 4: construct the item.
	item := &models.MemoryItem{
		Utterance:       models.UtteranceRef{TurnIndex: u.TurnIndex, Speaker: u.Speaker},
		Content:         u.Text,
		RawScore:        l1.RawScore,
		AdjustedScore:   adjusted,
		PreDecayScore:   adjusted,
		Retention:       retention,
		MatchedPatterns: l1.Matches,
		Categories:      l1.Categories,
		Reasoning:       reasoning,
		Trace:           trace,
	}

	// Step 5: contradictions against accumulated items. The +5 bonus may lift
	// the item over the long-term threshold.
	if events := p.detector.Apply(item, prior); len(events) > 0 {
		if item.AdjustedScore >= p.cfg.Scoring.LongTermThreshold &&
			item.Retention == models.RetentionShortTerm {
			item.Retention = models.RetentionLongTerm
		}
	}

	// Step 6: entity linking; noise never accrues entities.
	if linker != nil && item.Retention != models.RetentionImmediateDiscard {
		lr := linker.Link(u, item.AdjustedScore, graph)
		item.EntityRefs = lr.Touched
		for _, c := range lr.Conflicts {
			p.logger.Warn("conflicting entity attribute",
				"entity", c.EntityID, "attribute", c.Attribute,
				"previous", c.Previous.Value, "new", c.New.Value)
		}
	}

	return item
}

// Feedback records user feedback on a retention decision and adapts the
// user's pattern weights.
func (p *Pipeline) Feedback(ctx context.Context, userID, statement string,
	actual, expected models.RetentionLevel, ft models.FeedbackType, categoryOverride string) error {

	if p.weights == nil {
		return ErrLearningDisabled
	}
	return p.weights.ApplyFeedback(ctx, userID, statement, actual, expected, ft, categoryOverride)
}

// DeriveFeedbackType infers the feedback type from the actual and expected
// retention levels.
func DeriveFeedbackType(actual, expected models.RetentionLevel) models.FeedbackType {
	switch {
	case actual == expected:
		return models.FeedbackCorrect
	case expected == models.RetentionLongTerm && actual != models.RetentionLongTerm:
		return models.FeedbackForgotImportant
	case expected == models.RetentionImmediateDiscard && actual != models.RetentionImmediateDiscard:
		return models.FeedbackRememberedTrivial
	default:
		return models.FeedbackWrongCategory
	}
}

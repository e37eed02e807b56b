package entities

import (
	"github.com/sankalp-s/dialogmem/internal/models"
)

// Graph is the conversation-scoped entity state: entities, their mention
// records, and recency bookkeeping for coreference. Items reference entities
// by id; entities never reference items, so the graph is acyclic by
// construction. A Graph is confined to one conversation and is not safe for
// concurrent use.
type Graph struct {
	entities map[string]*models.Entity
	order    []string // creation order
	mentions []models.Mention

	// lastSeq maps entity id to the index of the processed utterance that
	// last mentioned it. Pronoun windows are measured in processed
	// utterances, not raw turn gaps.
	lastSeq map[string]int
	seq     int
}

// NewGraph creates an empty entity graph.
func NewGraph() *Graph {
	return &Graph{
		entities: make(map[string]*models.Entity),
		lastSeq:  make(map[string]int),
	}
}

// Get returns the entity with the given id.
func (g *Graph) Get(id string) (*models.Entity, bool) {
	e, ok := g.entities[id]
	return e, ok
}

// Entities returns all entities in creation order.
func (g *Graph) Entities() []*models.Entity {
	out := make([]*models.Entity, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.entities[id])
	}
	return out
}

// Mentions returns every mention record in insertion order.
func (g *Graph) Mentions() []models.Mention {
	return g.mentions
}

// Len returns the number of entities.
func (g *Graph) Len() int {
	return len(g.entities)
}

func (g *Graph) add(e *models.Entity) {
	g.entities[e.ID] = e
	g.order = append(g.order, e.ID)
}

func (g *Graph) recordMention(id string, turn uint32, surface string) {
	g.mentions = append(g.mentions, models.Mention{EntityID: id, TurnIndex: turn, Surface: surface})
	g.lastSeq[id] = g.seq
	e := g.entities[id]
	e.MentionCount++
	if turn > e.LastTurn {
		e.LastTurn = turn
	}
}

// mostRecent returns the entity most recently mentioned among those accepted
// by the filter, within maxAge processed utterances (0 disables the age
// limit). Ties on recency go to the longer canonical name.
func (g *Graph) mostRecent(filter func(*models.Entity) bool, maxAge int) *models.Entity {
	var best *models.Entity
	bestSeq := -1
	for _, id := range g.order {
		e := g.entities[id]
		if !filter(e) {
			continue
		}
		seq, ok := g.lastSeq[id]
		if !ok {
			continue
		}
		if maxAge > 0 && g.seq-seq > maxAge {
			continue
		}
		if seq > bestSeq || (seq == bestSeq && best != nil && len(e.CanonicalName) > len(best.CanonicalName)) {
			best = e
			bestSeq = seq
		}
	}
	return best
}

package models

import "time"

// Utterance is a single turn of a conversation.
type Utterance struct {
	TurnIndex uint32    `json:"turn_index"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UtteranceRef identifies an utterance within a conversation.
type UtteranceRef struct {
	TurnIndex uint32 `json:"turn_index"`
	Speaker   string `json:"speaker"`
}

// TraceSource enumerates where a scoring contribution came from.
type TraceSource string

const (
	TracePattern            TraceSource = "pattern"
	TraceSeverityMod        TraceSource = "severity_mod"
	TracePermanenceMod      TraceSource = "permanence_mod"
	TraceUrgencyMod         TraceSource = "urgency_mod"
	TraceLengthBonus        TraceSource = "length_bonus"
	TraceFirstPersonBonus   TraceSource = "first_person_bonus"
	TraceNumericBonus       TraceSource = "numeric_bonus"
	TraceUserWeight         TraceSource = "user_weight"
	TraceContradictionBonus TraceSource = "contradiction_bonus"
	TraceOracleAdjust       TraceSource = "oracle_adjust"
)

// TraceEntry is one scoring contribution. The ordered list of entries is
// sufficient to reconstruct the adjusted score within rounding.
type TraceEntry struct {
	Source TraceSource `json:"source"`
	Name   string      `json:"name,omitempty"`
	Delta  float64     `json:"delta"`
}

// PatternMatch records one matched pattern and its weight contribution.
type PatternMatch struct {
	PatternName string `json:"pattern_name"`
	Weight      int    `json:"weight_contribution"`
}

// MemoryItem is the classification result for one utterance.
type MemoryItem struct {
	Utterance       UtteranceRef   `json:"utterance_ref"`
	Content         string         `json:"content"`
	RawScore        int            `json:"raw_score"`
	AdjustedScore   float64        `json:"adjusted_score"`
	PreDecayScore   float64        `json:"pre_decay_score"`
	Retention       RetentionLevel `json:"retention"`
	MatchedPatterns []PatternMatch `json:"matched_patterns"`
	Categories      []string       `json:"categories"`
	EntityRefs      []string       `json:"entity_refs,omitempty"`
	SupersededBy    *UtteranceRef  `json:"superseded_by,omitempty"`
	Reasoning       string         `json:"reasoning"`
	Trace           []TraceEntry   `json:"trace"`
	Evict           bool           `json:"evict,omitempty"`
}

// HasCategory reports whether the item carries the given category tag.
func (m *MemoryItem) HasCategory(cat string) bool {
	for _, c := range m.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

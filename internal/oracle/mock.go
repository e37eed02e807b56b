package oracle

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sankalp-s/dialogmem/internal/models"
)

// MockClassifier returns deterministic verdicts derived from lexicon presence.
// It never touches the network, so tests and offline runs are replayable.
type MockClassifier struct {
	lexicon []mockToken
	discard []mockToken
}

type mockToken struct {
	token string
	re    *regexp.Regexp
}

func compileTokens(tokens []string) []mockToken {
	out := make([]mockToken, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, mockToken{
			token: t,
			re:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`),
		})
	}
	return out
}

var mockDiscardTokens = []string{"hello", "hi", "hey", "goodbye", "bye", "thanks", "thank you"}

// NewMockClassifier creates a mock classifier over the given emotive lexicon.
func NewMockClassifier(lexicon []string) *MockClassifier {
	return &MockClassifier{
		lexicon: compileTokens(lexicon),
		discard: compileTokens(mockDiscardTokens),
	}
}

// Classify derives a verdict from the text alone: emotive tokens force a
// long-term verdict, greeting tokens force a discard, everything else lands
// in short-term.
func (m *MockClassifier) Classify(_ context.Context, text string) (*Verdict, error) {
	for _, t := range m.lexicon {
		if t.re.MatchString(text) {
			return &Verdict{
				Retention:  models.RetentionLongTerm,
				Importance: 18,
				Categories: []string{"emotional"},
				Reasoning:  fmt.Sprintf("mock verdict: emotive language (%q)", strings.ToLower(t.token)),
			}, nil
		}
	}

	for _, t := range m.discard {
		if t.re.MatchString(text) {
			return &Verdict{
				Retention:  models.RetentionImmediateDiscard,
				Importance: 1,
				Categories: []string{"smalltalk"},
				Reasoning:  fmt.Sprintf("mock verdict: conversational maintenance (%q)", t.token),
			}, nil
		}
	}

	return &Verdict{
		Retention:  models.RetentionShortTerm,
		Importance: 8,
		Categories: []string{"contextual"},
		Reasoning:  "mock verdict: no strong semantic signal",
	}, nil
}

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/sankalp-s/dialogmem/internal/models"
)

// classifyMaxTokens bounds the Claude response for one verdict.
const classifyMaxTokens = 512

// classifyPromptTemplate asks Claude for a single structured retention verdict.
// Utterance text is injected via an XML tag to prevent prompt injection.
const classifyPromptTemplate = `You are a memory retention classifier for a conversational agent.

Decide how long the utterance below should be remembered:
- long_term: medical conditions, allergies, safety concerns, identity, relationships, major life events
- short_term: current tasks, temporary states, recent events worth a few turns of context
- immediate_discard: greetings, fillers, small talk, conversational maintenance

Return ONLY a JSON object with this exact schema:
{"retention": "long_term"|"short_term"|"immediate_discard", "importance_0_to_30": <number>, "categories": [<strings>], "reasoning": "<brief explanation>"}

Be conservative: when in doubt, prefer longer retention for potentially important information.

<utterance>%s</utterance>`

// claudeVerdict is the raw JSON shape returned by Claude.
type claudeVerdict struct {
	Retention  string   `json:"retention"`
	Importance float64  `json:"importance_0_to_30"`
	Categories []string `json:"categories"`
	Reasoning  string   `json:"reasoning"`
}

// ClaudeClassifier calls the Anthropic API for a retention verdict.
type ClaudeClassifier struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeClassifier creates a classifier backed by the Claude API.
func NewClaudeClassifier(apiKey, model string, logger *slog.Logger) *ClaudeClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClassifier{client: &c, model: model, logger: logger}
}

// Classify performs the remote call. The caller supplies a context carrying the
// per-call deadline; one retry is attempted on transport errors within it.
func (c *ClaudeClassifier) Classify(ctx context.Context, text string) (*Verdict, error) {
	prompt := fmt.Sprintf(classifyPromptTemplate, xmlEscape(text))

	var resp *anthropic.Message
	op := func() error {
		var err error
		resp, err = c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: classifyMaxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
			System: []anthropic.TextBlockParam{
				{Text: "You are a precise memory retention classifier. Output only valid JSON."},
			},
		})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var responseText string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			responseText = strings.TrimSpace(resp.Content[i].Text)
			break
		}
	}
	if responseText == "" {
		return nil, fmt.Errorf("%w: empty response", ErrTransport)
	}

	var raw claudeVerdict
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing verdict: %v (raw: %s)", ErrTransport, err, responseText)
	}

	retention := models.RetentionLevel(raw.Retention)
	if raw.Retention == "immediate" {
		retention = models.RetentionImmediateDiscard
	}
	if !retention.IsValid() {
		c.logger.Warn("oracle: unknown retention in verdict, defaulting to short_term", "retention", raw.Retention)
		retention = models.RetentionShortTerm
	}

	return &Verdict{
		Retention:  retention,
		Importance: raw.Importance,
		Categories: raw.Categories,
		Reasoning:  raw.Reasoning,
	}, nil
}

// xmlEscape sanitizes text for inclusion inside an XML prompt tag.
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

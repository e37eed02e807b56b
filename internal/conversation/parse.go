// Package conversation parses plain-text transcripts: one turn per line in
// `Speaker: text` form. Blank lines and `#` comments are skipped silently;
// lines without a speaker prefix are skipped with a warning, never fatally.
package conversation

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sankalp-s/dialogmem/internal/models"
)

// Parse reads a transcript and returns utterances with sequential turn
// indices starting at 1.
func Parse(r io.Reader, logger *slog.Logger) ([]models.Utterance, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var out []models.Utterance
	turn := uint32(1)
	now := time.Now().UTC()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		speaker, text, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(speaker) == "" {
			logger.Warn("skipping malformed transcript line", "line", lineNo)
			continue
		}

		out = append(out, models.Utterance{
			TurnIndex: turn,
			Speaker:   strings.TrimSpace(speaker),
			Text:      strings.TrimSpace(text),
			Timestamp: now,
		})
		turn++
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// ParseString parses a transcript held in a string.
func ParseString(s string, logger *slog.Logger) ([]models.Utterance, error) {
	return Parse(strings.NewReader(s), logger)
}

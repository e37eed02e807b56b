// Package patterns loads the declarative pattern catalog and exposes matching
// over utterance text. The registry is read-only after construction and safe to
// share across goroutines.
package patterns

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
)

//go:embed catalog.json
var defaultCatalog []byte

// ErrDuplicateName is returned when two catalog entries share a name.
var ErrDuplicateName = errors.New("duplicate pattern name")

// ErrCompile is returned when a catalog regex fails to compile.
var ErrCompile = errors.New("pattern compile failed")

// Pattern is one immutable catalog entry.
type Pattern struct {
	Name         string   `json:"name"`
	Regex        string   `json:"regex"`
	Weight       int      `json:"weight"`
	Category     string   `json:"category"`
	ModifierTags []string `json:"modifier_tags"`

	re *regexp.Regexp
}

// HasTag reports whether the pattern carries the given modifier tag.
func (p *Pattern) HasTag(tag string) bool {
	for _, t := range p.ModifierTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Span is a [start, end) byte range of one regex hit.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Match pairs a pattern with every location it hit in the text.
type Match struct {
	Pattern *Pattern
	Spans   []Span
}

// Registry holds the compiled catalog. Matching iterates in registry order;
// no other ordering is guaranteed.
type Registry struct {
	patterns []*Pattern
	byName   map[string]*Pattern
	logger   *slog.Logger
}

// Load parses a catalog document (a JSON array of entries) and compiles every
// regex case-insensitively. Unknown fields are ignored; a missing modifier_tags
// defaults to empty.
func Load(r io.Reader, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var entries []*Pattern
	dec := json.NewDecoder(r)
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("parsing pattern catalog: %w", err)
	}

	reg := &Registry{
		patterns: make([]*Pattern, 0, len(entries)),
		byName:   make(map[string]*Pattern, len(entries)),
		logger:   logger,
	}

	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("pattern catalog entry with empty name")
		}
		if _, exists := reg.byName[e.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
		}
		re, err := regexp.Compile("(?i)" + e.Regex)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrCompile, e.Name, err)
		}
		e.re = re
		reg.patterns = append(reg.patterns, e)
		reg.byName[e.Name] = e
	}

	logger.Debug("loaded pattern catalog", "patterns", len(reg.patterns))
	return reg, nil
}

// LoadFile loads a catalog from the given path.
func LoadFile(path string, logger *slog.Logger) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pattern catalog: %w", err)
	}
	defer f.Close()
	return Load(f, logger)
}

// Default returns a registry built from the embedded catalog.
func Default(logger *slog.Logger) (*Registry, error) {
	return Load(bytes.NewReader(defaultCatalog), logger)
}

// MatchAll returns every pattern that matches the text, with spans, in
// registry order.
func (r *Registry) MatchAll(text string) []Match {
	var matches []Match
	for _, p := range r.patterns {
		locs := p.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		spans := make([]Span, 0, len(locs))
		for _, loc := range locs {
			spans = append(spans, Span{Start: loc[0], End: loc[1]})
		}
		matches = append(matches, Match{Pattern: p, Spans: spans})
	}
	return matches
}

// Get looks up a pattern by name.
func (r *Registry) Get(name string) (*Pattern, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Len returns the number of loaded patterns.
func (r *Registry) Len() int {
	return len(r.patterns)
}

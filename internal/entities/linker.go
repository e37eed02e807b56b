// Package entities implements the L3 entity linker: pattern-based mention
// extraction, cross-turn coreference with pronoun resolution, and attribute
// accumulation onto a conversation-scoped entity graph.
package entities

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/sankalp-s/dialogmem/internal/metrics"
	"github.com/sankalp-s/dialogmem/internal/models"
	"github.com/sankalp-s/dialogmem/internal/patterns"
)

// entityNamespace seeds deterministic entity ids. With a user id the same
// surface form maps to the same id across conversations.
var entityNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("dialogmem/entity"))

var (
	// Case-insensitivity is spelled out here: an (?i) flag would also make the
	// name-appositive class match lowercase words.
	kinshipRe = regexp.MustCompile(`\b[Mm]y (wife|husband|partner|spouse|son|daughter|child|kid|mother|mom|father|dad|brother|sister|friend|colleague|boss)\b(?:\s+([A-Z][a-z]+))?`)

	locationRe = regexp.MustCompile(`\b(?:in|at|to|from)\s+([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)`)

	orgRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)+)\b`)

	eventRe = regexp.MustCompile(`(?i)\b(birthday|wedding|graduation|anniversary|funeral|conference|concert)\b`)

	pronounRe = regexp.MustCompile(`(?i)\b(he|she|they|it|him|her|them)\b`)

	wordRe = regexp.MustCompile(`[A-Za-z][A-Za-z'-]*`)

	agePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d+)\s+years?\s+old\b`),
		regexp.MustCompile(`(?i)\bage\s+(\d+)\b`),
		regexp.MustCompile(`(?i)\bturned\s+(\d+)\b`),
	}
	gradeRe = regexp.MustCompile(`(?i)\b(\d+)(?:st|nd|rd|th)\s+grade\b`)
)

// excludedWords are capitalized tokens that never become proper-noun mentions.
var excludedWords = map[string]bool{
	"i": true, "the": true, "a": true, "an": true, "my": true, "your": true,
	"his": true, "her": true, "their": true, "our": true, "it": true, "its": true,
	"he": true, "she": true, "they": true, "we": true, "you": true,
	"this": true, "that": true, "these": true, "those": true, "there": true,
	"hello": true, "hi": true, "hey": true, "bye": true, "goodbye": true,
	"thanks": true, "thank": true, "please": true, "yes": true, "no": true,
	"okay": true, "ok": true, "sure": true, "maybe": true, "well": true,
	"what": true, "when": true, "where": true, "why": true, "who": true,
	"how": true, "can": true, "could": true, "would": true, "should": true,
	"will": true, "may": true, "might": true, "do": true, "does": true,
	"did": true, "have": true, "has": true, "had": true, "is": true,
	"are": true, "was": true, "were": true, "so": true, "oh": true,
	"january": true, "february": true, "march": true, "april": true,
	"june": true, "july": true, "august": true, "september": true,
	"october": true, "november": true, "december": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// attrStopWords never join a medical surface form as a leading modifier.
var attrStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "his": true, "her": true,
	"have": true, "has": true, "had": true, "severe": true, "severely": true,
	"mild": true, "bad": true, "terrible": true, "chronic": true,
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

// candidate is one extracted non-pronoun mention.
type candidate struct {
	typ          models.EntityType
	surface      string
	properName   string // optional name appositive on kinship mentions
	relationship string // kin term for person candidates
	span         span
}

// AttributeConflict reports two differing numeric values for the same
// attribute on one entity. Both values stay recorded with turn provenance.
type AttributeConflict struct {
	EntityID  string
	Attribute string
	Previous  models.AttributeValue
	New       models.AttributeValue
}

// LinkResult summarizes one linking pass over an utterance.
type LinkResult struct {
	Touched       []string
	MentionsAdded int
	Conflicts     []AttributeConflict
}

// Linker extracts and resolves entity mentions. It holds no conversation
// state; that lives in the Graph passed to Link.
type Linker struct {
	registry *patterns.Registry
	window   int
	userID   string
	logger   *slog.Logger
}

// New creates a linker. userID may be empty, in which case entity ids are
// random per conversation instead of stable across conversations.
func New(registry *patterns.Registry, pronounWindow int, userID string, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{registry: registry, window: pronounWindow, userID: userID, logger: logger}
}

// Link extracts mentions from the utterance and folds them into the graph:
// resolving against existing entities, binding pronouns, and accumulating
// attributes. itemScore is the utterance's adjusted score, used to raise the
// importance of touched entities.
func (l *Linker) Link(u models.Utterance, itemScore float64, g *Graph) LinkResult {
	g.seq++
	var res LinkResult
	touched := make(map[string]bool)

	var persons, medical []*models.Entity

	cands := l.extract(u.Text)
	for _, c := range cands {
		e, created := l.resolveCandidate(g, c, u.TurnIndex)
		g.recordMention(e.ID, u.TurnIndex, c.surface)
		res.MentionsAdded++
		if created {
			metrics.Inc(metrics.EntitiesCreated)
		}
		if !touched[e.ID] {
			touched[e.ID] = true
			res.Touched = append(res.Touched, e.ID)
		}
		switch e.Type {
		case models.EntityTypePerson:
			persons = append(persons, e)
			if c.relationship != "" {
				res.Conflicts = append(res.Conflicts,
					addAttr(e, "relationship", c.relationship, u.TurnIndex)...)
			}
		case models.EntityTypeMedicalCondition:
			medical = append(medical, e)
		}
	}

	// Pronouns are references, never new entities.
	for _, p := range extractPronouns(u.Text, cands) {
		e := g.mostRecent(pronounFilter(p), l.window)
		if e == nil {
			l.logger.Debug("unresolved pronoun discarded", "pronoun", p, "turn", u.TurnIndex)
			continue
		}
		lower := strings.ToLower(p)
		if !e.HasAlias(lower) && lower != strings.ToLower(e.CanonicalName) {
			e.Aliases = append(e.Aliases, lower)
		}
		g.recordMention(e.ID, u.TurnIndex, p)
		res.MentionsAdded++
		if !touched[e.ID] {
			touched[e.ID] = true
			res.Touched = append(res.Touched, e.ID)
		}
		if e.Type == models.EntityTypePerson {
			persons = append(persons, e)
		}
	}

	res.Conflicts = append(res.Conflicts, l.accumulateAttributes(u, persons, medical)...)

	for _, id := range res.Touched {
		if e, ok := g.Get(id); ok && itemScore > e.ImportanceScore {
			e.ImportanceScore = itemScore
		}
	}
	return res
}

// extract runs the mention recognizers in priority order; earlier recognizers
// consume their spans so later ones do not re-collect the same text.
func (l *Linker) extract(text string) []candidate {
	var cands []candidate
	var consumed []span

	take := func(c candidate) {
		cands = append(cands, c)
		consumed = append(consumed, c.span)
	}
	free := func(s span) bool {
		for _, c := range consumed {
			if s.overlaps(c) {
				return false
			}
		}
		return true
	}

	// Kinship phrases, with an optional name appositive ("my daughter Emily").
	for _, m := range kinshipRe.FindAllStringSubmatchIndex(text, -1) {
		c := candidate{
			typ:          models.EntityTypePerson,
			surface:      text[m[0]:m[1]],
			relationship: strings.ToLower(text[m[2]:m[3]]),
			span:         span{m[0], m[1]},
		}
		if m[4] >= 0 {
			c.properName = text[m[4]:m[5]]
			c.surface = text[m[0]:m[3]] // the kinship phrase alone, e.g. "my daughter"
		}
		take(c)
	}

	// Medical conditions come from the L1 catalog's medical patterns.
	for _, m := range l.registry.MatchAll(text) {
		if m.Pattern.Category != "medical" {
			continue
		}
		for _, sp := range m.Spans {
			s := span{sp.Start, sp.End}
			if !free(s) {
				continue
			}
			take(candidate{
				typ:     models.EntityTypeMedicalCondition,
				surface: expandMedicalSurface(text, s),
				span:    s,
			})
		}
	}

	// Locations: proper nouns following in/at/to/from.
	for _, m := range locationRe.FindAllStringSubmatchIndex(text, -1) {
		s := span{m[2], m[3]}
		if !free(s) {
			continue
		}
		name := text[m[2]:m[3]]
		if excludedWords[strings.ToLower(name)] {
			continue
		}
		take(candidate{typ: models.EntityTypeLocation, surface: name, span: s})
	}

	// Organizations: capitalized multiword phrases.
	for _, m := range orgRe.FindAllStringSubmatchIndex(text, -1) {
		s := span{m[2], m[3]}
		if !free(s) {
			continue
		}
		phrase := text[m[2]:m[3]]
		skip := false
		for _, w := range strings.Fields(phrase) {
			if excludedWords[strings.ToLower(w)] {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		take(candidate{typ: models.EntityTypeOrganization, surface: phrase, span: s})
	}

	// Named events.
	for _, m := range eventRe.FindAllStringIndex(text, -1) {
		s := span{m[0], m[1]}
		if !free(s) {
			continue
		}
		take(candidate{typ: models.EntityTypeEvent, surface: text[m[0]:m[1]], span: s})
	}

	// Leftover capitalized words, skipping sentence starts.
	for _, w := range wordRe.FindAllStringIndex(text, -1) {
		s := span{w[0], w[1]}
		word := text[w[0]:w[1]]
		if !free(s) || len(word) < 2 {
			continue
		}
		if !unicode.IsUpper(rune(word[0])) || excludedWords[strings.ToLower(word)] {
			continue
		}
		if sentenceStart(text, w[0]) {
			continue
		}
		take(candidate{typ: models.EntityTypePerson, surface: word, span: s})
	}

	return cands
}

// resolveCandidate finds an existing entity for the candidate or creates one.
func (l *Linker) resolveCandidate(g *Graph, c candidate, turn uint32) (*models.Entity, bool) {
	surface := c.surface
	if c.properName != "" {
		surface = c.properName
	}
	lower := strings.ToLower(surface)

	var best *models.Entity
	bestSeq := -1
	for _, id := range g.order {
		e := g.entities[id]
		if e.Type != c.typ {
			continue
		}
		cn := strings.ToLower(e.CanonicalName)
		hit := cn == lower ||
			strings.Contains(cn, lower) || strings.Contains(lower, cn) ||
			e.HasAlias(lower)
		if !hit && c.properName == "" && c.relationship != "" {
			// A bare kinship phrase also resolves through its alias set.
			hit = e.HasAlias(strings.ToLower(c.surface))
		}
		if !hit {
			continue
		}
		seq := g.lastSeq[id]
		if seq > bestSeq || (seq == bestSeq && best != nil && len(e.CanonicalName) > len(best.CanonicalName)) {
			best = e
			bestSeq = seq
		}
	}

	if best != nil {
		l.mergeSurface(best, c)
		return best, false
	}

	e := &models.Entity{
		ID:            l.entityID(c.typ, lower),
		Type:          c.typ,
		CanonicalName: surface,
		Attributes:    make(map[string][]models.AttributeValue),
		FirstTurn:     turn,
		LastTurn:      turn,
	}
	if c.properName != "" {
		e.Aliases = append(e.Aliases, strings.ToLower(c.surface))
	}
	g.add(e)
	l.logger.Debug("created entity", "id", e.ID, "type", e.Type, "name", e.CanonicalName)
	return e, true
}

// mergeSurface unions the candidate's surface forms into the entity, possibly
// promoting a proper name to canonical.
func (l *Linker) mergeSurface(e *models.Entity, c candidate) {
	promote := func(name string) {
		old := strings.ToLower(e.CanonicalName)
		if !e.HasAlias(old) {
			e.Aliases = append(e.Aliases, old)
		}
		e.CanonicalName = name
	}

	forms := []string{c.surface}
	if c.properName != "" {
		forms = append(forms, c.properName)
	}
	for _, f := range forms {
		lower := strings.ToLower(f)
		if lower == strings.ToLower(e.CanonicalName) {
			continue
		}
		switch {
		case isProperName(f) && !isProperName(e.CanonicalName):
			promote(f)
		case isProperName(f) == isProperName(e.CanonicalName) && len(f) > len(e.CanonicalName):
			promote(f)
		default:
			if !e.HasAlias(lower) {
				e.Aliases = append(e.Aliases, lower)
			}
		}
	}
}

func (l *Linker) entityID(typ models.EntityType, key string) string {
	if l.userID == "" {
		return uuid.New().String()
	}
	name := fmt.Sprintf("%s|%s|%s", l.userID, typ, key)
	return uuid.NewSHA1(entityNamespace, []byte(name)).String()
}

// accumulateAttributes writes attribute clues from the utterance onto the
// entities it touched.
func (l *Linker) accumulateAttributes(u models.Utterance, persons, medical []*models.Entity) []AttributeConflict {
	var conflicts []AttributeConflict
	if len(persons) > 0 {
		p := persons[0]
		for _, re := range agePatterns {
			if m := re.FindStringSubmatch(u.Text); m != nil {
				age, _ := strconv.Atoi(m[1])
				conflicts = append(conflicts, addAttr(p, "age", age, u.TurnIndex)...)
			}
		}
		lower := strings.ToLower(u.Text)
		if strings.Contains(lower, "kindergarten") || strings.Contains(lower, "starts school") {
			if p.Attr("age") == nil {
				conflicts = append(conflicts, addAttr(p, "age", 5, u.TurnIndex)...)
				addAttr(p, "age_inferred", true, u.TurnIndex)
			}
		}
		if m := gradeRe.FindStringSubmatch(u.Text); m != nil {
			grade, _ := strconv.Atoi(m[1])
			conflicts = append(conflicts, addAttr(p, "grade", grade, u.TurnIndex)...)
			conflicts = append(conflicts, addAttr(p, "age", grade+5, u.TurnIndex)...)
		}
		for _, med := range medical {
			conflicts = append(conflicts, addAttr(p, "condition", med.CanonicalName, u.TurnIndex)...)
		}
	}
	return conflicts
}

// addAttr appends an attribute value with turn provenance. A differing
// numeric value for an already-set attribute is reported as a conflict; both
// values are preserved.
func addAttr(e *models.Entity, name string, value any, turn uint32) []AttributeConflict {
	vals := e.Attributes[name]
	next := models.AttributeValue{Value: value, Turn: turn}
	if len(vals) > 0 {
		last := vals[len(vals)-1]
		if last.Value == value {
			return nil
		}
		e.Attributes[name] = append(vals, next)
		if isNumeric(last.Value) && isNumeric(value) {
			return []AttributeConflict{{
				EntityID:  e.ID,
				Attribute: name,
				Previous:  last,
				New:       next,
			}}
		}
		return nil
	}
	e.Attributes[name] = append(vals, next)
	return nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

// extractPronouns returns pronoun tokens that do not fall inside an already
// extracted mention span.
func extractPronouns(text string, cands []candidate) []string {
	var out []string
	for _, m := range pronounRe.FindAllStringIndex(text, -1) {
		s := span{m[0], m[1]}
		inside := false
		for _, c := range cands {
			if s.overlaps(c.span) {
				inside = true
				break
			}
		}
		if !inside {
			out = append(out, text[m[0]:m[1]])
		}
	}
	return out
}

// pronounFilter returns the entity-type constraint for a pronoun.
func pronounFilter(pronoun string) func(*models.Entity) bool {
	switch strings.ToLower(pronoun) {
	case "he", "she", "him", "her":
		return func(e *models.Entity) bool { return e.Type == models.EntityTypePerson }
	case "they", "them":
		return func(e *models.Entity) bool {
			return e.Type == models.EntityTypePerson || e.Type == models.EntityTypeOther
		}
	default: // it
		return func(e *models.Entity) bool { return e.Type != models.EntityTypePerson }
	}
}

// expandMedicalSurface widens a condition span left by one word so "peanut
// allergy" is captured whole instead of just "allergy".
func expandMedicalSurface(text string, s span) string {
	surface := strings.ToLower(text[s.start:s.end])
	prefix := strings.TrimRight(text[:s.start], " ")
	words := wordRe.FindAllString(prefix, -1)
	if len(words) > 0 {
		prev := strings.ToLower(words[len(words)-1])
		if !attrStopWords[prev] && !excludedWords[prev] && strings.HasSuffix(prefix, words[len(words)-1]) {
			return prev + " " + surface
		}
	}
	return surface
}

// isProperName reports whether the surface form looks like a proper name
// rather than a descriptive phrase.
func isProperName(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(s), "my ") {
		return false
	}
	return unicode.IsUpper(rune(s[0]))
}

// sentenceStart reports whether the byte offset begins the text or follows
// sentence-ending punctuation.
func sentenceStart(text string, offset int) bool {
	for i := offset - 1; i >= 0; i-- {
		r := text[i]
		if r == ' ' || r == '\t' {
			continue
		}
		return r == '.' || r == '!' || r == '?'
	}
	return true
}

// Package extractor finds named entities in page text.
package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// labelCategories maps recognizer labels (OntoNotes and CoNLL styles) to categories.
var labelCategories = map[string]models.EntityCategory{
	"PERSON":       models.CategoryPerson,
	"PER":          models.CategoryPerson,
	"ORG":          models.CategoryOrganization,
	"ORGANIZATION": models.CategoryOrganization,
	"NORP":         models.CategoryOrganization,
	"GPE":          models.CategoryLocation,
	"LOC":          models.CategoryLocation,
	"LOCATION":     models.CategoryLocation,
	"FAC":          models.CategoryLocation,
	"PRODUCT":      models.CategoryProduct,
	"EVENT":        models.CategoryEvent,
	"WORK_OF_ART":  models.CategoryWorkOfArt,
	"LAW":          models.CategoryLaw,
	"LANGUAGE":     models.CategoryLanguage,
	"TECHNOLOGY":   models.CategoryTechnology,
	"DATE":         models.CategoryDate,
	"TIME":         models.CategoryDate,
	"CARDINAL":     models.CategoryQuantity,
	"ORDINAL":      models.CategoryQuantity,
	"QUANTITY":     models.CategoryQuantity,
	"MONEY":        models.CategoryQuantity,
	"PERCENT":      models.CategoryQuantity,
}

// CategoryForLabel maps a recognizer label to a category.
func CategoryForLabel(label string) (models.EntityCategory, bool) {
	c, ok := labelCategories[strings.ToUpper(strings.TrimSpace(label))]
	return c, ok
}

type Config struct {
	// DefaultConfidence is assigned when the recognizer reports none.
	DefaultConfidence float64
	// KeepNumeric retains date and quantity entities.
	KeepNumeric bool
	// MaxTextRunes bounds the text handed to the recognizer; 0 means unbounded.
	MaxTextRunes int
}

// Extractor turns recognizer mentions into identified entities restricted to
// the knowledge categories.
type Extractor struct {
	recognizer Recognizer
	config     Config
	logger     ectologger.Logger
}

func New(recognizer Recognizer, config Config, logger ectologger.Logger) *Extractor {
	if config.DefaultConfidence <= 0 || config.DefaultConfidence > 1 {
		config.DefaultConfidence = 0.8
	}
	return &Extractor{recognizer: recognizer, config: config, logger: logger}
}

// Extract runs recognition off the calling goroutine so a cancelled context
// returns promptly. Empty or non-prose text yields no entities and no error.
// Entities are unique by ID and keep the offsets of their first mention.
func (e *Extractor) Extract(ctx context.Context, text string) ([]models.Entity, error) {
	if !IsProse(text) {
		return []models.Entity{}, nil
	}

	masked := maskMarkup(text)
	if e.config.MaxTextRunes > 0 && utf8.RuneCountInString(masked) > e.config.MaxTextRunes {
		masked = string([]rune(masked)[:e.config.MaxTextRunes])
	}

	type result struct {
		mentions []Mention
		err      error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("recognizer panicked: %v", r)}
			}
		}()
		mentions, err := e.recognizer.Recognize(masked)
		done <- result{mentions: mentions, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("entity recognition failed: %w", res.err)
		}
		return e.toEntities(res.mentions), nil
	}
}

func (e *Extractor) toEntities(mentions []Mention) []models.Entity {
	entities := make([]models.Entity, 0, len(mentions))
	index := make(map[string]int, len(mentions))

	for _, m := range mentions {
		category, ok := CategoryForLabel(m.Label)
		if !ok {
			continue
		}
		if !category.IsKnowledge() && !(e.config.KeepNumeric && category.IsNumeric()) {
			continue
		}
		text := strings.TrimSpace(m.Text)
		if !meaningful(text) {
			continue
		}

		id := fingerprint.EntityID(text, category)
		if i, seen := index[id]; seen {
			ent := &entities[i]
			n, _ := strconv.Atoi(ent.Metadata["mentions"])
			ent.Metadata["mentions"] = strconv.Itoa(n + 1)
			if m.Confidence > ent.Confidence {
				ent.Confidence = m.Confidence
			}
			continue
		}

		confidence := m.Confidence
		if confidence <= 0 {
			confidence = e.config.DefaultConfidence
		}
		index[id] = len(entities)
		entities = append(entities, models.Entity{
			ID:         id,
			Text:       text,
			Category:   category,
			Start:      m.Start,
			End:        m.End,
			Confidence: confidence,
			Metadata: map[string]string{
				"label":    strings.ToUpper(m.Label),
				"mentions": "1",
			},
		})
	}

	e.logger.WithField("entities", len(entities)).Debugf("extracted %d entities from %d mentions", len(entities), len(mentions))
	return entities
}

// meaningful rejects mentions with fewer than two letters or digits once normalized.
func meaningful(text string) bool {
	n := 0
	for _, r := range normalizers.EntityKey(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n >= 2
}

// IsProse reports whether text contains enough natural language to run
// recognition: at least one word and letters making up half the
// non-space characters.
func IsProse(text string) bool {
	var letters, other int
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsSpace(r):
		default:
			other++
		}
	}
	return letters >= 2 && letters*2 >= letters+other
}

var markupPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?s)```.*?```"),           // fenced code
	regexp.MustCompile("`[^`\n]*`"),               // inline code
	regexp.MustCompile(`\]\([^)\s]*\)`),           // link and image targets
	regexp.MustCompile(`https?://[^\s)\]>]+`),     // bare urls
	regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s`),    // heading markers
	regexp.MustCompile(`[*_]{1,3}|!\[|\[|<[^>]+>`), // emphasis, brackets, html tags
}

// maskMarkup blanks markdown and URLs rune-for-rune so offsets into the
// masked text are offsets into the original.
func maskMarkup(text string) string {
	for _, re := range markupPatterns {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			return strings.Repeat(" ", utf8.RuneCountInString(m))
		})
	}
	return text
}

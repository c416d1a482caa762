// Package relationships proposes typed relationships between extracted
// entities using a generative text service and validates the output.
package relationships

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/llm"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Reasons a proposed triple is dropped.
const (
	DropUnknownEntity = "unknown_entity"
	DropUnknownLabel  = "unknown_label"
	DropSelfLoop      = "self_loop"
	DropLowConfidence = "low_confidence"
	DropDuplicate     = "duplicate"
)

type Config struct {
	// MaxTextRunes truncates page text before prompting; 0 means unbounded.
	MaxTextRunes int
	// MaxEntities caps the entity list in the prompt; 0 means unbounded.
	MaxEntities int
	// DefaultConfidence is used when the model reports none.
	DefaultConfidence float64
	// MinConfidence drops triples below this confidence.
	MinConfidence float64
}

// Extractor treats model output as untrusted: it is parsed, then every
// triple is checked against the supplied entities and the label vocabulary.
type Extractor struct {
	generator llm.Generator
	config    Config
	logger    ectologger.Logger
}

func New(generator llm.Generator, config Config, logger ectologger.Logger) *Extractor {
	if config.DefaultConfidence <= 0 || config.DefaultConfidence > 1 {
		config.DefaultConfidence = 0.7
	}
	return &Extractor{generator: generator, config: config, logger: logger}
}

// Extract returns the validated relationships among entities found in text.
// Malformed or empty model output yields an empty list and no error; an
// error is returned only when the generative service itself fails.
func (e *Extractor) Extract(ctx context.Context, text string, entities []models.Entity) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Extractor.Extract")
	defer span.End()

	relationships := []models.Relationship{}
	if e.generator == nil || len(entities) < 2 {
		return relationships, nil
	}

	if e.config.MaxEntities > 0 && len(entities) > e.config.MaxEntities {
		entities = entities[:e.config.MaxEntities]
	}
	if e.config.MaxTextRunes > 0 && utf8.RuneCountInString(text) > e.config.MaxTextRunes {
		text = string([]rune(text)[:e.config.MaxTextRunes])
	}

	prompt, err := renderPrompt(text, entities)
	if err != nil {
		return relationships, fmt.Errorf("failed to render prompt: %w", err)
	}

	output, err := e.generator.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		tracing.RecordError(span, err)
		return relationships, fmt.Errorf("relationship generation failed: %w", err)
	}

	triples, ok := parseTriples(output)
	if !ok {
		metrics.RecordMalformedLLMOutput()
		e.logger.WithContext(ctx).WithField("output_length", len(output)).Warn("discarding malformed relationship output")
		return relationships, nil
	}

	return e.validate(ctx, triples, entities), nil
}

func (e *Extractor) validate(ctx context.Context, triples []triple, entities []models.Entity) []models.Relationship {
	known := make(map[string]models.Entity, len(entities))
	for _, ent := range entities {
		key := normalizers.EntityKey(ent.Text)
		if _, exists := known[key]; !exists {
			known[key] = ent
		}
	}

	type edgeKey struct {
		subject string
		label   models.RelationshipLabel
		object  string
	}
	index := map[edgeKey]int{}
	relationships := make([]models.Relationship, 0, len(triples))

	drop := func(reason string, t triple) {
		metrics.RecordRelationshipDropped(reason)
		e.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"reason":  reason,
			"subject": t.subject(),
			"label":   t.label(),
			"object":  t.object(),
		}).Debug("dropping proposed relationship")
	}

	for _, t := range triples {
		subject, okS := known[normalizers.EntityKey(t.subject())]
		object, okO := known[normalizers.EntityKey(t.object())]
		if !okS || !okO {
			drop(DropUnknownEntity, t)
			continue
		}
		label, ok := models.ParseRelationshipLabel(t.label())
		if !ok {
			drop(DropUnknownLabel, t)
			continue
		}
		if subject.ID == object.ID {
			drop(DropSelfLoop, t)
			continue
		}
		confidence, ok := t.confidence()
		if !ok {
			confidence = e.config.DefaultConfidence
		}
		if confidence < e.config.MinConfidence {
			drop(DropLowConfidence, t)
			continue
		}

		key := edgeKey{subject.ID, label, object.ID}
		if i, seen := index[key]; seen {
			if confidence > relationships[i].Confidence {
				relationships[i].Confidence = confidence
			}
			drop(DropDuplicate, t)
			continue
		}

		index[key] = len(relationships)
		relationships = append(relationships, models.Relationship{
			SubjectID:  subject.ID,
			Label:      label,
			ObjectID:   object.ID,
			Confidence: confidence,
			Provenance: provenance(t.Evidence),
		})
	}
	return relationships
}

func provenance(evidence string) string {
	const maxRunes = 200
	if evidence == "" {
		return "llm"
	}
	if utf8.RuneCountInString(evidence) > maxRunes {
		evidence = string([]rune(evidence)[:maxRunes])
	}
	return "llm: " + evidence
}

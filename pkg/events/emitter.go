// Package events publishes knowledge events after ingestion work
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Publisher delivers events to the output topic
type Publisher interface {
	PublishKnowledgeEvent(ctx context.Context, event *models.KnowledgeEvent) error
}

// Emitter builds and publishes knowledge events. A nil publisher turns every
// emit into a no-op so the service runs without Kafka.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// Enabled reports whether events leave the process
func (e *Emitter) Enabled() bool {
	return e != nil && e.publisher != nil
}

func (e *Emitter) emit(ctx context.Context, event *models.KnowledgeEvent) error {
	if !e.Enabled() {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter."+string(event.Type))
	defer span.End()

	if err := e.publisher.PublishKnowledgeEvent(ctx, event); err != nil {
		tracing.RecordError(span, err)
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", event.Type)
		return err
	}
	return nil
}

// EmitDocumentIngested reports a page that finished the pipeline
func (e *Emitter) EmitDocumentIngested(ctx context.Context, crawlID, sourceURL string, entities, relationships int) error {
	return e.emit(ctx, &models.KnowledgeEvent{
		Type:          models.KnowledgeEventDocumentIngested,
		CrawlID:       crawlID,
		SourceURL:     sourceURL,
		Entities:      entities,
		Relationships: relationships,
	})
}

// EmitCrawlCompleted reports a finished crawl with its page tallies
func (e *Emitter) EmitCrawlCompleted(ctx context.Context, crawlID string, skipped, newPages int) error {
	return e.emit(ctx, &models.KnowledgeEvent{
		Type:         models.KnowledgeEventCrawlCompleted,
		CrawlID:      crawlID,
		PagesSkipped: skipped,
		PagesNew:     newPages,
	})
}

// EmitCrawlFailed reports a crawl the crawler gave up on
func (e *Emitter) EmitCrawlFailed(ctx context.Context, crawlID, reason string) error {
	return e.emit(ctx, &models.KnowledgeEvent{
		Type:    models.KnowledgeEventCrawlFailed,
		CrawlID: crawlID,
		Error:   reason,
	})
}

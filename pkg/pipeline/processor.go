// Package pipeline turns accepted pages into graph and vector records:
// entity extraction, relationship extraction, graph upserts, embedding and
// vector upsert, then an ingestion event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/embedding"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/vector"
)

// Stage names used in logs and metrics.
const (
	StageEntities      = "entities"
	StageRelationships = "relationships"
	StageGraph         = "graph"
	StageEmbedding     = "embedding"
	StageVector        = "vector"
	StageEmit          = "emit"
)

type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]models.Entity, error)
}

type RelationshipExtractor interface {
	Extract(ctx context.Context, text string, entities []models.Entity) ([]models.Relationship, error)
}

type GraphWriter interface {
	UpsertEntities(ctx context.Context, entities []models.Entity) error
	UpsertRelationships(ctx context.Context, rels []models.Relationship) error
	UpsertDocument(ctx context.Context, id, title string, entityIDs []string) error
}

type VectorWriter interface {
	Upsert(ctx context.Context, doc vector.Document) error
	ContentHash(ctx context.Context, id string) (string, bool, error)
}

type Emitter interface {
	EmitDocumentIngested(ctx context.Context, crawlID, sourceURL string, entities, relationships int) error
}

// StageError records which stage failed for a page.
type StageError struct {
	Stage string
	URL   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed for %s: %v", e.Stage, e.URL, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result summarizes one processed page.
type Result struct {
	SourceURL     string
	Entities      int
	Relationships int
	Embedded      bool
	Unchanged     bool
}

// BatchResult summarizes a batch of pages.
type BatchResult struct {
	Pages     int
	Succeeded int
	Failed    int
	Results   []*Result
}

type Config struct {
	// BatchConcurrency bounds pages processed at once within a batch.
	BatchConcurrency int
	// PageTimeout bounds a single page; zero means no limit.
	PageTimeout time.Duration
}

// Processor runs the extraction and storage stages. Any collaborator may be
// nil, which skips its stage.
type Processor struct {
	logger        ectologger.Logger
	entities      EntityExtractor
	relationships RelationshipExtractor
	graph         GraphWriter
	vectors       VectorWriter
	embedder      embedding.Embedder
	emitter       Emitter
	config        Config
}

// NewProcessor creates a page processor
func NewProcessor(
	logger ectologger.Logger,
	entities EntityExtractor,
	relationships RelationshipExtractor,
	graph GraphWriter,
	vectors VectorWriter,
	embedder embedding.Embedder,
	emitter Emitter,
	config Config,
) *Processor {
	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = 4
	}
	return &Processor{
		logger:        logger,
		entities:      entities,
		relationships: relationships,
		graph:         graph,
		vectors:       vectors,
		embedder:      embedder,
		emitter:       emitter,
		config:        config,
	}
}

// ProcessPage runs every stage for one page. Stages degrade independently:
// a failed extraction still stores the page vector and a failed vector write
// still stores the graph. The returned error joins every stage failure.
func (p *Processor) ProcessPage(ctx context.Context, crawlID string, page models.Page) (*Result, error) {
	ctx = appctx.SetSourceURL(appctx.SetCrawlID(ctx, crawlID), page.SourceURL)
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.ProcessPage")
	defer span.End()

	if p.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.PageTimeout)
		defer cancel()
	}

	start := time.Now()
	log := p.logger.WithContext(ctx).WithFields(appctx.Fields(ctx))
	result := &Result{SourceURL: page.SourceURL}
	var errs []error
	fail := func(stage string, err error) {
		metrics.RecordStageError(stage)
		log.WithError(err).Warnf("Pipeline stage %s failed", stage)
		errs = append(errs, &StageError{Stage: stage, URL: page.SourceURL, Err: err})
	}

	entities := p.extractEntities(ctx, page, fail)
	rels := p.extractRelationships(ctx, page, entities, fail)
	result.Entities = len(entities)
	result.Relationships = len(rels)

	p.writeGraph(ctx, page, entities, rels, fail)
	result.Embedded, result.Unchanged = p.writeVector(ctx, page, fail)

	if p.emitter != nil {
		if err := p.emitter.EmitDocumentIngested(ctx, crawlID, page.SourceURL, result.Entities, result.Relationships); err != nil {
			metrics.RecordStageError(StageEmit)
		}
	}

	err := errors.Join(errs...)
	status := "ok"
	if err != nil {
		status = "partial"
		tracing.RecordError(span, err)
	}
	metrics.RecordPipeline("page", status, time.Since(start))
	log.WithFields(map[string]any{
		"entities":      result.Entities,
		"relationships": result.Relationships,
		"embedded":      result.Embedded,
		"unchanged":     result.Unchanged,
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Processed page")
	return result, err
}

func (p *Processor) extractEntities(ctx context.Context, page models.Page, fail func(string, error)) []models.Entity {
	if p.entities == nil {
		return nil
	}
	entities, err := p.entities.Extract(ctx, page.Text)
	if err != nil {
		fail(StageEntities, err)
		return nil
	}
	return entities
}

func (p *Processor) extractRelationships(ctx context.Context, page models.Page, entities []models.Entity, fail func(string, error)) []models.Relationship {
	if p.relationships == nil || len(entities) < 2 {
		return nil
	}
	rels, err := p.relationships.Extract(ctx, page.Text, entities)
	if err != nil {
		fail(StageRelationships, err)
		return nil
	}
	for i := range rels {
		rels[i].SourceURL = page.SourceURL
	}
	return rels
}

func (p *Processor) writeGraph(ctx context.Context, page models.Page, entities []models.Entity, rels []models.Relationship, fail func(string, error)) {
	if p.graph == nil {
		return
	}
	if err := p.graph.UpsertEntities(ctx, entities); err != nil {
		// relationships and mentions need the entity nodes
		fail(StageGraph, err)
		return
	}
	if err := p.graph.UpsertRelationships(ctx, rels); err != nil {
		fail(StageGraph, err)
	}

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	if err := p.graph.UpsertDocument(ctx, page.SourceURL, page.Title(), ids); err != nil {
		fail(StageGraph, err)
	}
}

// writeVector embeds and stores the page unless the stored copy has the
// same content fingerprint.
func (p *Processor) writeVector(ctx context.Context, page models.Page, fail func(string, error)) (embedded, unchanged bool) {
	if p.vectors == nil || p.embedder == nil {
		return false, false
	}

	hash := fingerprint.Page(page)
	if stored, ok, err := p.vectors.ContentHash(ctx, page.SourceURL); err == nil && ok && !fingerprint.HasChanged(stored, hash) {
		return false, true
	}

	vec, err := p.embedder.Embed(ctx, embeddingText(page))
	if err != nil {
		if !errors.Is(err, embedding.ErrEmptyText) {
			fail(StageEmbedding, err)
		}
		return false, false
	}

	meta := make(map[string]string, len(page.Metadata)+1)
	for k, v := range page.Metadata {
		meta[k] = v
	}
	if page.Language != "" {
		meta["language"] = page.Language
	}

	err = p.vectors.Upsert(ctx, vector.Document{
		ID:          page.SourceURL,
		Title:       page.Title(),
		Content:     page.Text,
		Metadata:    database.NewJSONB(meta),
		ContentHash: hash,
		Embedding:   vec,
	})
	if err != nil {
		fail(StageVector, err)
		return false, false
	}
	return true, false
}

func embeddingText(page models.Page) string {
	if title := page.Title(); title != "" {
		return title + "\n\n" + page.Text
	}
	return page.Text
}

// ProcessBatch processes pages with bounded concurrency. One page failing
// does not stop the others; the error joins all page errors.
func (p *Processor) ProcessBatch(ctx context.Context, crawlID string, pages []models.Page) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.ProcessBatch")
	defer span.End()

	start := time.Now()
	batch := &BatchResult{Pages: len(pages), Results: make([]*Result, len(pages))}
	pageErrs := make([]error, len(pages))

	var g errgroup.Group
	g.SetLimit(p.config.BatchConcurrency)
	for i, page := range pages {
		g.Go(func() error {
			batch.Results[i], pageErrs[i] = p.ProcessPage(ctx, crawlID, page)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range pageErrs {
		if err != nil {
			batch.Failed++
		} else {
			batch.Succeeded++
		}
	}

	err := errors.Join(pageErrs...)
	status := "ok"
	if err != nil {
		status = "partial"
		tracing.RecordError(span, err)
	}
	metrics.RecordPipeline("batch", status, time.Since(start))
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"crawl_id":  crawlID,
		"pages":     batch.Pages,
		"succeeded": batch.Succeeded,
		"failed":    batch.Failed,
	}).Info("Processed page batch")
	return batch, err
}

// Package search is the hybrid query engine: a vector similarity branch and
// a graph proximity branch run concurrently and are merged into one ranking.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/embedding"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/vector"
)

var ErrEmptyQuery = errors.New("query is required")

const (
	DefaultVectorWeight = 0.6
	DefaultGraphWeight  = 0.4
	DefaultBothBonus    = 0.2
	// RerankWeight caps the lexical adjustment applied by rerank.
	RerankWeight = 0.1
)

type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]models.Entity, error)
}

type VectorIndex interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]models.VectorHit, error)
	Lookup(ctx context.Context, ids []string) (map[string]vector.Document, error)
}

type GraphIndex interface {
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	SearchEntities(ctx context.Context, text string, limit int) ([]models.Entity, error)
	DocumentsNear(ctx context.Context, entityIDs []string, depth int) ([]models.DocumentHit, error)
}

type Config struct {
	VectorLimit  int
	DefaultLimit int
	DefaultDepth int
	MaxDepth     int
	// BranchTimeout bounds each branch separately.
	BranchTimeout time.Duration
	VectorWeight  float64
	GraphWeight   float64
	BothBonus     float64
	// ProbeLimit caps free-text entity matches per query entity.
	ProbeLimit int
}

// Options are the per-query knobs. Zero values take the configured defaults.
type Options struct {
	VectorLimit int
	GraphDepth  int
	Limit       int
	Rerank      bool
}

type Engine struct {
	logger    ectologger.Logger
	extractor EntityExtractor
	embedder  embedding.Embedder
	vectors   VectorIndex
	graph     GraphIndex
	config    Config
}

// NewEngine creates a hybrid query engine. A nil graph index runs
// vector-only; a nil extractor probes the graph with the raw query.
func NewEngine(logger ectologger.Logger, extractor EntityExtractor, embedder embedding.Embedder, vectors VectorIndex, graphIndex GraphIndex, config Config) *Engine {
	if config.VectorLimit <= 0 {
		config.VectorLimit = 10
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 10
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = 4
	}
	if config.DefaultDepth <= 0 || config.DefaultDepth > config.MaxDepth {
		config.DefaultDepth = min(2, config.MaxDepth)
	}
	if config.VectorWeight == 0 && config.GraphWeight == 0 {
		config.VectorWeight = DefaultVectorWeight
		config.GraphWeight = DefaultGraphWeight
		config.BothBonus = DefaultBothBonus
	}
	if config.ProbeLimit <= 0 {
		config.ProbeLimit = 5
	}
	return &Engine{
		logger:    logger,
		extractor: extractor,
		embedder:  embedder,
		vectors:   vectors,
		graph:     graphIndex,
		config:    config,
	}
}

func (e *Engine) resolve(opts Options) Options {
	if opts.VectorLimit <= 0 {
		opts.VectorLimit = e.config.VectorLimit
	}
	if opts.GraphDepth <= 0 {
		opts.GraphDepth = e.config.DefaultDepth
	}
	if opts.GraphDepth > e.config.MaxDepth {
		opts.GraphDepth = e.config.MaxDepth
	}
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	return opts
}

// Search runs both branches and returns the merged ranking. A failed branch
// marks the response degraded; if both fail the result list is empty.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*models.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := tracing.StartSpan(ctx, "search.Engine.Search")
	defer span.End()

	start := time.Now()
	opts = e.resolve(opts)
	log := e.logger.WithContext(ctx).WithField("query", query)

	var (
		vectorHits []models.VectorHit
		graphHits  []models.DocumentHit
		vectorErr  error
		graphErr   error
	)

	var g errgroup.Group
	g.Go(func() error {
		bctx, cancel := e.branchContext(ctx)
		defer cancel()
		vectorHits, vectorErr = e.vectorBranch(bctx, query, opts.VectorLimit)
		return nil
	})
	g.Go(func() error {
		bctx, cancel := e.branchContext(ctx)
		defer cancel()
		graphHits, graphErr = e.graphBranch(bctx, query, opts.GraphDepth)
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil {
		metrics.RecordSearchBranchFailure("vector")
		log.WithError(vectorErr).Warn("Vector branch failed")
	}
	if graphErr != nil {
		metrics.RecordSearchBranchFailure("graph")
		log.WithError(graphErr).Warn("Graph branch failed, continuing with vector results")
	}

	resp := &models.SearchResponse{
		Results:  []models.QueryResult{},
		Degraded: vectorErr != nil || graphErr != nil,
	}
	if vectorErr != nil && graphErr != nil {
		metrics.RecordSearch("failed", time.Since(start))
		return resp, nil
	}

	results := e.merge(vectorHits, graphHits, opts.GraphDepth)
	e.hydrate(ctx, results)
	if opts.Rerank {
		rerank(results, query)
	}
	Sort(results)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	resp.Results = results

	outcome := "ok"
	if resp.Degraded {
		outcome = "degraded"
	}
	metrics.RecordSearch(outcome, time.Since(start))
	log.WithFields(map[string]any{
		"results":     len(results),
		"vector_hits": len(vectorHits),
		"graph_hits":  len(graphHits),
		"degraded":    resp.Degraded,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Hybrid search finished")
	return resp, nil
}

// branchContext keeps the parent's values and cancellation but gives each
// branch its own deadline.
func (e *Engine) branchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.BranchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.BranchTimeout)
}

func (e *Engine) vectorBranch(ctx context.Context, query string, limit int) ([]models.VectorHit, error) {
	if e.vectors == nil || e.embedder == nil {
		return nil, errors.New("vector index not configured")
	}
	ctx, span := tracing.StartSpan(ctx, "search.Engine.vectorBranch")
	defer span.End()

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	hits, err := e.vectors.Search(ctx, vec, limit)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return hits, nil
}

func (e *Engine) graphBranch(ctx context.Context, query string, depth int) ([]models.DocumentHit, error) {
	if e.graph == nil {
		return nil, errors.New("graph index not configured")
	}
	ctx, span := tracing.StartSpan(ctx, "search.Engine.graphBranch")
	defer span.End()

	ids, err := e.queryEntities(ctx, query)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	hits, err := e.graph.DocumentsNear(ctx, ids, depth)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return hits, nil
}

// queryEntities resolves the query to graph entity ids. Extracted entities
// resolve by derived id, then by text; with no extracted entities the
// whole query is the text probe.
func (e *Engine) queryEntities(ctx context.Context, query string) ([]string, error) {
	var extracted []models.Entity
	if e.extractor != nil {
		entities, err := e.extractor.Extract(ctx, query)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).Debug("Query entity extraction failed, probing with query text")
		}
		extracted = entities
	}

	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	probes := []string{query}
	if len(extracted) > 0 {
		probes = probes[:0]
		for _, entity := range extracted {
			found, err := e.graph.GetEntity(ctx, entity.ID)
			switch {
			case err == nil:
				add(found.ID)
			case errors.Is(err, graph.ErrEntityNotFound):
				probes = append(probes, entity.Text)
			default:
				return nil, err
			}
		}
	}

	for _, probe := range probes {
		matches, err := e.graph.SearchEntities(ctx, probe, e.config.ProbeLimit)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			add(m.ID)
		}
	}

	sort.Strings(ids)
	return ids, nil
}

type candidate struct {
	result    models.QueryResult
	hasVector bool
	hasGraph  bool
}

func (e *Engine) merge(vectorHits []models.VectorHit, graphHits []models.DocumentHit, depth int) []models.QueryResult {
	byID := make(map[string]*candidate, len(vectorHits)+len(graphHits))
	order := make([]string, 0, len(vectorHits)+len(graphHits))
	get := func(id string) *candidate {
		c, ok := byID[id]
		if !ok {
			c = &candidate{result: models.QueryResult{ID: id, Payload: map[string]any{}}}
			byID[id] = c
			order = append(order, id)
		}
		return c
	}

	for _, hit := range vectorHits {
		c := get(hit.ID)
		if c.hasVector && hit.Similarity <= c.result.VectorSimilarity {
			continue
		}
		c.hasVector = true
		c.result.VectorSimilarity = hit.Similarity
		c.result.Payload = vectorPayload(hit)
	}
	for _, hit := range graphHits {
		c := get(hit.ID)
		if c.hasGraph && hit.Distance >= *c.result.GraphDistance {
			continue
		}
		c.hasGraph = true
		d := hit.Distance
		c.result.GraphDistance = &d
		if !c.hasVector && hit.Title != "" {
			c.result.Payload["title"] = hit.Title
		}
	}

	results := make([]models.QueryResult, 0, len(order))
	for _, id := range order {
		c := byID[id]
		switch {
		case c.hasVector && c.hasGraph:
			c.result.Source = models.SourceBoth
		case c.hasVector:
			c.result.Source = models.SourceVector
		default:
			c.result.Source = models.SourceGraph
		}
		c.result.Score = e.Score(Signals{
			Similarity: c.result.VectorSimilarity,
			InVector:   c.hasVector,
			Distance:   c.result.GraphDistance,
		}, depth)
		results = append(results, c.result)
	}
	return results
}

// Signals are one document's inputs to the hybrid score.
type Signals struct {
	Similarity float64
	InVector   bool
	// Distance is nil when the graph branch did not reach the document.
	Distance *int
}

// Score combines vector similarity and graph proximity, adding the bonus
// when both branches found the document. Distance 1 (a direct mention) is
// full proximity; each further hop moves toward zero across the depth+1
// possible distances.
func (e *Engine) Score(s Signals, depth int) float64 {
	var score float64
	if s.InVector {
		score += e.config.VectorWeight * s.Similarity
	}
	if s.Distance != nil {
		score += e.config.GraphWeight * (1 - normalizedDistance(*s.Distance, depth))
	}
	if s.InVector && s.Distance != nil {
		score += e.config.BothBonus
	}
	return score
}

func normalizedDistance(distance, depth int) float64 {
	if depth < 1 {
		depth = 1
	}
	n := float64(distance-1) / float64(depth+1)
	return max(0, min(1, n))
}

// hydrate fills payloads for graph-only documents from the vector store.
// Failures leave the graph title in place.
func (e *Engine) hydrate(ctx context.Context, results []models.QueryResult) {
	if e.vectors == nil {
		return
	}
	var ids []string
	for _, r := range results {
		if r.Source == models.SourceGraph {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	docs, err := e.vectors.Lookup(ctx, ids)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Debug("Failed to hydrate graph results")
		return
	}
	for i := range results {
		doc, ok := docs[results[i].ID]
		if !ok || results[i].Source != models.SourceGraph {
			continue
		}
		results[i].Payload = documentPayload(doc.Title, doc.Content, doc.Metadata.GetValue())
	}
}

func vectorPayload(hit models.VectorHit) map[string]any {
	return documentPayload(hit.Title, hit.Content, hit.Metadata)
}

func documentPayload(title, content string, metadata map[string]string) map[string]any {
	payload := map[string]any{}
	if title != "" {
		payload["title"] = title
	}
	if content != "" {
		payload["content"] = content
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	return payload
}

// Sort orders results by score, then vector similarity, then id.
func Sort(results []models.QueryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return Less(results[i], results[j])
	})
}

// Less reports whether a ranks ahead of b.
func Less(a, b models.QueryResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.VectorSimilarity != b.VectorSimilarity {
		return a.VectorSimilarity > b.VectorSimilarity
	}
	return a.ID < b.ID
}

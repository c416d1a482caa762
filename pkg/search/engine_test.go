package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/vector"
)

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

type fakeExtractor struct {
	entities []models.Entity
	err      error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) ([]models.Entity, error) {
	return f.entities, f.err
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeVectors struct {
	hits      []models.VectorHit
	err       error
	docs      map[string]vector.Document
	lookupErr error
}

func (f *fakeVectors) Search(ctx context.Context, embedding []float32, limit int) ([]models.VectorHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeVectors) Lookup(ctx context.Context, ids []string) (map[string]vector.Document, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	out := map[string]vector.Document{}
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

type fakeGraph struct {
	mu       sync.Mutex
	entities map[string]models.Entity
	matches  map[string][]models.Entity
	hits     []models.DocumentHit
	err      error
	block    bool

	probes    []string
	nearIDs   []string
	nearDepth int
}

func (f *fakeGraph) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	if e, ok := f.entities[id]; ok {
		return &e, nil
	}
	return nil, graph.ErrEntityNotFound
}

func (f *fakeGraph) SearchEntities(ctx context.Context, text string, limit int) ([]models.Entity, error) {
	f.mu.Lock()
	f.probes = append(f.probes, text)
	f.mu.Unlock()
	return f.matches[text], nil
}

func (f *fakeGraph) DocumentsNear(ctx context.Context, ids []string, depth int) ([]models.DocumentHit, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	f.nearIDs = ids
	f.nearDepth = depth
	f.mu.Unlock()
	return f.hits, f.err
}

var kafka = models.Entity{ID: "e-kafka", Text: "Kafka", Category: models.CategoryTechnology}

func testConfig() Config {
	return Config{
		VectorLimit:   10,
		DefaultLimit:  10,
		DefaultDepth:  2,
		MaxDepth:      4,
		BranchTimeout: time.Second,
		VectorWeight:  0.6,
		GraphWeight:   0.4,
		BothBonus:     0.2,
	}
}

func newEngine(vectors *fakeVectors, g *fakeGraph, extractor *fakeExtractor) *Engine {
	return NewEngine(silentLogger(), extractor, &fakeEmbedder{}, vectors, g, testConfig())
}

func TestSearchMergesBranches(t *testing.T) {
	vectors := &fakeVectors{
		hits: []models.VectorHit{{ID: "D1", Similarity: 0.9, Title: "Apache Kafka", Content: "Kafka is a log."}},
		docs: map[string]vector.Document{
			"D2": {ID: "D2", Title: "Streams", Content: "Kafka Streams", Metadata: database.NewJSONB(map[string]string{"lang": "en"})},
		},
	}
	g := &fakeGraph{
		entities: map[string]models.Entity{"e-kafka": kafka},
		hits:     []models.DocumentHit{{ID: "D1", Distance: 1}, {ID: "D2", Distance: 2}},
	}
	engine := newEngine(vectors, g, &fakeExtractor{entities: []models.Entity{kafka}})

	resp, err := engine.Search(context.Background(), "Apache Kafka", Options{})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Results, 2)

	d1, d2 := resp.Results[0], resp.Results[1]
	assert.Equal(t, "D1", d1.ID)
	assert.Equal(t, models.SourceBoth, d1.Source)
	assert.InDelta(t, 0.6*0.9+0.4+0.2, d1.Score, 1e-9)
	require.NotNil(t, d1.GraphDistance)
	assert.Equal(t, 1, *d1.GraphDistance)
	assert.Equal(t, "Apache Kafka", d1.Payload["title"])

	assert.Equal(t, "D2", d2.ID)
	assert.Equal(t, models.SourceGraph, d2.Source)
	assert.InDelta(t, 0.4*(1-1.0/3.0), d2.Score, 1e-9)
	assert.Equal(t, "Kafka Streams", d2.Payload["content"], "graph-only results are hydrated")
	assert.Greater(t, d1.Score, d2.Score)

	assert.Equal(t, []string{"e-kafka"}, g.nearIDs)
	assert.Equal(t, 2, g.nearDepth)
	assert.Empty(t, g.probes, "entities found by id need no text probe")
}

func TestQueryEntityResolution(t *testing.T) {
	t.Run("unknown entity falls back to its text", func(t *testing.T) {
		g := &fakeGraph{matches: map[string][]models.Entity{"Kafka": {{ID: "e-other"}}}}
		engine := newEngine(&fakeVectors{}, g, &fakeExtractor{entities: []models.Entity{kafka}})

		_, err := engine.Search(context.Background(), "Apache Kafka", Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Kafka"}, g.probes)
		assert.Equal(t, []string{"e-other"}, g.nearIDs)
	})

	t.Run("no entities probes with the query", func(t *testing.T) {
		g := &fakeGraph{matches: map[string][]models.Entity{"event streaming": {{ID: "b"}, {ID: "a"}, {ID: "b"}}}}
		engine := newEngine(&fakeVectors{}, g, &fakeExtractor{})

		_, err := engine.Search(context.Background(), "event streaming", Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"event streaming"}, g.probes)
		assert.Equal(t, []string{"a", "b"}, g.nearIDs)
	})

	t.Run("nothing resolved skips traversal", func(t *testing.T) {
		g := &fakeGraph{}
		engine := newEngine(&fakeVectors{}, g, &fakeExtractor{})

		resp, err := engine.Search(context.Background(), "nothing", Options{})
		require.NoError(t, err)
		assert.Nil(t, g.nearIDs)
		assert.Empty(t, resp.Results)
		assert.False(t, resp.Degraded)
	})
}

func TestGraphFailureDegradesToVector(t *testing.T) {
	vectors := &fakeVectors{hits: []models.VectorHit{{ID: "D1", Similarity: 0.5}, {ID: "D2", Similarity: 0.7}}}
	g := &fakeGraph{entities: map[string]models.Entity{"e-kafka": kafka}, err: errors.New("bolt: connection refused")}
	engine := newEngine(vectors, g, &fakeExtractor{entities: []models.Entity{kafka}})

	resp, err := engine.Search(context.Background(), "Kafka", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "D2", resp.Results[0].ID)
	for _, r := range resp.Results {
		assert.Equal(t, models.SourceVector, r.Source)
		assert.Nil(t, r.GraphDistance)
	}
}

func TestSlowGraphDoesNotCancelVector(t *testing.T) {
	vectors := &fakeVectors{hits: []models.VectorHit{{ID: "D1", Similarity: 0.8}}}
	g := &fakeGraph{entities: map[string]models.Entity{"e-kafka": kafka}, block: true}
	config := testConfig()
	config.BranchTimeout = 50 * time.Millisecond
	engine := NewEngine(silentLogger(), &fakeExtractor{entities: []models.Entity{kafka}}, &fakeEmbedder{}, vectors, g, config)

	resp, err := engine.Search(context.Background(), "Kafka", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "D1", resp.Results[0].ID)
}

func TestBothBranchesFailingReturnsEmpty(t *testing.T) {
	g := &fakeGraph{err: errors.New("down"), matches: map[string][]models.Entity{"Kafka": {kafka}}}
	engine := NewEngine(silentLogger(), &fakeExtractor{}, &fakeEmbedder{err: errors.New("embedding down")}, &fakeVectors{}, g, testConfig())

	resp, err := engine.Search(context.Background(), "Kafka", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestEmptyQuery(t *testing.T) {
	engine := newEngine(&fakeVectors{}, &fakeGraph{}, &fakeExtractor{})
	_, err := engine.Search(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestLimitTruncates(t *testing.T) {
	vectors := &fakeVectors{hits: []models.VectorHit{
		{ID: "a", Similarity: 0.9}, {ID: "b", Similarity: 0.8}, {ID: "c", Similarity: 0.7},
	}}
	engine := newEngine(vectors, &fakeGraph{}, &fakeExtractor{})

	resp, err := engine.Search(context.Background(), "q", Options{Limit: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].ID)
	assert.Equal(t, "b", resp.Results[1].ID)
}

func TestScoreIsMonotonic(t *testing.T) {
	engine := newEngine(&fakeVectors{}, &fakeGraph{}, &fakeExtractor{})
	depth := 3

	for d := 1; d <= depth+1; d++ {
		distance := d
		prev := -1.0
		for sim := 0.0; sim <= 1.0; sim += 0.05 {
			score := engine.Score(Signals{Similarity: sim, InVector: true, Distance: &distance}, depth)
			assert.GreaterOrEqual(t, score, prev)
			prev = score

			vectorOnly := engine.Score(Signals{Similarity: sim, InVector: true}, depth)
			graphOnly := engine.Score(Signals{Distance: &distance}, depth)
			assert.GreaterOrEqual(t, score, vectorOnly)
			assert.GreaterOrEqual(t, score, graphOnly)
		}
	}

	near, far := 1, 3
	assert.Greater(t,
		engine.Score(Signals{Distance: &near}, depth),
		engine.Score(Signals{Distance: &far}, depth))
}

func TestNormalizedDistance(t *testing.T) {
	assert.Equal(t, 0.0, normalizedDistance(1, 2))
	assert.InDelta(t, 1.0/3.0, normalizedDistance(2, 2), 1e-9)
	assert.InDelta(t, 2.0/3.0, normalizedDistance(3, 2), 1e-9)
	assert.Equal(t, 1.0, normalizedDistance(9, 2))
	assert.Equal(t, 0.0, normalizedDistance(0, 2))
}

func TestTieBreaking(t *testing.T) {
	results := []models.QueryResult{
		{ID: "c", Score: 0.5, VectorSimilarity: 0.5},
		{ID: "b", Score: 0.5, VectorSimilarity: 0.5},
		{ID: "a", Score: 0.5, VectorSimilarity: 0.2},
		{ID: "d", Score: 0.7},
	}
	Sort(results)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"d", "b", "c", "a"}, ids)
}

func TestRerank(t *testing.T) {
	vectors := &fakeVectors{hits: []models.VectorHit{
		{ID: "generic", Similarity: 0.80, Title: "Logs", Content: "Distributed logs explained."},
		{ID: "specific", Similarity: 0.79, Title: "Apache Kafka", Content: "Kafka by Apache."},
	}}
	engine := newEngine(vectors, &fakeGraph{}, &fakeExtractor{})

	plain, err := engine.Search(context.Background(), "apache kafka", Options{})
	require.NoError(t, err)
	assert.Equal(t, "generic", plain.Results[0].ID)

	reranked, err := engine.Search(context.Background(), "apache kafka", Options{Rerank: true})
	require.NoError(t, err)
	assert.Equal(t, "specific", reranked.Results[0].ID)
	assert.InDelta(t, 0.6*0.79+RerankWeight, reranked.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.6*0.80, reranked.Results[1].Score, 1e-9)
}

func TestDepthIsClamped(t *testing.T) {
	g := &fakeGraph{entities: map[string]models.Entity{"e-kafka": kafka}}
	engine := newEngine(&fakeVectors{}, g, &fakeExtractor{entities: []models.Entity{kafka}})

	_, err := engine.Search(context.Background(), "Kafka", Options{GraphDepth: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, g.nearDepth)
}

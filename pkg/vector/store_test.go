package vector

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
)

type fakeDB struct {
	execs   []string
	args    [][]any
	rows    []searchRow
	docs    []Document
	err     error
	pingErr error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	f.args = append(f.args, args)
	return nil, f.err
}

func (f *fakeDB) GetContext(context.Context, any, string, ...any) error { return f.err }

func (f *fakeDB) SelectContext(_ context.Context, dest any, query string, args ...any) error {
	f.execs = append(f.execs, query)
	f.args = append(f.args, args)
	if f.err != nil {
		return f.err
	}
	switch d := dest.(type) {
	case *[]searchRow:
		*d = f.rows
	case *[]Document:
		*d = f.docs
	}
	return nil
}

func (f *fakeDB) QueryxContext(context.Context, string, ...any) (*sqlx.Rows, error) {
	return nil, f.err
}

func (f *fakeDB) PingContext(context.Context) error { return f.pingErr }
func (f *fakeDB) Close() error                      { return nil }

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, "[]", Literal(nil))
	assert.Equal(t, "[0.5,-1,0.25]", Literal([]float32{0.5, -1, 0.25}))
	assert.Equal(t, "[0.1]", Literal([]float32{0.1}))
}

func TestBuildUpsert(t *testing.T) {
	doc := Document{
		ID:          "https://a.example/kafka",
		Title:       "Kafka",
		Content:     "Kafka is a log.",
		Metadata:    database.NewJSONB(map[string]string{"lang": "en"}),
		ContentHash: "abc",
		Embedding:   []float32{1, 0},
	}
	query, args := buildUpsert(doc, time.Unix(0, 0))

	assert.True(t, strings.HasPrefix(query, "INSERT INTO documents (id, title, content, metadata, content_hash, embedding, created_at, updated_at)"))
	assert.Contains(t, query, "$6::vector")
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title")
	assert.Contains(t, query, "embedding = EXCLUDED.embedding")
	assert.NotContains(t, query, "created_at = EXCLUDED")
	require.Len(t, args, 8)
	assert.Equal(t, "[1,0]", args[5])
}

func TestBuildSearch(t *testing.T) {
	query, args := buildSearch([]float32{0.5, 0.5}, 7)

	assert.Contains(t, query, "1 - (embedding <=> $1::vector) AS similarity")
	assert.Contains(t, query, "WHERE embedding IS NOT NULL")
	assert.Contains(t, query, "ORDER BY embedding <=> $2::vector, id")
	assert.Contains(t, query, "LIMIT $3")
	assert.Equal(t, []any{"[0.5,0.5]", "[0.5,0.5]", 7}, args)
}

func TestUpsertValidatesDimensions(t *testing.T) {
	db := &fakeDB{}
	store := NewStore(db, Config{Dimensions: 3}, silentLogger())

	err := store.Upsert(context.Background(), Document{ID: "d", Embedding: []float32{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = store.Upsert(context.Background(), Document{ID: "d"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = store.Upsert(context.Background(), Document{Embedding: []float32{1, 2, 3}})
	assert.Error(t, err)
	assert.Empty(t, db.execs)

	require.NoError(t, store.Upsert(context.Background(), Document{ID: "d", Embedding: []float32{1, 2, 3}}))
	assert.Len(t, db.execs, 1)
}

func TestUpsertTruncatesContent(t *testing.T) {
	db := &fakeDB{}
	store := NewStore(db, Config{MaxContentSize: 2}, silentLogger())

	require.NoError(t, store.Upsert(context.Background(), Document{ID: "d", Content: "héllo", Embedding: []float32{1}}))
	assert.Equal(t, "h", db.args[0][2])
}

func TestUpsertError(t *testing.T) {
	store := NewStore(&fakeDB{err: errors.New("conn refused")}, Config{}, silentLogger())
	err := store.Upsert(context.Background(), Document{ID: "d", Embedding: []float32{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conn refused")
}

func TestSearch(t *testing.T) {
	db := &fakeDB{rows: []searchRow{
		{ID: "D1", Title: "Kafka", Similarity: 0.9, Metadata: database.NewJSONB(map[string]string{"lang": "en"})},
		{ID: "D2", Similarity: 0.4},
	}}
	store := NewStore(db, Config{Dimensions: 2}, silentLogger())

	hits, err := store.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "D1", hits[0].ID)
	assert.InDelta(t, 0.9, hits[0].Similarity, 1e-9)
	assert.Equal(t, "en", hits[0].Metadata["lang"])

	hits, err = store.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = store.Search(context.Background(), []float32{1}, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestLookupAndContentHash(t *testing.T) {
	db := &fakeDB{docs: []Document{{ID: "D1", ContentHash: "h1"}}}
	store := NewStore(db, Config{}, silentLogger())

	docs, err := store.Lookup(context.Background(), []string{"D1", "D2"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Contains(t, db.execs[0], "WHERE id IN ($1, $2)")

	hash, ok, err := store.ContentHash(context.Background(), "D1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h1", hash)

	empty, err := store.Lookup(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDelete(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewStore(db, Config{}, silentLogger()).Delete(context.Background(), "D1"))
	assert.Equal(t, "DELETE FROM documents WHERE id = $1", db.execs[0])
}

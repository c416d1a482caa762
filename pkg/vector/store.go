// Package vector stores page embeddings in Postgres with pgvector and
// answers nearest-neighbor queries by cosine similarity.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "documents"

// ErrDimensionMismatch is returned when an embedding does not match the
// configured column width.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Document is one stored page.
type Document struct {
	ID          string                            `db:"id"`
	Title       string                            `db:"title"`
	Content     string                            `db:"content"`
	Metadata    database.JSONB[map[string]string] `db:"metadata"`
	ContentHash string                            `db:"content_hash"`
	Embedding   []float32                         `db:"-"`
	UpdatedAt   time.Time                         `db:"updated_at"`
}

type searchRow struct {
	ID         string                            `db:"id"`
	Title      string                            `db:"title"`
	Content    string                            `db:"content"`
	Metadata   database.JSONB[map[string]string] `db:"metadata"`
	Similarity float64                           `db:"similarity"`
}

// Config holds vector store settings.
type Config struct {
	Dimensions     int
	MaxContentSize int
}

// Store reads and writes the documents table.
type Store struct {
	db     database.DB
	config Config
	logger ectologger.Logger
}

// NewStore creates a vector store
func NewStore(db database.DB, config Config, logger ectologger.Logger) *Store {
	return &Store{
		db:     db,
		config: config,
		logger: logger,
	}
}

// Literal renders an embedding in pgvector text form, e.g. [0.1,0.2].
func Literal(embedding []float32) string {
	var b strings.Builder
	b.Grow(len(embedding)*10 + 2)
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (s *Store) checkDimensions(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrDimensionMismatch)
	}
	if s.config.Dimensions > 0 && len(embedding) != s.config.Dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.config.Dimensions)
	}
	return nil
}

func buildUpsert(doc Document, now time.Time) (string, []any) {
	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("id", "title", "content", "metadata", "content_hash", "embedding", "created_at", "updated_at")
	ib.Values(doc.ID, doc.Title, doc.Content, doc.Metadata, doc.ContentHash,
		sqlbuilder.Buildf("%v::vector", Literal(doc.Embedding)), now, now)
	ib.OnConflictSet([]string{"id"}, "title", "content", "metadata", "content_hash", "embedding", "updated_at")
	return ib.Build()
}

// Upsert writes a document and its embedding, replacing any previous
// version with the same ID.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	ctx, span := tracing.StartSpan(ctx, "vector.Store.Upsert")
	defer span.End()

	if doc.ID == "" {
		return errors.New("document id is required")
	}
	if err := s.checkDimensions(doc.Embedding); err != nil {
		return err
	}
	if s.config.MaxContentSize > 0 && len(doc.Content) > s.config.MaxContentSize {
		doc.Content = truncate(doc.Content, s.config.MaxContentSize)
	}
	if doc.Metadata.Data == nil {
		doc.Metadata.Data = map[string]string{}
	}

	query, args := buildUpsert(doc, time.Now().UTC())
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to upsert document %s", doc.ID)
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func buildSearch(embedding []float32, limit int) (string, []any) {
	literal := Literal(embedding)
	sb := database.NewSelectBuilder()
	distance := fmt.Sprintf("embedding <=> %s", sb.Var(sqlbuilder.Buildf("%v::vector", literal)))
	sb.Select("id", "title", "content", "metadata", sb.As("1 - ("+distance+")", "similarity"))
	sb.From(table)
	sb.Where(sb.IsNotNull("embedding"))
	sb.OrderBy(distance, "id")
	sb.Limit(limit)
	return sb.Build()
}

// Search returns the limit nearest documents by cosine similarity,
// most similar first.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]models.VectorHit, error) {
	ctx, span := tracing.StartSpan(ctx, "vector.Store.Search")
	defer span.End()

	if limit <= 0 {
		return []models.VectorHit{}, nil
	}
	if err := s.checkDimensions(embedding); err != nil {
		return nil, err
	}

	query, args := buildSearch(embedding, limit)
	var rows []searchRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	hits := make([]models.VectorHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, models.VectorHit{
			ID:         row.ID,
			Similarity: row.Similarity,
			Title:      row.Title,
			Content:    row.Content,
			Metadata:   row.Metadata.GetValue(),
		})
	}
	return hits, nil
}

// Lookup fetches stored documents by ID without their embeddings. Unknown
// IDs are absent from the result.
func (s *Store) Lookup(ctx context.Context, ids []string) (map[string]Document, error) {
	out := make(map[string]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, span := tracing.StartSpan(ctx, "vector.Store.Lookup")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "title", "content", "metadata", "content_hash", "updated_at")
	sb.From(table)
	sb.Where(sb.In("id", sqlbuilder.List(ids)))

	query, args := sb.Build()
	var docs []Document
	if err := s.db.SelectContext(ctx, &docs, query, args...); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to look up %d documents: %w", len(ids), err)
	}
	for _, doc := range docs {
		out[doc.ID] = doc
	}
	return out, nil
}

// ContentHash returns the stored fingerprint of a document, if present.
func (s *Store) ContentHash(ctx context.Context, id string) (string, bool, error) {
	docs, err := s.Lookup(ctx, []string{id})
	if err != nil {
		return "", false, err
	}
	doc, ok := docs[id]
	return doc.ContentHash, ok, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, id string) error {
	db := database.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

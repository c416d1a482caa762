package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	defaultDepth       = 2
	defaultMaxDepth    = 6
	defaultSearchLimit = 25
	defaultHitLimit    = 200
)

// StoreConfig bounds traversal and lookup sizes.
type StoreConfig struct {
	DefaultDepth int
	MaxDepth     int
	SearchLimit  int
	HitLimit     int
}

// Store persists entities, relationships and document mentions.
type Store struct {
	runner Runner
	config StoreConfig
	logger ectologger.Logger
	now    func() time.Time
}

// NewStore creates a graph store on top of runner
func NewStore(runner Runner, config StoreConfig, logger ectologger.Logger) *Store {
	if config.DefaultDepth <= 0 {
		config.DefaultDepth = defaultDepth
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = defaultMaxDepth
	}
	if config.DefaultDepth > config.MaxDepth {
		config.DefaultDepth = config.MaxDepth
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = defaultSearchLimit
	}
	if config.HitLimit <= 0 {
		config.HitLimit = defaultHitLimit
	}
	return &Store{
		runner: runner,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

var schemaStatements = []string{
	"CREATE INDEX ON :Entity(id)",
	"CREATE INDEX ON :Entity(text_lower)",
	"CREATE INDEX ON :Entity(category)",
	"CREATE INDEX ON :Document(id)",
	"CREATE CONSTRAINT ON (e:Entity) ASSERT e.id IS UNIQUE",
	"CREATE CONSTRAINT ON (d:Document) ASSERT d.id IS UNIQUE",
}

// EnsureIndexes creates the indexes and uniqueness constraints the upserts
// rely on. Memgraph treats repeated index creation as a no-op.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if err := s.runner.Exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}
	return nil
}

const upsertEntitiesCypher = `
UNWIND $batch AS row
MERGE (e:Entity {id: row.id})
ON CREATE SET e.created_at = row.now
SET e.text = row.text,
    e.text_lower = row.text_lower,
    e.category = row.category,
    e.metadata = row.metadata,
    e.confidence = CASE WHEN e.confidence IS NULL OR row.confidence > e.confidence THEN row.confidence ELSE e.confidence END,
    e.updated_at = row.now`

// UpsertEntity creates or updates a single entity node
func (s *Store) UpsertEntity(ctx context.Context, entity models.Entity) error {
	return s.UpsertEntities(ctx, []models.Entity{entity})
}

// UpsertEntities merges entities by ID in one batch. Re-upserting an entity
// keeps the highest confidence seen so far.
func (s *Store) UpsertEntities(ctx context.Context, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "graph.Store.UpsertEntities")
	defer span.End()

	now := s.now().UTC().Format(time.RFC3339)
	batch := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		batch = append(batch, entityProps(e, now))
	}
	if len(batch) == 0 {
		return nil
	}

	err := s.runner.Write(ctx, upsertEntitiesCypher, map[string]any{"batch": batch})
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to upsert %d entities: %w", len(batch), err)
	}
	return nil
}

// Edge types cannot be parameterized, so one statement is rendered per label.
func upsertRelationshipsCypher(label models.RelationshipLabel) string {
	return fmt.Sprintf(`
UNWIND $batch AS row
MATCH (s:Entity {id: row.subject_id})
MATCH (o:Entity {id: row.object_id})
MERGE (s)-[r:%s]->(o)
ON CREATE SET r.created_at = row.now
SET r.id = row.id,
    r.confidence = CASE WHEN r.confidence IS NULL OR row.confidence > r.confidence THEN row.confidence ELSE r.confidence END,
    r.provenance = row.provenance,
    r.source_url = row.source_url,
    r.updated_at = row.now`, sanitizeLabel(string(label)))
}

// UpsertRelationship creates or updates a single relationship edge
func (s *Store) UpsertRelationship(ctx context.Context, rel models.Relationship) error {
	return s.UpsertRelationships(ctx, []models.Relationship{rel})
}

// UpsertRelationships merges edges keyed by (subject, label, object). Both
// endpoint entities must already exist; edges to missing nodes are skipped
// by the MATCH.
func (s *Store) UpsertRelationships(ctx context.Context, rels []models.Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "graph.Store.UpsertRelationships")
	defer span.End()

	now := s.now().UTC().Format(time.RFC3339)
	byLabel := map[models.RelationshipLabel][]map[string]any{}
	for _, r := range rels {
		if _, ok := models.ParseRelationshipLabel(string(r.Label)); !ok {
			s.logger.WithContext(ctx).Warnf("skipping relationship with unknown label %q", r.Label)
			continue
		}
		byLabel[r.Label] = append(byLabel[r.Label], map[string]any{
			"id":         relationshipKey(r),
			"subject_id": r.SubjectID,
			"object_id":  r.ObjectID,
			"confidence": r.Confidence,
			"provenance": r.Provenance,
			"source_url": r.SourceURL,
			"now":        now,
		})
	}

	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, string(l))
	}
	sort.Strings(labels)

	var errs []error
	for _, l := range labels {
		label := models.RelationshipLabel(l)
		batch := byLabel[label]
		if err := s.runner.Write(ctx, upsertRelationshipsCypher(label), map[string]any{"batch": batch}); err != nil {
			errs = append(errs, fmt.Errorf("failed to upsert %d %s relationships: %w", len(batch), label, err))
		}
	}
	err := errors.Join(errs...)
	tracing.RecordError(span, err)
	return err
}

func relationshipKey(r models.Relationship) string {
	return r.SubjectID + "|" + string(r.Label) + "|" + r.ObjectID
}

const upsertDocumentCypher = `
MERGE (d:Document {id: $id})
ON CREATE SET d.created_at = $now
SET d.title = $title, d.updated_at = $now
WITH d
UNWIND $entity_ids AS eid
MATCH (e:Entity {id: eid})
MERGE (d)-[:MENTIONS]->(e)`

const upsertBareDocumentCypher = `
MERGE (d:Document {id: $id})
ON CREATE SET d.created_at = $now
SET d.title = $title, d.updated_at = $now`

// UpsertDocument records a page as a Document node linked to each entity it
// mentions. The page URL is the document ID shared with the vector store.
func (s *Store) UpsertDocument(ctx context.Context, id, title string, entityIDs []string) error {
	if id == "" {
		return errors.New("document id is required")
	}

	ctx, span := tracing.StartSpan(ctx, "graph.Store.UpsertDocument")
	defer span.End()

	params := map[string]any{
		"id":         id,
		"title":      title,
		"now":        s.now().UTC().Format(time.RFC3339),
		"entity_ids": entityIDs,
	}
	cypher := upsertDocumentCypher
	if len(entityIDs) == 0 {
		cypher = upsertBareDocumentCypher
	}

	if err := s.runner.Write(ctx, cypher, params); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to upsert document %s: %w", id, err)
	}
	return nil
}

func (s *Store) depth(requested int) int {
	if requested <= 0 {
		return s.config.DefaultDepth
	}
	if requested > s.config.MaxDepth {
		return s.config.MaxDepth
	}
	return requested
}

package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrEntityNotFound is returned when a lookup names an unknown entity.
var ErrEntityNotFound = errors.New("entity not found")

// Neighborhood is the entity subgraph around a starting entity.
type Neighborhood struct {
	Root          models.Entity         `json:"root"`
	Depth         int                   `json:"depth"`
	Entities      []models.Entity       `json:"entities"`
	Relationships []models.Relationship `json:"relationships"`
}

// Document mention edges are not part of the entity graph.
const entityPathFilter = "ALL(rel IN relationships(p) WHERE type(rel) <> 'MENTIONS')"

// GetEntity fetches a single entity by ID
func (s *Store) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	records, err := s.runner.Read(ctx, "MATCH (e:Entity {id: $id}) RETURN e", map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, ErrEntityNotFound
	}
	node, ok := records[0]["e"].(neo4j.Node)
	if !ok {
		return nil, ErrEntityNotFound
	}
	entity, err := entityFromNode(node)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("entity %s has unreadable metadata", id)
	}
	return &entity, nil
}

// Neighborhood returns every entity within depth relationship hops of
// entityID, together with the relationships on those paths.
func (s *Store) Neighborhood(ctx context.Context, entityID string, depth int) (*Neighborhood, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.Neighborhood")
	defer span.End()

	depth = s.depth(depth)
	cypher := fmt.Sprintf(`
MATCH (start:Entity {id: $id})
OPTIONAL MATCH p = (start)-[*1..%d]-(n:Entity)
WHERE %s
RETURN start, p
LIMIT $limit`, depth, entityPathFilter)

	records, err := s.runner.Read(ctx, cypher, map[string]any{"id": entityID, "limit": s.config.HitLimit})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to load neighborhood of %s: %w", entityID, err)
	}
	if len(records) == 0 {
		return nil, ErrEntityNotFound
	}

	result, err := decodeNeighborhood(records)
	if err != nil {
		return nil, err
	}
	result.Depth = depth
	return result, nil
}

func decodeNeighborhood(records []Record) (*Neighborhood, error) {
	root, ok := records[0]["start"].(neo4j.Node)
	if !ok {
		return nil, ErrEntityNotFound
	}
	rootEntity, _ := entityFromNode(root)

	result := &Neighborhood{
		Root:          rootEntity,
		Entities:      []models.Entity{},
		Relationships: []models.Relationship{},
	}
	seenEntities := map[string]bool{rootEntity.ID: true}
	seenRels := map[string]bool{}

	for _, rec := range records {
		path, ok := rec["p"].(neo4j.Path)
		if !ok {
			continue
		}

		ids := make(map[string]string, len(path.Nodes))
		for _, node := range path.Nodes {
			entity, _ := entityFromNode(node)
			ids[node.ElementId] = entity.ID
			if !seenEntities[entity.ID] {
				seenEntities[entity.ID] = true
				result.Entities = append(result.Entities, entity)
			}
		}

		for _, rel := range path.Relationships {
			r := models.Relationship{
				SubjectID:  ids[rel.StartElementId],
				Label:      models.RelationshipLabel(rel.Type),
				ObjectID:   ids[rel.EndElementId],
				Confidence: floatProp(rel.Props, "confidence"),
				Provenance: stringProp(rel.Props, "provenance"),
				SourceURL:  stringProp(rel.Props, "source_url"),
			}
			key := relationshipKey(r)
			if seenRels[key] {
				continue
			}
			seenRels[key] = true
			result.Relationships = append(result.Relationships, r)
		}
	}

	sort.Slice(result.Entities, func(i, j int) bool { return result.Entities[i].ID < result.Entities[j].ID })
	sort.Slice(result.Relationships, func(i, j int) bool {
		return relationshipKey(result.Relationships[i]) < relationshipKey(result.Relationships[j])
	})
	return result, nil
}

const searchEntitiesCypher = `
MATCH (e:Entity)
WHERE e.text_lower CONTAINS $q
   OR (size(e.text_lower) >= 3 AND $q CONTAINS e.text_lower)
RETURN e
ORDER BY CASE WHEN e.text_lower = $q THEN 0 ELSE 1 END, size(e.text_lower) DESC, e.id
LIMIT $limit`

// SearchEntities finds entities whose text contains the query, or which
// appear inside the query, ignoring case. Exact matches rank first.
func (s *Store) SearchEntities(ctx context.Context, text string, limit int) ([]models.Entity, error) {
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return []models.Entity{}, nil
	}
	if limit <= 0 || limit > s.config.SearchLimit {
		limit = s.config.SearchLimit
	}

	ctx, span := tracing.StartSpan(ctx, "graph.Store.SearchEntities")
	defer span.End()

	records, err := s.runner.Read(ctx, searchEntitiesCypher, map[string]any{"q": q, "limit": limit})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}

	entities := make([]models.Entity, 0, len(records))
	for _, rec := range records {
		node, ok := rec["e"].(neo4j.Node)
		if !ok {
			continue
		}
		entity, _ := entityFromNode(node)
		entities = append(entities, entity)
	}
	return entities, nil
}

// DocumentsNear returns documents that mention the given entities or any
// entity within depth relationship hops of them. Distance is 1 for a direct
// mention plus one per relationship hop; the minimum over all paths wins.
// Each branch keeps its HitLimit closest documents.
func (s *Store) DocumentsNear(ctx context.Context, entityIDs []string, depth int) ([]models.DocumentHit, error) {
	if len(entityIDs) == 0 {
		return []models.DocumentHit{}, nil
	}

	ctx, span := tracing.StartSpan(ctx, "graph.Store.DocumentsNear")
	defer span.End()

	depth = s.depth(depth)
	cypher := fmt.Sprintf(`
UNWIND $ids AS qid
MATCH (q:Entity {id: qid})<-[:MENTIONS]-(d:Document)
WITH DISTINCT d
RETURN d.id AS id, d.title AS title, 1 AS distance
ORDER BY id
LIMIT $limit
UNION ALL
UNWIND $ids AS qid
MATCH p = (q:Entity {id: qid})-[*1..%d]-(e:Entity)
WHERE %s
MATCH (e)<-[:MENTIONS]-(d:Document)
WITH d, min(size(relationships(p))) + 1 AS distance
RETURN d.id AS id, d.title AS title, distance
ORDER BY distance, id
LIMIT $limit`, depth, entityPathFilter)

	records, err := s.runner.Read(ctx, cypher, map[string]any{"ids": entityIDs, "limit": s.config.HitLimit})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to find documents near %d entities: %w", len(entityIDs), err)
	}
	return decodeDocumentHits(records), nil
}

func decodeDocumentHits(records []Record) []models.DocumentHit {
	best := map[string]models.DocumentHit{}
	for _, rec := range records {
		id, _ := rec["id"].(string)
		if id == "" {
			continue
		}
		distance, ok := intValue(rec["distance"])
		if !ok || distance < 1 {
			continue
		}
		title, _ := rec["title"].(string)

		current, seen := best[id]
		if !seen || distance < current.Distance {
			best[id] = models.DocumentHit{ID: id, Title: title, Distance: distance}
		}
	}

	hits := make([]models.DocumentHit, 0, len(best))
	for _, hit := range best {
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

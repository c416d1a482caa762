package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
)

// encodeMetadata flattens a metadata mapping into the JSON string stored on
// the node. Property stores reject nested maps, so this is the only form
// metadata ever takes inside the graph.
func encodeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return "{}"
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// decodeMetadata reverses encodeMetadata. Values written by other tools may
// be a JSON object with non-string values or a native map; both are coerced.
func decodeMetadata(value any) (map[string]string, error) {
	out := map[string]string{}
	switch v := value.(type) {
	case nil:
		return out, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return out, nil
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return out, fmt.Errorf("invalid metadata property: %w", err)
		}
		return stringify(raw), nil
	case map[string]any:
		return stringify(v), nil
	default:
		return out, fmt.Errorf("unsupported metadata property type %T", value)
	}
}

func stringify(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		switch s := val.(type) {
		case string:
			out[k] = s
		case nil:
		default:
			b, _ := json.Marshal(s)
			out[k] = string(b)
		}
	}
	return out
}

func entityProps(e models.Entity, now string) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"text":       e.Text,
		"text_lower": strings.ToLower(e.Text),
		"category":   string(e.Category),
		"confidence": e.Confidence,
		"metadata":   encodeMetadata(e.Metadata),
		"now":        now,
	}
}

// entityFromNode maps a stored node back to an Entity. Offsets are
// per-mention and not stored on the shared node.
func entityFromNode(node neo4j.Node) (models.Entity, error) {
	meta, err := decodeMetadata(node.Props["metadata"])
	return models.Entity{
		ID:         stringProp(node.Props, "id"),
		Text:       stringProp(node.Props, "text"),
		Category:   models.EntityCategory(stringProp(node.Props, "category")),
		Confidence: floatProp(node.Props, "confidence"),
		Metadata:   meta,
	}, err
}

func stringProp(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func intValue(value any) (int, bool) {
	switch v := value.(type) {
	case int64:
		return int(v), true
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// sanitizeLabel ensures the label is safe for Cypher
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return string(models.LabelRelatedTo)
	}
	return b.String()
}

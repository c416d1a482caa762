package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Namespaces for deterministic (v5) identifiers. Never change these.
var (
	entityIDNamespace       = uuid.MustParse("5f0c6a2e-8f3b-4c1d-9a7e-2b4d6c8e0f13")
	relationshipIDNamespace = uuid.MustParse("c3e1b7d9-4a2f-4e6b-8d0c-7f9a1b3c5e27")
)

// EntityID derives the stable identifier of an entity from its normalized
// text and category. It is a pure function: the same name in the same
// category always yields the same id, across pages and runs.
func EntityID(text string, category models.EntityCategory) string {
	key := normalizers.EntityKey(text) + "|" + strings.ToLower(string(category))
	return uuid.NewSHA1(entityIDNamespace, []byte(key)).String()
}

// RelationshipID derives the edge key for (subject, label, object).
func RelationshipID(subjectID string, label models.RelationshipLabel, objectID string) string {
	return uuid.NewSHA1(relationshipIDNamespace, []byte(fmt.Sprintf("%s|%s|%s", subjectID, label, objectID))).String()
}

// Generate creates a deterministic fingerprint for structured data.
// The fingerprint is a SHA256 hash of the canonicalized JSON.
func Generate(data map[string]any) string {
	hash := sha256.Sum256([]byte(canonicalize(data)))
	return hex.EncodeToString(hash[:])
}

// Page fingerprints a page's content so unchanged pages can be recognized
// when they are re-crawled.
func Page(page models.Page) string {
	meta := make(map[string]any, len(page.Metadata))
	for k, v := range page.Metadata {
		meta[k] = v
	}
	return Generate(map[string]any{
		"source_url": page.SourceURL,
		"text":       page.Text,
		"metadata":   meta,
	})
}

// canonicalize creates a deterministic string representation by sorting map
// keys and recursing into nested structures.
func canonicalize(data any) string {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			keyJSON, _ := json.Marshal(k)
			b.Write(keyJSON)
			b.WriteString(":")
			b.WriteString(canonicalize(v[k]))
		}
		b.WriteString("}")
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteString("[")
		for i, item := range v {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(canonicalize(item))
		}
		b.WriteString("]")
		return b.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// HasChanged compares two fingerprints to detect changes
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

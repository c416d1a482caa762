package relationships

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// triple is one relationship as proposed by the model. Confidence is kept
// raw because models emit numbers and numeric strings interchangeably.
type triple struct {
	Subject    string          `json:"subject"`
	SubjectAlt string          `json:"subject_text"`
	Label      string          `json:"label"`
	Relation   string          `json:"relation"`
	Object     string          `json:"object"`
	ObjectAlt  string          `json:"object_text"`
	Confidence json.RawMessage `json:"confidence"`
	Evidence   string          `json:"evidence"`
}

func (t triple) subject() string { return firstNonEmpty(t.Subject, t.SubjectAlt) }
func (t triple) object() string  { return firstNonEmpty(t.Object, t.ObjectAlt) }
func (t triple) label() string   { return firstNonEmpty(t.Label, t.Relation) }

// confidence returns the reported confidence, or false when missing or
// outside [0, 1].
func (t triple) confidence() (float64, bool) {
	raw := bytes.TrimSpace(t.Confidence)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	}
	if f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}

// parseTriples returns the triples of the first valid JSON array of objects
// in output. Prose and code fences around the array are ignored. ok is false
// when no such array exists.
func parseTriples(output string) ([]triple, bool) {
	data := []byte(output)
	for offset := 0; offset < len(data); {
		i := bytes.IndexByte(data[offset:], '[')
		if i < 0 {
			return nil, false
		}
		start := offset + i

		var items []json.RawMessage
		dec := json.NewDecoder(bytes.NewReader(data[start:]))
		if err := dec.Decode(&items); err == nil {
			if triples, ok := decodeObjects(items); ok {
				return triples, true
			}
		}
		offset = start + 1
	}
	return nil, false
}

func decodeObjects(items []json.RawMessage) ([]triple, bool) {
	triples := make([]triple, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, false
		}
		var t triple
		if err := json.Unmarshal(item, &t); err != nil {
			return nil, false
		}
		triples = append(triples, t)
	}
	return triples, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package search

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// rerank adds up to RerankWeight to each score by the share of query terms
// that appear in the result's title or content. Callers re-sort afterwards.
func rerank(results []models.QueryResult, query string) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return
	}
	for i := range results {
		text := payloadText(results[i].Payload)
		if text == "" {
			continue
		}
		words := make(map[string]bool)
		for _, w := range normalizers.Terms(text) {
			words[w] = true
		}
		matched := 0
		for _, term := range terms {
			if words[term] {
				matched++
			}
		}
		results[i].Score += RerankWeight * float64(matched) / float64(len(terms))
	}
}

func queryTerms(query string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, w := range normalizers.Terms(query) {
		if len([]rune(w)) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

func payloadText(payload map[string]any) string {
	var parts []string
	for _, key := range []string{"title", "content"} {
		if v, ok := payload[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

package models

// ResultSource tags which retrieval branch produced a result.
type ResultSource string

const (
	SourceVector ResultSource = "vector"
	SourceGraph  ResultSource = "graph"
	SourceBoth   ResultSource = "both"
)

// QueryResult is one ranked hit of a hybrid query. It is never persisted.
type QueryResult struct {
	ID               string         `json:"id"`
	Score            float64        `json:"score"`
	Source           ResultSource   `json:"source"`
	VectorSimilarity float64        `json:"vector_similarity"`
	GraphDistance    *int           `json:"graph_distance,omitempty"`
	Payload          map[string]any `json:"payload"`
}

// SearchRequest is the inbound query body.
type SearchRequest struct {
	Query       string `json:"query" validate:"required"`
	VectorLimit int    `json:"vector_limit,omitempty" validate:"omitempty,min=1,max=100"`
	GraphDepth  int    `json:"graph_depth,omitempty" validate:"omitempty,min=1,max=6"`
	Rerank      bool   `json:"rerank,omitempty"`
	Limit       int    `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

// SearchResponse is the query reply. Degraded is set when a retrieval branch
// failed and the results come from the surviving branch only.
type SearchResponse struct {
	Results  []QueryResult `json:"results"`
	Degraded bool          `json:"degraded"`
}

// DocumentHit is a document reached by graph traversal with its hop count.
type DocumentHit struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Distance int    `json:"distance"`
}

// VectorHit is a nearest-neighbor match from the vector store.
type VectorHit struct {
	ID         string            `json:"id"`
	Similarity float64           `json:"similarity"`
	Title      string            `json:"title,omitempty"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

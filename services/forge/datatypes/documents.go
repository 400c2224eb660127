package datatypes

import "time"

// DocumentationChunk is one stored row of framework_documentation. Rows are
// created by ingestion and never mutated by the pipeline.
type DocumentationChunk struct {
	ID        int64             `json:"id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding,omitempty"`
	Source    string            `json:"source"`
	Framework string            `json:"framework"`
	Section   string            `json:"section,omitempty"`
	Version   string            `json:"version,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// DocumentationResult is an in-flight retrieval hit.
//
// Score is in [0,1]: cosine similarity straight out of the vector search,
// replaced by sigmoid(cross-encoder) after re-ranking.
type DocumentationResult struct {
	Content   string            `json:"content"`
	Score     float64           `json:"score"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Source    string            `json:"source"`
	Framework string            `json:"framework"`
}

// CachedResponse is a semantic-cache row.
type CachedResponse struct {
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CachedAt   time.Time `json:"cached_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

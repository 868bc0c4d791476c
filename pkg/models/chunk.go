package models

// Chunk is one indexed slice of an article's text.
type Chunk struct {
	ID         string    `json:"id"` // "<document id>_<index>"
	DocumentID string    `json:"article_id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// ChunkHit is a chunk returned by nearest-neighbour search. Distance is the
// cosine distance in [0, 2].
type ChunkHit struct {
	Chunk
	Distance float64
}

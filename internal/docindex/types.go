package docindex

import "time"

// VectorDimension is the embedding dimensionality of the documents table.
// Must match the configured embedder's output; text-embedding-004 emits 768.
const VectorDimension = 768

// Document represents one indexed content chunk.
type Document struct {
	ID        string            // unique identifier (e.g. blog slug, "profile")
	Content   string            // chunk text
	Metadata  map[string]string // opaque metadata bag (source type, title, ...)
	CreatedAt time.Time
}

// Result is a single search hit with its similarity score.
type Result struct {
	Document   Document
	Similarity float32 // cosine similarity, higher is closer
}

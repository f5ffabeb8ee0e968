// Package docindex stores site content chunks with vector embeddings and
// serves nearest-neighbor similarity search over PostgreSQL + pgvector.
//
// Embeddings are produced by a Genkit [ai.Embedder]; the store owns only
// the orchestration of embed-then-upsert and embed-then-search. Results
// come back ranked by descending cosine similarity, truncated to the
// requested count.
//
// Store is safe for concurrent use by multiple goroutines.
package docindex

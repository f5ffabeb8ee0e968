package docindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds vector search queries so a slow index cannot hold a
// chat request hostage.
const searchTimeout = 10 * time.Second

// UpsertDocumentParams are the arguments for Querier.UpsertDocument.
type UpsertDocumentParams struct {
	ID        string
	Content   string
	Metadata  []byte
	Embedding *pgvector.Vector
	CreatedAt pgtype.Timestamptz
}

// SearchDocumentsParams are the arguments for Querier.SearchDocuments.
type SearchDocumentsParams struct {
	QueryEmbedding *pgvector.Vector
	ResultLimit    int32
}

// SearchRow is one row of a similarity search.
type SearchRow struct {
	ID         string
	Content    string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	Similarity float32
}

// Querier defines the database operations the Store depends on.
// Defined by the consumer so tests can supply mocks; production uses the
// pgx implementation from NewQuerier.
type Querier interface {
	// UpsertDocument inserts or updates a document.
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error

	// SearchDocuments performs vector similarity search, ranked by
	// descending similarity.
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchRow, error)

	// CountDocuments counts all documents.
	CountDocuments(ctx context.Context) (int64, error)

	// DeleteDocument deletes a document by ID.
	DeleteDocument(ctx context.Context, id string) error
}

// Store manages content chunks with vector search capabilities.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: querier, embedder: embedder, logger: logger}
}

// Add upserts a document, embedding its content first.
func (s *Store) Add(ctx context.Context, doc Document) error {
	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
	}

	vec := pgvector.NewVector(embedding)
	if err := s.queries.UpsertDocument(ctx, UpsertDocumentParams{
		ID:        doc.ID,
		Content:   doc.Content,
		Metadata:  metadataJSON,
		Embedding: &vec,
		CreatedAt: pgtype.Timestamptz{Time: doc.CreatedAt, Valid: !doc.CreatedAt.IsZero()},
	}); err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("indexed document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search returns the topK documents most similar to query, ranked by
// descending cosine similarity.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.queries.SearchDocuments(queryCtx, SearchDocumentsParams{
		QueryEmbedding: &vec,
		ResultLimit:    int32(topK), // #nosec G115 -- topK validated above and bounded by config
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return s.rowsToResults(rows), nil
}

// Count returns the number of indexed documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	count, err := s.queries.CountDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return int(count), nil
}

// Delete removes a document from the index.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if err := s.queries.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// embed runs the configured embedder over a single text.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// rowsToResults converts search rows to the business model.
func (s *Store) rowsToResults(rows []SearchRow) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			s.logger.Warn("failed to parse metadata", "document_id", row.ID, "error", err)
			metadata = make(map[string]string)
		}

		var createdAt time.Time
		if row.CreatedAt.Valid {
			createdAt = row.CreatedAt.Time
		}

		results = append(results, Result{
			Document: Document{
				ID:        row.ID,
				Content:   row.Content,
				Metadata:  metadata,
				CreatedAt: createdAt,
			},
			Similarity: row.Similarity,
		})
	}
	return results
}

// DBTX is the subset of pgxpool.Pool used by the pgx Querier.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQuerier is the PostgreSQL implementation of Querier.
type pgQuerier struct {
	db DBTX
}

// NewQuerier creates the pgx-backed Querier used in production.
func NewQuerier(db DBTX) Querier {
	return &pgQuerier{db: db}
}

const upsertDocumentSQL = `
INSERT INTO documents (id, content, metadata, embedding, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()))
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
    metadata = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding`

func (q *pgQuerier) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	var createdAt any
	if arg.CreatedAt.Valid {
		createdAt = arg.CreatedAt
	}
	_, err := q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.Content, arg.Metadata, arg.Embedding, createdAt)
	return err
}

const searchDocumentsSQL = `
SELECT id, content, metadata, created_at,
       1 - (embedding <=> $1) AS similarity
FROM documents
ORDER BY embedding <=> $1
LIMIT $2`

func (q *pgQuerier) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL, arg.QueryEmbedding, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

const countDocumentsSQL = `SELECT COUNT(*) FROM documents`

func (q *pgQuerier) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countDocumentsSQL).Scan(&count)
	return count, err
}

const deleteDocumentSQL = `DELETE FROM documents WHERE id = $1`

func (q *pgQuerier) DeleteDocument(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, deleteDocumentSQL, id)
	return err
}

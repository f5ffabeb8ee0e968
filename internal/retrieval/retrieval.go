// Package retrieval assembles supplemental context for answer generation.
//
// The orchestrator wraps the document index and turns a visitor's question
// into a single context block. Retrieval is best effort: any failure in
// embedding or search degrades to an empty block so the conversation keeps
// flowing without site-specific grounding.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dmaulana/folio/internal/docindex"
)

// Separator delimits retrieved fragments inside the assembled context block.
const Separator = "\n---\n"

// Searcher is the slice of the document index used by the orchestrator.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]docindex.Result, error)
}

// Orchestrator fetches relevant site content for a chat turn.
type Orchestrator struct {
	searcher Searcher
	topK     int
	logger   *slog.Logger
}

// New creates an Orchestrator. A nil logger falls back to slog.Default().
func New(searcher Searcher, topK int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{searcher: searcher, topK: topK, logger: logger}
}

// Retrieve returns the retrieved context block for query, or an empty string
// when nothing relevant was found or the search failed. Errors are logged,
// never returned: a degraded answer beats no answer.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) string {
	if o.searcher == nil {
		return ""
	}

	results, err := o.searcher.Search(ctx, query, o.topK)
	if err != nil {
		o.logger.Warn("context retrieval failed, continuing without it", "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	fragments := make([]string, 0, len(results))
	for _, result := range results {
		content := strings.TrimSpace(result.Document.Content)
		if content == "" {
			continue
		}
		fragments = append(fragments, content)
	}
	if len(fragments) == 0 {
		return ""
	}

	o.logger.Debug("retrieved context", "fragments", len(fragments), "query_length", len(query))
	return strings.Join(fragments, Separator)
}

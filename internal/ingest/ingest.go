// Package ingest loads the site's content into the document index.
//
// Two sources feed the index: blog posts written as markdown with YAML front
// matter, and a profile JSON file describing the site owner. Both end up as
// embedded documents the retrieval layer can search.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dmaulana/folio/internal/docindex"
)

// maxDocumentBytes bounds document content so it fits within the embedding
// model's token limit. Larger files are skipped rather than silently
// truncated, which would make the tail unretrievable.
const maxDocumentBytes = 8 * 1024

// Store is the slice of the document index the ingester needs.
type Store interface {
	Add(ctx context.Context, doc docindex.Document) error
}

// Result summarizes an ingestion run.
type Result struct {
	Added    int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Ingester loads site content into the document index.
type Ingester struct {
	store  Store
	logger *slog.Logger
}

// New creates an Ingester. A nil logger falls back to slog.Default().
func New(store Store, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, logger: logger}
}

// Run ingests the blog directory and profile file. Either path may be empty
// to skip that source. Individual document failures are counted, not fatal.
func (in *Ingester) Run(ctx context.Context, blogDir, profilePath string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	if blogDir != "" {
		if err := in.ingestBlogDir(ctx, blogDir, result); err != nil {
			return nil, err
		}
	}
	if profilePath != "" {
		if err := in.ingestProfile(ctx, profilePath); err != nil {
			result.Failed++
			in.logger.Warn("ingesting profile failed", "path", profilePath, "error", err)
		} else {
			result.Added++
		}
	}

	result.Duration = time.Since(start)
	in.logger.Info("ingestion complete",
		"added", result.Added,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

// ingestBlogDir indexes every markdown post in dir. The document ID is the
// file name without extension, so re-running ingestion updates posts in
// place.
func (in *Ingester) ingestBlogDir(ctx context.Context, dir string, result *Result) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading blog directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".md" && ext != ".mdx" {
			result.Skipped++
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- paths come from the configured content directory
		if err != nil {
			result.Failed++
			in.logger.Warn("reading blog post failed", "file", name, "error", err)
			continue
		}
		if len(raw) > maxDocumentBytes {
			result.Skipped++
			in.logger.Warn("blog post exceeds embedding size limit, skipping", "file", name, "bytes", len(raw))
			continue
		}

		title, body := splitFrontMatter(string(raw))
		if title == "" {
			title = strings.TrimSuffix(name, ext)
		}

		doc := docindex.Document{
			ID:      strings.TrimSuffix(name, ext),
			Content: title + "\n" + body,
			Metadata: map[string]string{
				"type":  "blog",
				"title": title,
			},
			CreatedAt: time.Now(),
		}
		if err := in.store.Add(ctx, doc); err != nil {
			result.Failed++
			in.logger.Warn("indexing blog post failed", "file", name, "error", err)
			continue
		}
		result.Added++
	}
	return nil
}

// ingestProfile flattens the profile JSON into a single searchable document
// with the fixed ID "profile".
func (in *Ingester) ingestProfile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		return fmt.Errorf("reading profile: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing profile JSON: %w", err)
	}

	text := flattenJSON(data)
	if text == "" {
		return fmt.Errorf("profile %q contains no usable fields", path)
	}

	return in.store.Add(ctx, docindex.Document{
		ID:        "profile",
		Content:   text,
		Metadata:  map[string]string{"type": "profile"},
		CreatedAt: time.Now(),
	})
}

// splitFrontMatter separates a YAML front matter block from the body and
// extracts the title field. Only the title is needed; a full YAML parser
// would be overkill for one scalar.
func splitFrontMatter(raw string) (title, body string) {
	const fence = "---"

	body = raw
	if !strings.HasPrefix(raw, fence+"\n") {
		return "", strings.TrimSpace(body)
	}

	rest := raw[len(fence)+1:]
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return "", strings.TrimSpace(body)
	}

	front := rest[:end]
	body = rest[end+len(fence)+1:]
	if nl := strings.Index(body, "\n"); nl >= 0 && strings.TrimSpace(body[:nl]) == "" {
		body = body[nl+1:]
	}

	for _, line := range strings.Split(front, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "title" {
			continue
		}
		title = strings.TrimSpace(value)
		title = strings.Trim(title, `"'`)
		break
	}
	return title, strings.TrimSpace(body)
}

// flattenJSON renders nested JSON as "key: value" lines with dotted paths,
// sorted for deterministic output.
func flattenJSON(data map[string]any) string {
	var lines []string
	flattenInto("", data, &lines)
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func flattenInto(prefix string, value any, lines *[]string) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			flattenInto(path, child, lines)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		*lines = append(*lines, fmt.Sprintf("%s: %s", prefix, strings.Join(parts, ", ")))
	case nil:
	default:
		*lines = append(*lines, fmt.Sprintf("%s: %v", prefix, v))
	}
}

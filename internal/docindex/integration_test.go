package docindex_test

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/dmaulana/folio/internal/docindex"
	"github.com/dmaulana/folio/internal/log"
	"github.com/dmaulana/folio/internal/testutil"
)

// Round-trip against a real pgvector-enabled Postgres. Skipped in short
// mode and when Docker is unavailable.
func TestStoreIntegrationAddAndSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	container, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	g := genkit.Init(ctx)
	embedder := testutil.NewMockEmbedder(docindex.VectorDimension).RegisterEmbedder(g)

	store := docindex.New(docindex.NewQuerier(container.Pool), embedder, log.NewNop())

	docs := []docindex.Document{
		{ID: "blog-go", Content: "Notes on writing Go services", Metadata: map[string]string{"type": "blog", "title": "Go services"}},
		{ID: "blog-sql", Content: "Schema migrations without downtime", Metadata: map[string]string{"type": "blog", "title": "Migrations"}},
		{ID: "profile", Content: "Software engineer based in Jakarta", Metadata: map[string]string{"type": "profile"}},
	}
	for _, doc := range docs {
		if err := store.Add(ctx, doc); err != nil {
			t.Fatalf("Add %q: %v", doc.ID, err)
		}
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("Count = %d, want 3", count)
	}

	// The mock embedder is deterministic, so a query identical to a stored
	// document lands exactly on its vector.
	results, err := store.Search(ctx, "Notes on writing Go services", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search returned %d results, want 2", len(results))
	}
	if results[0].Document.ID != "blog-go" {
		t.Errorf("top result = %q, want blog-go", results[0].Document.ID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Errorf("results out of order: %f < %f", results[0].Similarity, results[1].Similarity)
	}
	if results[0].Document.Metadata["title"] != "Go services" {
		t.Errorf("metadata round-trip failed: %+v", results[0].Document.Metadata)
	}
}

func TestStoreIntegrationAddReplaces(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	container, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	g := genkit.Init(ctx)
	embedder := testutil.NewMockEmbedder(docindex.VectorDimension).RegisterEmbedder(g)

	store := docindex.New(docindex.NewQuerier(container.Pool), embedder, log.NewNop())

	doc := docindex.Document{ID: "profile", Content: "old content", Metadata: map[string]string{"type": "profile"}}
	if err := store.Add(ctx, doc); err != nil {
		t.Fatalf("Add: %v", err)
	}

	doc.Content = "updated content"
	if err := store.Add(ctx, doc); err != nil {
		t.Fatalf("re-Add: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("Count = %d, want 1 after same-id re-add", count)
	}

	results, err := store.Search(ctx, "updated content", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Document.Content != "updated content" {
		t.Fatalf("Search after replace = %+v", results)
	}
}

func TestStoreIntegrationDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	container, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	g := genkit.Init(ctx)
	embedder := testutil.NewMockEmbedder(docindex.VectorDimension).RegisterEmbedder(g)

	store := docindex.New(docindex.NewQuerier(container.Pool), embedder, log.NewNop())

	if err := store.Add(ctx, docindex.Document{ID: "gone-soon", Content: "temporary"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Delete(ctx, "gone-soon"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("Count = %d after Delete, want 0", count)
	}

	// Deleting an unknown id is a no-op.
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete unknown id: %v", err)
	}
}

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmaulana/folio/internal/app"
	"github.com/dmaulana/folio/internal/config"
)

var (
	ingestBlogDir string
	ingestProfile string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index site content into the document store",
	Long: `Index portfolio content for retrieval.

Blog posts (.md/.mdx files with front matter) and the profile JSON are
embedded and stored in PostgreSQL with pgvector. Re-running ingest
replaces existing documents in place, so it is safe to run after every
content change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest()
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestBlogDir, "blog-dir", "", "directory containing blog posts")
	ingestCmd.Flags().StringVar(&ingestProfile, "profile", "", "path to the profile JSON file")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest() error {
	if ingestBlogDir == "" && ingestProfile == "" {
		return fmt.Errorf("nothing to ingest: pass --blog-dir and/or --profile")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	result, err := a.Ingester.Run(ctx, ingestBlogDir, ingestProfile)
	if err != nil {
		return fmt.Errorf("ingesting content: %w", err)
	}

	fmt.Printf("Ingest complete in %s\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("  Added:   %d\n", result.Added)
	fmt.Printf("  Skipped: %d\n", result.Skipped)
	fmt.Printf("  Failed:  %d\n", result.Failed)

	if result.Failed > 0 {
		return fmt.Errorf("%d document(s) failed to ingest", result.Failed)
	}
	return nil
}

// Package cmd implements the folio command line interface.
//
// Following the pattern used by kubectl, hugo, and other standard Go CLI
// tools, all application logic is contained in the cmd package, leaving
// main.go as a minimal entry point.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmaulana/folio/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var logJSON bool

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Folio - conversational assistant for a personal portfolio site",
	Long: `Folio serves the chat assistant embedded in a personal portfolio site.

It answers visitor questions about the site owner using the site's own
content: blog posts and profile data are indexed into PostgreSQL with
pgvector, retrieved per message, and folded into the assistant's prompt.

Run "folio serve" to start the HTTP API, or "folio ingest" to index
site content.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
}

// newLogger builds the process logger. Debug level is enabled via the
// DEBUG environment variable. Logs go to stderr so stdout stays clean
// for command output.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: logJSON})
}

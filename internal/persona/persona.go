// Package persona builds the system instructions for answer generation.
//
// The base persona text lives in an external file so the site owner can
// edit voice and boundaries without recompiling. A built-in fallback keeps
// the assistant usable when the file is missing.
package persona

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// fallbackPersona is used when no persona file is configured or readable.
const fallbackPersona = `You are the conversational assistant on a personal portfolio website.
Answer questions about the site owner's background, projects, and writing.
Stay in character as the site's assistant. Be concise and friendly.
If you do not know something about the owner, say so instead of guessing.
Politely decline requests unrelated to the site owner or their work.`

// contextHeader introduces the retrieved site content inside the final
// system prompt. The model treats everything after it as grounding material,
// not as instructions.
const contextHeader = "Here is some relevant content from the site that may help you answer:"

// Builder assembles the per-turn system prompt from the base persona and
// retrieved context. Safe for concurrent use.
type Builder struct {
	path   string
	logger *slog.Logger

	once sync.Once
	base string
}

// NewBuilder creates a Builder that reads the persona from path on first
// use. An empty path selects the built-in fallback. A nil logger falls back
// to slog.Default().
func NewBuilder(path string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{path: path, logger: logger}
}

// Build returns the system prompt for one turn. When retrieved is non-empty
// it is appended under a header that frames it as reference material.
func (b *Builder) Build(retrieved string) string {
	base := b.load()

	retrieved = strings.TrimSpace(retrieved)
	if retrieved == "" {
		return base
	}

	var sb strings.Builder
	sb.Grow(len(base) + len(contextHeader) + len(retrieved) + 4)
	sb.WriteString(base)
	sb.WriteString("\n\n")
	sb.WriteString(contextHeader)
	sb.WriteString("\n")
	sb.WriteString(retrieved)
	return sb.String()
}

// load reads the persona file once and caches the result for the lifetime
// of the Builder.
func (b *Builder) load() string {
	b.once.Do(func() {
		b.base = fallbackPersona
		if b.path == "" {
			return
		}
		data, err := os.ReadFile(b.path)
		if err != nil {
			b.logger.Warn("persona file unreadable, using built-in persona",
				"path", b.path, "error", err)
			return
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			b.logger.Warn("persona file is empty, using built-in persona", "path", b.path)
			return
		}
		b.base = text
	})
	return b.base
}

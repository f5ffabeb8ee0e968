// Package chat is the conversational core of the portfolio assistant.
//
// Service coordinates one visitor turn end to end: validate input, load the
// session, retrieve site context, build the persona prompt, stream the model
// response, then persist the completed exchange. Session writes happen only
// after generation finishes, so an aborted stream leaves history untouched.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/dmaulana/folio/internal/session"
)

const (
	// fallbackResponseMessage is returned when the model produces an empty
	// response.
	fallbackResponseMessage = "I'm sorry, I couldn't come up with an answer to that. Could you try rephrasing?"
)

// Sentinel errors. ErrEmptyMessage and ErrEmptySessionID are client errors
// detected before any session or model work happens.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrEmptySessionID = errors.New("session id is empty")

	// ErrPersist indicates the response was generated and delivered but the
	// exchange could not be saved.
	ErrPersist = errors.New("saving conversation failed")
)

// StreamCallback receives each response fragment as the model produces it.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, fragment string) error

// SessionStore is the slice of the session layer the service depends on.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*session.Session, error)
	Upsert(ctx context.Context, sess *session.Session) error
	Clear(ctx context.Context, sessionID string) error
}

// ContextRetriever supplies site content relevant to a visitor question.
// Implementations degrade to an empty string on failure.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) string
}

// PersonaBuilder assembles the system prompt for one turn.
type PersonaBuilder interface {
	Build(retrieved string) string
}

// Config contains all required parameters for the chat Service.
type Config struct {
	Genkit    *genkit.Genkit
	Sessions  SessionStore
	Retriever ContextRetriever
	Persona   PersonaBuilder
	Logger    *slog.Logger

	// ModelName is the provider-qualified model name
	// (e.g., "googleai/gemini-2.5-flash", "ollama/llama3.3").
	ModelName string

	// HistoryLimit caps how many stored turns are replayed to the model.
	HistoryLimit int

	// SessionTTL is the sliding expiry window extended on every write.
	SessionTTL time.Duration

	RetryConfig RetryConfig
	RateLimiter *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Persona == nil {
		return errors.New("persona builder is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Service handles visitor chat turns.
//
// Service is stateless across requests; all configuration is captured
// immutably at construction time, so a single instance serves concurrent
// requests safely.
type Service struct {
	g         *genkit.Genkit
	sessions  SessionStore
	retriever ContextRetriever
	persona   PersonaBuilder
	logger    *slog.Logger

	modelName    string
	historyLimit int
	sessionTTL   time.Duration

	retryConfig RetryConfig
	rateLimiter *rate.Limiter

	now func() time.Time
}

// New creates a chat Service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 12
	}

	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		g:            cfg.Genkit,
		sessions:     cfg.Sessions,
		retriever:    cfg.Retriever,
		persona:      cfg.Persona,
		logger:       logger,
		modelName:    cfg.ModelName,
		historyLimit: historyLimit,
		sessionTTL:   sessionTTL,
		retryConfig:  retryConfig,
		rateLimiter:  rl,
		now:          time.Now,
	}, nil
}

// HandleMessage runs one visitor turn and returns the complete response
// text. If cb is non-nil it receives each fragment as generated; the
// concatenation of the forwarded fragments equals the returned text.
//
// The completed exchange is appended to the session and the expiry window
// extended only after generation succeeds. A persistence failure is
// reported as a wrapped ErrPersist alongside the already-delivered text.
func (s *Service) HandleMessage(ctx context.Context, sessionID, message string, cb StreamCallback) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	message = strings.TrimSpace(message)
	if sessionID == "" {
		return "", ErrEmptySessionID
	}
	if message == "" {
		return "", ErrEmptyMessage
	}

	now := s.now()

	sess, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		sess = session.New(sessionID, now, s.sessionTTL)
	} else if sess.Expired(now) {
		s.logger.Debug("session expired, starting fresh", "session_id", sessionID)
		sess.Reset(now)
	}

	history := toModelMessages(sess.Window(s.historyLimit))

	// Retrieval is best effort and uses the raw message as the query.
	var retrieved string
	if s.retriever != nil {
		retrieved = s.retriever.Retrieve(ctx, message)
	}
	systemPrompt := s.persona.Build(retrieved)

	responseText, err := s.generate(ctx, systemPrompt, history, message, cb)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(responseText) == "" {
		s.logger.Warn("model returned empty response", "session_id", sessionID)
		responseText = fallbackResponseMessage
		if cb != nil {
			if cbErr := cb(ctx, responseText); cbErr != nil {
				return "", fmt.Errorf("delivering fallback: %w", cbErr)
			}
		}
	}

	persistTime := s.now()
	sess.Append(session.RoleUser, message, persistTime)
	sess.Append(session.RoleAssistant, responseText, persistTime)
	sess.ExtendExpiry(persistTime, s.sessionTTL)

	if err := s.sessions.Upsert(ctx, sess); err != nil {
		s.logger.Warn("persisting exchange failed", "session_id", sessionID, "error", err)
		return responseText, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	return responseText, nil
}

// History returns the full stored turn sequence of a session, oldest
// first. An unknown or expired session yields an empty list. The prompt
// window cap does not apply here; it bounds only what is replayed to the
// model.
func (s *Service) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	sess, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess == nil || sess.Expired(s.now()) {
		return []session.Turn{}, nil
	}
	if sess.Turns == nil {
		return []session.Turn{}, nil
	}
	return sess.Turns, nil
}

// ClearSession empties a session's history. Clearing an unknown session is
// a no-op.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if err := s.sessions.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// generate runs the model with streaming and returns the full response
// text. When fragments were streamed, the returned text is exactly their
// concatenation.
func (s *Service) generate(ctx context.Context, systemPrompt string, history []*ai.Message, message string, cb StreamCallback) (string, error) {
	messages := make([]*ai.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(message)))

	guard := &streamGuard{cb: cb}

	opts := []ai.GenerateOption{
		ai.WithModelName(s.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(guard.onChunk))
	}

	resp, err := s.generateWithRetry(ctx, opts, guard)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}

	// Delivered fragments are authoritative: what the visitor saw is what
	// gets persisted.
	if guard.forwarded() {
		return guard.text(), nil
	}
	return resp.Text(), nil
}

// streamGuard forwards chunks to the caller while accumulating the full
// text. It also records whether anything has been forwarded, which gates
// retries: once a fragment reached the client, a retry would duplicate
// output.
type streamGuard struct {
	cb StreamCallback

	mu  sync.Mutex
	sb  strings.Builder
	fwd bool
}

func (sg *streamGuard) onChunk(ctx context.Context, chunk *ai.ModelResponseChunk) error {
	text := chunk.Text()
	if text == "" {
		return nil
	}

	sg.mu.Lock()
	sg.sb.WriteString(text)
	sg.fwd = true
	sg.mu.Unlock()

	return sg.cb(ctx, text)
}

func (sg *streamGuard) forwarded() bool {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.fwd
}

func (sg *streamGuard) text() string {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.sb.String()
}

// toModelMessages converts stored turns to the model's message format.
func toModelMessages(turns []session.Turn) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case session.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(turn.Content)))
		case session.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(turn.Content)))
		}
	}
	return msgs
}

package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/dmaulana/folio/internal/log"
	"github.com/dmaulana/folio/internal/session"
	"github.com/dmaulana/folio/internal/testutil"
)

// mockSessionStore implements SessionStore for testing.
type mockSessionStore struct {
	sess      *session.Session
	loadErr   error
	upsertErr error
	clearErr  error

	loadCalls   int
	upsertCalls int
	clearCalls  int

	lastUpsert *session.Session
	lastClear  string
}

func (m *mockSessionStore) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	m.loadCalls++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.sess, nil
}

func (m *mockSessionStore) Upsert(ctx context.Context, sess *session.Session) error {
	m.upsertCalls++
	m.lastUpsert = sess
	return m.upsertErr
}

func (m *mockSessionStore) Clear(ctx context.Context, sessionID string) error {
	m.clearCalls++
	m.lastClear = sessionID
	return m.clearErr
}

// mockRetriever implements ContextRetriever for testing.
type mockRetriever struct {
	result    string
	calls     int
	lastQuery string
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string) string {
	m.calls++
	m.lastQuery = query
	return m.result
}

// mockPersona implements PersonaBuilder for testing.
type mockPersona struct {
	lastRetrieved string
}

func (m *mockPersona) Build(retrieved string) string {
	m.lastRetrieved = retrieved
	prompt := "You are the portfolio assistant."
	if retrieved != "" {
		prompt += "\nContext: " + retrieved
	}
	return prompt
}

type serviceDeps struct {
	store     *mockSessionStore
	retriever *mockRetriever
	persona   *mockPersona
	llm       *testutil.MockLLM
}

func newTestService(t *testing.T, cfg Config) (*Service, *serviceDeps) {
	t.Helper()

	g := genkit.Init(context.Background())
	llm := testutil.NewMockLLM("default answer")
	llm.RegisterModel(g)

	deps := &serviceDeps{
		store:     &mockSessionStore{},
		retriever: &mockRetriever{},
		persona:   &mockPersona{},
		llm:       llm,
	}

	cfg.Genkit = g
	if cfg.Sessions == nil {
		cfg.Sessions = deps.store
	}
	if cfg.Retriever == nil {
		cfg.Retriever = deps.retriever
	}
	if cfg.Persona == nil {
		cfg.Persona = deps.persona
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.ModelName == "" {
		cfg.ModelName = testutil.MockModelName
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = rate.NewLimiter(rate.Inf, 1)
	}
	if cfg.RetryConfig.MaxRetries == 0 {
		cfg.RetryConfig = RetryConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		}
	}

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return svc, deps
}

func TestHandleMessageFirstContact(t *testing.T) {
	svc, deps := newTestService(t, Config{})
	deps.llm.AddResponse("what do you do", "I build backend systems in Go.")

	var fragments []string
	got, err := svc.HandleMessage(context.Background(), "visitor-1", "What do you do?",
		func(ctx context.Context, fragment string) error {
			fragments = append(fragments, fragment)
			return nil
		})
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if got != "I build backend systems in Go." {
		t.Errorf("response = %q", got)
	}

	// Streamed fragments concatenate to exactly the returned text.
	if strings.Join(fragments, "") != got {
		t.Errorf("fragments %q do not concatenate to %q", fragments, got)
	}
	if len(fragments) < 2 {
		t.Errorf("expected multiple fragments, got %d", len(fragments))
	}

	if deps.store.upsertCalls != 1 {
		t.Fatalf("upsert calls = %d, want 1", deps.store.upsertCalls)
	}
	saved := deps.store.lastUpsert
	if saved.ID != "visitor-1" {
		t.Errorf("saved session id = %q", saved.ID)
	}
	if len(saved.Turns) != 2 {
		t.Fatalf("saved turns = %d, want user+assistant pair", len(saved.Turns))
	}
	if saved.Turns[0].Role != session.RoleUser || saved.Turns[0].Content != "What do you do?" {
		t.Errorf("first turn = %+v", saved.Turns[0])
	}
	if saved.Turns[1].Role != session.RoleAssistant || saved.Turns[1].Content != got {
		t.Errorf("second turn = %+v", saved.Turns[1])
	}
	if !saved.ExpiresAt.After(time.Now().Add(23 * time.Hour)) {
		t.Errorf("expiry %v not extended by the full window", saved.ExpiresAt)
	}
}

func TestHandleMessageReturningSession(t *testing.T) {
	now := time.Now()
	sess := session.New("visitor-2", now, 24*time.Hour)
	sess.Append(session.RoleUser, "hi", now)
	sess.Append(session.RoleAssistant, "hello, ask me anything", now)

	svc, deps := newTestService(t, Config{Sessions: &mockSessionStore{sess: sess}})

	got, err := svc.HandleMessage(context.Background(), "visitor-2", "and your projects?", nil)
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if got != "default answer" {
		t.Errorf("response = %q", got)
	}

	calls := deps.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	if calls[0].History != 2 {
		t.Errorf("model saw %d history messages, want 2", calls[0].History)
	}
}

func TestHandleMessageExpiredSessionStartsFresh(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	sess := session.New("visitor-3", past, 24*time.Hour)
	sess.Append(session.RoleUser, "old question", past)
	sess.Append(session.RoleAssistant, "old answer", past)

	store := &mockSessionStore{sess: sess}
	svc, deps := newTestService(t, Config{Sessions: store})

	if _, err := svc.HandleMessage(context.Background(), "visitor-3", "hello again", nil); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}

	calls := deps.llm.Calls()
	if len(calls) != 1 || calls[0].History != 0 {
		t.Fatalf("expired history leaked to the model: %+v", calls)
	}
	if len(store.lastUpsert.Turns) != 2 {
		t.Errorf("saved turns = %d, want only the new exchange", len(store.lastUpsert.Turns))
	}
}

func TestHandleMessageHistoryWindow(t *testing.T) {
	now := time.Now()
	sess := session.New("visitor-4", now, 24*time.Hour)
	for i := range 15 {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		sess.Append(role, "turn", now)
	}

	svc, deps := newTestService(t, Config{
		Sessions:     &mockSessionStore{sess: sess},
		HistoryLimit: 12,
	})

	if _, err := svc.HandleMessage(context.Background(), "visitor-4", "question", nil); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}

	calls := deps.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	if calls[0].History != 12 {
		t.Errorf("model saw %d history messages, want window of 12", calls[0].History)
	}
}

func TestHandleMessageValidation(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		message   string
		wantErr   error
	}{
		{"empty message", "visitor-5", "", ErrEmptyMessage},
		{"whitespace message", "visitor-5", "   \n", ErrEmptyMessage},
		{"empty session id", "", "hello", ErrEmptySessionID},
		{"whitespace session id", "  ", "hello", ErrEmptySessionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, deps := newTestService(t, Config{})

			_, err := svc.HandleMessage(context.Background(), tt.sessionID, tt.message, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}

			// Validation failures must not touch the store, index, or model.
			if deps.store.loadCalls != 0 || deps.store.upsertCalls != 0 {
				t.Error("session store was called")
			}
			if deps.retriever.calls != 0 {
				t.Error("retriever was called")
			}
			if len(deps.llm.Calls()) != 0 {
				t.Error("model was called")
			}
		})
	}
}

func TestHandleMessageRetrievalFlowsIntoPrompt(t *testing.T) {
	retriever := &mockRetriever{result: "I wrote a post about Go generics."}
	svc, deps := newTestService(t, Config{Retriever: retriever})

	if _, err := svc.HandleMessage(context.Background(), "visitor-6", "tell me about generics", nil); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}

	if retriever.lastQuery != "tell me about generics" {
		t.Errorf("retriever query = %q, want raw message", retriever.lastQuery)
	}
	if deps.persona.lastRetrieved != retriever.result {
		t.Errorf("persona received %q, want retrieved context", deps.persona.lastRetrieved)
	}

	calls := deps.llm.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].System, "Go generics") {
		t.Errorf("system prompt missing retrieved context: %+v", calls)
	}
}

func TestHandleMessageEmptyRetrievalStillAnswers(t *testing.T) {
	svc, deps := newTestService(t, Config{})

	got, err := svc.HandleMessage(context.Background(), "visitor-7", "hello there", nil)
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if got != "default answer" {
		t.Errorf("response = %q", got)
	}
	if deps.persona.lastRetrieved != "" {
		t.Errorf("persona received %q, want empty context", deps.persona.lastRetrieved)
	}
}

func TestHandleMessagePersistFailure(t *testing.T) {
	store := &mockSessionStore{upsertErr: errors.New("connection lost")}
	svc, deps := newTestService(t, Config{Sessions: store})
	deps.llm.AddResponse("hello", "hi, welcome to the site")

	var streamed strings.Builder
	got, err := svc.HandleMessage(context.Background(), "visitor-8", "hello",
		func(ctx context.Context, fragment string) error {
			streamed.WriteString(fragment)
			return nil
		})

	if !errors.Is(err, ErrPersist) {
		t.Fatalf("error = %v, want ErrPersist", err)
	}
	// The generated text is still delivered alongside the error.
	if got != "hi, welcome to the site" {
		t.Errorf("response = %q", got)
	}
	if streamed.String() != got {
		t.Errorf("streamed %q, want full response before failure surfaced", streamed.String())
	}
}

func TestHandleMessageGenerationFailureSkipsPersist(t *testing.T) {
	store := &mockSessionStore{}
	svc, deps := newTestService(t, Config{Sessions: store})
	deps.llm.AddError("broken", errors.New("invalid request"))

	_, err := svc.HandleMessage(context.Background(), "visitor-9", "broken", nil)
	if err == nil {
		t.Fatal("expected generation error, got nil")
	}
	if store.upsertCalls != 0 {
		t.Errorf("upsert calls = %d, want 0 after failed generation", store.upsertCalls)
	}
}

func TestHandleMessageMidStreamFailure(t *testing.T) {
	store := &mockSessionStore{}
	svc, deps := newTestService(t, Config{Sessions: store})
	deps.llm.AddStreamError("cut off", "partial ans", errors.New("503 service unavailable"))

	var fragments []string
	_, err := svc.HandleMessage(context.Background(), "visitor-15", "cut off",
		func(ctx context.Context, fragment string) error {
			fragments = append(fragments, fragment)
			return nil
		})
	if err == nil {
		t.Fatal("expected mid-stream error, got nil")
	}
	if !strings.Contains(err.Error(), "mid-stream") {
		t.Errorf("error %v should report the mid-stream failure", err)
	}

	// Forwarded output is never retried or duplicated.
	if got := strings.Join(fragments, ""); got != "partial ans" {
		t.Errorf("delivered fragments = %q, want exactly the partial output", got)
	}
	if store.upsertCalls != 0 {
		t.Errorf("upsert calls = %d, want 0 after interrupted generation", store.upsertCalls)
	}
}

func TestHandleMessageRetriesTransientError(t *testing.T) {
	svc, deps := newTestService(t, Config{
		RetryConfig: RetryConfig{
			MaxRetries:      3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
	})
	deps.llm.AddError("flaky", errors.New("503 service unavailable"))

	_, err := svc.HandleMessage(context.Background(), "visitor-10", "flaky", nil)
	if err == nil {
		t.Fatal("expected error after exhausted retries, got nil")
	}
	if !strings.Contains(err.Error(), "retries") {
		t.Errorf("error %v should mention retries", err)
	}
}

func TestHandleMessageEmptyResponseFallback(t *testing.T) {
	svc, deps := newTestService(t, Config{})
	deps.llm.AddResponse("silent", "")

	var streamed strings.Builder
	got, err := svc.HandleMessage(context.Background(), "visitor-11", "silent",
		func(ctx context.Context, fragment string) error {
			streamed.WriteString(fragment)
			return nil
		})
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if got != fallbackResponseMessage {
		t.Errorf("response = %q, want fallback", got)
	}
	if streamed.String() != fallbackResponseMessage {
		t.Errorf("streamed = %q, want fallback delivered to client", streamed.String())
	}
	if deps.store.lastUpsert.Turns[1].Content != fallbackResponseMessage {
		t.Errorf("persisted assistant turn = %q", deps.store.lastUpsert.Turns[1].Content)
	}
}

func TestHandleMessageCallbackAbortSkipsPersist(t *testing.T) {
	store := &mockSessionStore{}
	svc, deps := newTestService(t, Config{Sessions: store})
	deps.llm.AddResponse("long answer please", "one two three four five")

	abort := errors.New("client went away")
	_, err := svc.HandleMessage(context.Background(), "visitor-12", "long answer please",
		func(ctx context.Context, fragment string) error {
			return abort
		})
	if err == nil {
		t.Fatal("expected error after aborted stream, got nil")
	}
	if store.upsertCalls != 0 {
		t.Errorf("upsert calls = %d, want 0 after aborted stream", store.upsertCalls)
	}
}

func TestHistory(t *testing.T) {
	now := time.Now()
	sess := session.New("visitor-13", now, 24*time.Hour)
	sess.Append(session.RoleUser, "q1", now)
	sess.Append(session.RoleAssistant, "a1", now)

	svc, _ := newTestService(t, Config{Sessions: &mockSessionStore{sess: sess}})

	turns, err := svc.History(context.Background(), "visitor-13")
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Content != "q1" || turns[1].Content != "a1" {
		t.Errorf("turns out of order: %+v", turns)
	}
}

func TestHistoryReturnsFullSequence(t *testing.T) {
	now := time.Now()
	sess := session.New("visitor-16", now, 24*time.Hour)
	for i := range 20 {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		sess.Append(role, "turn", now)
	}

	svc, _ := newTestService(t, Config{
		Sessions:     &mockSessionStore{sess: sess},
		HistoryLimit: 12,
	})

	// The prompt window caps what the model sees, not what callers read.
	turns, err := svc.History(context.Background(), "visitor-16")
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(turns) != 20 {
		t.Fatalf("turns = %d, want the full 20-turn sequence", len(turns))
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	turns, err := svc.History(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if turns == nil || len(turns) != 0 {
		t.Errorf("turns = %v, want empty non-nil list", turns)
	}
}

func TestHistoryExpiredSession(t *testing.T) {
	past := time.Now().Add(-30 * time.Hour)
	sess := session.New("visitor-14", past, 24*time.Hour)
	sess.Append(session.RoleUser, "old", past)

	svc, _ := newTestService(t, Config{Sessions: &mockSessionStore{sess: sess}})

	turns, err := svc.History(context.Background(), "visitor-14")
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("turns = %d, want 0 for expired session", len(turns))
	}
}

func TestClearSession(t *testing.T) {
	store := &mockSessionStore{}
	svc, _ := newTestService(t, Config{Sessions: store})

	if err := svc.ClearSession(context.Background(), "visitor-15"); err != nil {
		t.Fatalf("ClearSession returned error: %v", err)
	}
	if store.clearCalls != 1 || store.lastClear != "visitor-15" {
		t.Errorf("clear calls = %d, id = %q", store.clearCalls, store.lastClear)
	}
}

func TestNewValidation(t *testing.T) {
	g := genkit.Init(context.Background())

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing genkit", Config{Sessions: &mockSessionStore{}, Persona: &mockPersona{}, ModelName: "m"}},
		{"missing sessions", Config{Genkit: g, Persona: &mockPersona{}, ModelName: "m"}},
		{"missing persona", Config{Genkit: g, Sessions: &mockSessionStore{}, ModelName: "m"}},
		{"missing model name", Config{Genkit: g, Sessions: &mockSessionStore{}, Persona: &mockPersona{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected config validation error, got nil")
			}
		})
	}
}

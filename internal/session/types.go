package session

import "time"

// Role constants define valid turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message within a session. Turns are immutable once written.
type Turn struct {
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// Session is a durable, expiring conversation keyed by an opaque token.
// Turn order is insertion order, which is chronological order.
type Session struct {
	ID        string
	Turns     []Turn
	CreatedAt time.Time
	ExpiresAt time.Time
}

// New creates an empty session with the given id, expiring ttl from now.
func New(id string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:        id,
		Turns:     []Turn{},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the session's expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Reset empties the turn sequence, keeping the record and its identity.
// Used when a write arrives for an expired session: the id lives on with a
// fresh history instead of erroring or deleting the row.
func (s *Session) Reset(now time.Time) {
	s.Turns = []Turn{}
	s.CreatedAt = now
}

// Append adds a turn to the end of the sequence.
func (s *Session) Append(role, content string, now time.Time) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, CreatedAt: now})
}

// ExtendExpiry moves the expiry to ttl from now. Called on every
// successful write so the window slides with activity.
func (s *Session) ExtendExpiry(now time.Time, ttl time.Duration) {
	s.ExpiresAt = now.Add(ttl)
}

// Window returns the most recent n turns, oldest first. The stored
// sequence is never mutated; windowing is a read-time view so storage
// stays authoritative regardless of any one consumer's policy.
func (s *Session) Window(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

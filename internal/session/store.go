package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrNotFound indicates the requested session does not exist.
// Store.Load maps it to (nil, nil); it is exported for Querier implementors.
var ErrNotFound = errors.New("session not found")

// Row is the storage-level representation of a session record.
type Row struct {
	SessionID string
	Turns     []byte // JSONB-encoded []Turn
	CreatedAt pgtype.Timestamptz
	ExpiresAt pgtype.Timestamptz
}

// UpsertParams are the arguments for Querier.UpsertSession.
type UpsertParams struct {
	SessionID string
	Turns     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Querier defines the database operations the Store depends on.
// Interfaces are defined by the consumer; tests supply call-tracking mocks
// and production uses the pgx-backed implementation from NewQuerier.
type Querier interface {
	// GetSession fetches one session row, returning ErrNotFound when absent.
	GetSession(ctx context.Context, sessionID string) (Row, error)

	// UpsertSession inserts or replaces a session row.
	UpsertSession(ctx context.Context, arg UpsertParams) error

	// ClearTurns empties the turn list of an existing row. A no-op for
	// absent ids.
	ClearTurns(ctx context.Context, sessionID string) error

	// DeleteExpired removes rows whose expiry has passed, returning the
	// number of rows reclaimed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// Store persists chat sessions. Safe for concurrent use.
type Store struct {
	querier Querier
	logger  *slog.Logger
}

// NewStore creates a session store on top of a Querier.
// A nil logger falls back to slog.Default().
func NewStore(querier Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{querier: querier, logger: logger}
}

// Load retrieves a session by id. An absent id returns (nil, nil): absence
// is an expected state, not an error. Expiry is NOT checked here; callers
// own that policy.
func (s *Store) Load(ctx context.Context, sessionID string) (*Session, error) {
	row, err := s.querier.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading session %q: %w", sessionID, err)
	}

	var turns []Turn
	if err := json.Unmarshal(row.Turns, &turns); err != nil {
		return nil, fmt.Errorf("decoding turns for session %q: %w", sessionID, err)
	}

	sess := &Session{
		ID:    row.SessionID,
		Turns: turns,
	}
	if row.CreatedAt.Valid {
		sess.CreatedAt = row.CreatedAt.Time
	}
	if row.ExpiresAt.Valid {
		sess.ExpiresAt = row.ExpiresAt.Time
	}

	s.logger.Debug("loaded session", "session_id", sessionID, "turns", len(turns))
	return sess, nil
}

// Upsert writes the session, replacing any existing record. Idempotent and
// safe to retry; concurrent writers are last-write-wins.
func (s *Store) Upsert(ctx context.Context, sess *Session) error {
	turnsJSON, err := json.Marshal(sess.Turns)
	if err != nil {
		return fmt.Errorf("encoding turns for session %q: %w", sess.ID, err)
	}

	if err := s.querier.UpsertSession(ctx, UpsertParams{
		SessionID: sess.ID,
		Turns:     turnsJSON,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	}); err != nil {
		return fmt.Errorf("upserting session %q: %w", sess.ID, err)
	}

	s.logger.Debug("upserted session",
		"session_id", sess.ID,
		"turns", len(sess.Turns),
		"expires_at", sess.ExpiresAt)
	return nil
}

// Clear empties the session's turn sequence, keeping the record.
// Idempotent: clearing an already-empty or absent session is a no-op.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.querier.ClearTurns(ctx, sessionID); err != nil {
		return fmt.Errorf("clearing session %q: %w", sessionID, err)
	}
	s.logger.Debug("cleared session", "session_id", sessionID)
	return nil
}

// DeleteExpired reclaims sessions past expiry. Called by the Reaper.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.querier.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	if n > 0 {
		s.logger.Debug("reclaimed expired sessions", "count", n)
	}
	return n, nil
}

// DBTX is the subset of pgxpool.Pool used by the pgx Querier.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
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

const getSessionSQL = `
SELECT session_id, turns, created_at, expires_at
FROM sessions
WHERE session_id = $1`

func (q *pgQuerier) GetSession(ctx context.Context, sessionID string) (Row, error) {
	var row Row
	err := q.db.QueryRow(ctx, getSessionSQL, sessionID).
		Scan(&row.SessionID, &row.Turns, &row.CreatedAt, &row.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, ErrNotFound
		}
		return Row{}, err
	}
	return row, nil
}

const upsertSessionSQL = `
INSERT INTO sessions (session_id, turns, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO UPDATE
SET turns = EXCLUDED.turns,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at`

func (q *pgQuerier) UpsertSession(ctx context.Context, arg UpsertParams) error {
	_, err := q.db.Exec(ctx, upsertSessionSQL,
		arg.SessionID,
		arg.Turns,
		pgtype.Timestamptz{Time: arg.CreatedAt, Valid: !arg.CreatedAt.IsZero()},
		pgtype.Timestamptz{Time: arg.ExpiresAt, Valid: !arg.ExpiresAt.IsZero()},
	)
	return err
}

const clearTurnsSQL = `
UPDATE sessions SET turns = '[]'::jsonb WHERE session_id = $1`

func (q *pgQuerier) ClearTurns(ctx context.Context, sessionID string) error {
	_, err := q.db.Exec(ctx, clearTurnsSQL, sessionID)
	return err
}

const deleteExpiredSQL = `
DELETE FROM sessions WHERE expires_at < now()`

func (q *pgQuerier) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteExpiredSQL)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

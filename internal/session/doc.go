// Package session provides chat session persistence with PostgreSQL.
//
// A session is identified by an opaque, client-generated token and holds an
// embedded ordered list of turns plus a sliding expiry timestamp. The store
// exposes expiry as data: an expired session is still returned by
// [Store.Load], and callers decide when to treat it as logically empty.
// The [Reaper] reclaims rows past expiry as background storage hygiene.
//
// Key operations:
//
//   - [Store.Load]: fetch a session; absent ids yield (nil, nil), not an error
//   - [Store.Upsert]: idempotent insert-or-replace, extending expiry
//   - [Store.Clear]: empty the turn list without deleting the record
//
// # Concurrency
//
// Store is safe for concurrent use; all state lives in PostgreSQL. Two
// concurrent exchanges on the same session are not serialized: the upsert
// is last-write-wins, which is accepted for a single-visitor-per-session
// personal site.
package session

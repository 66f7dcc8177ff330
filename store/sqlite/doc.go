// Package sqlite implements store.Store on SQLite via the pure-Go
// modernc.org/sqlite driver. It suits single-process deployments and
// embedded use where PostgreSQL is too heavy; the claim operations use
// the same conditional-UPDATE shape as the postgres backend, serialized
// by SQLite's single-writer model.
//
// Timestamps are stored as unix nanoseconds, retry delay sequences as
// JSON arrays of nanoseconds.
//
// Usage:
//
//	st, err := sqlite.New("tickerq.db")
//	if err != nil { ... }
//	if err := st.Migrate(ctx); err != nil { ... }
package sqlite

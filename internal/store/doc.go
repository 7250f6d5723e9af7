// Package store provides persistent storage for provisioned projects using
// SQLite.
//
// # Data Model
//
//   - Project: one provisioned project with its credential pair and
//     created/rotated timestamps
//
// The provisioning command writes, the edge relay reads. Rotation replaces
// both tokens atomically; the old pair stops working at the daemon's next
// heartbeat revalidation.
//
// # SQLite Configuration
//
// WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// Use NewSQLiteStore(":memory:") or a t.TempDir() path for tests.
package store

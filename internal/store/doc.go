// Package store provides SQLite-backed durable storage for the identity
// mapping between real patient identifiers and anonymous tokens.
//
// The store holds two append-only tables:
//   - Subjects: one row per real patient, keyed by anonymous token
//   - Sessions: one row per conversion run, numbered sequentially per subject
//
// # Critical Patterns
//
// First write wins
//   - A subject is created on first encounter of a patient_id and never
//     mutated; later GetOrCreateSubject calls ignore supplied demographics.
//
// Collision-checked tokens
//   - New tokens are re-queried against existing subjects before insert and
//     redrawn on collision, so a collision never surfaces to callers.
//
// Explicit unit of work
//   - Writes go through a lazily begun transaction; Commit and Rollback are
//     the only boundaries. A failed conversion rolls back both the subject
//     and session rows created in that unit of work.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The store is single-writer: one connection (SetMaxOpenConns(1)) for the
// duration of a batch or deanonymization pass. Sharing a Store across
// concurrent callers is not supported.
package store

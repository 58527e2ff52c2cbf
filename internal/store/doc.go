// Package store provides SQLite-backed durable storage for casework jobs.
//
// Three tables make up a job:
//   - jobs: parameters, overall status and the record version
//   - sections: the latest data of each section, with the version at which
//     it was written and the task that wrote it
//   - progress_events: the append-only progress log, which doubles as the
//     task-run history used for recovery
//
// # Write discipline
//
// A section write and the record version bump happen in one transaction
// guarded by an optimistic check on the expected version. Either both land
// or neither does, so a crash never leaves a record whose version disagrees
// with its sections.
//
// Progress events are keyed by (job_id, seq); seq is assigned by the caller
// and strictly increases per job. All log reads are ORDER BY seq ASC.
//
// Section data is stored as canonical JSON (see internal/section) so a
// reload reproduces the in-memory record exactly.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

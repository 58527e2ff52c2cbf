// Package progress reports job progress two ways from one source of truth.
//
// Every status change is an Event appended to the durable progress log with
// a per-job sequence number. The same event is then folded into an
// in-memory Snapshot (pull) and fanned out to live subscribers (push).
// Because the append happens first, a pull never lags an event a push
// subscriber has already seen, and a client that only polls after the job
// finished still gets the full, final picture from the log.
//
// Push delivery is at-most-once and best-effort: a subscriber whose buffer
// is full misses events rather than slowing the pipeline down. Subscribers
// needing a complete view should re-read the snapshot.
package progress

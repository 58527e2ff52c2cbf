// Package state is the shared state store: one versioned record per job,
// made of named sections, each owned by exactly one task.
//
// Writers are serialised per job. A write is validated (known section, the
// writer owns it, the record is not sealed), normalised, persisted through
// the Persister in one transaction, and only then published as a new
// immutable Record by swapping an atomic pointer. Readers load the pointer
// and never block writers or observe a half-applied write.
//
// Once a job reaches a terminal status its record is sealed and every
// further write fails with ErrSealed.
package state

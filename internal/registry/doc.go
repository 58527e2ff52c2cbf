// Package registry holds the static task catalog of the pipeline and the
// dependency graph between tasks.
//
// Tasks are registered once at startup, optionally adjusted by configuration
// overrides, and then validated. Validation rejects duplicates, unknown
// dependencies, invalid policies and dependency cycles; the engine refuses to
// run a registry that has not validated cleanly.
//
// Edge semantics:
//
//   - hard edge: the dependent runs only when the dependency COMPLETED; a
//     FAILED or SKIPPED dependency blocks it.
//   - soft edge: the dependent waits for the dependency to reach any
//     terminal state, then runs with the configured fallback in place of
//     missing data.
//
// An edge is soft when it is declared soft or when the dependency task is
// optional.
package registry

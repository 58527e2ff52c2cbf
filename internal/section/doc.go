// Package section defines the data held in one section of a job's shared
// state record, and the canonical encoding used to persist and compare it.
//
// Section data is plain decoded JSON: nil, bool, float64, string, []any and
// map[string]any. Every write into the state store goes through Normalize so
// that what is held in memory is exactly what a reload from SQLite produces.
//
// Canonical JSON rules (used for persistence and content hashing):
//   - object keys sorted by UTF-16 code units
//   - strings NFC normalised, no HTML escaping, U+2028/U+2029 left literal
//   - numbers in shortest round-trip form, integral values without exponent
//   - NaN and infinities are rejected
//
// This package imports nothing internal.
package section

// Package gate is the consistency gate that stands between a finished job
// and any artifact generator.
//
// Validate always reads the current record; nothing is cached, because the
// synthesized section may be rewritten between calls. The checklist runs in
// a fixed order:
//
//  1. the synthesized section exists
//  2. field rules: required fields present, non-null and of the declared
//     kind; recommended fields present
//  3. CUE constraints: an embedded schema plus an optional user schema
//  4. cross-field sanity checks
//
// Any critical issue makes the report invalid. Warnings are reported but do
// not block generation. Issues are sorted so that validating unchanged state
// twice yields identical reports.
package gate

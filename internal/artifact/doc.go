// Package artifact turns a validated job record into output documents.
//
// Generators are only ever called through the consistency gate, but each
// one still checks the fields it needs and refuses to write a document with
// holes in it.
package artifact

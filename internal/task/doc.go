// Package task defines the contract between the scheduler and the analysis
// tasks ("agents") it runs.
//
// An agent receives a read-only View of the job record and returns a Result
// carrying the data for its own section. Agents may be invoked more than once
// for the same job (retries, resume after a crash), must not keep references
// to the view, and must honour the deadline on the context they are given.
//
// Status values, the TaskRun record and the error taxonomy used to classify
// failures also live here so that registry, engine and jobs share them
// without importing one another.
package task

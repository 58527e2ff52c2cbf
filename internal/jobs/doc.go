// Package jobs is the job lifecycle surface: start a job, watch it, read its
// result, cancel it, validate it and generate artifacts from it.
//
// A Manager owns one engine run per active job. Job ids are UUIDv7 strings.
// Jobs interrupted by a restart are picked up by Resume, which keeps every
// completed task and reruns the rest.
package jobs

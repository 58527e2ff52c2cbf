// Package engine schedules and executes the tasks of one job.
//
// ARCHITECTURE:
//
// Coordinator per job:
// Run owns a coordinator loop that alone decides which tasks are dispatched.
// Each loop iteration, under the job lock:
//  1. PENDING tasks with a failed or skipped hard dependency become SKIPPED,
//     naming the root failure as reason (their agents are never invoked)
//  2. every READY task is dispatched to its own goroutine
//  3. once every task is terminal, synthesis is dispatched or skipped
//
// The coordinator then blocks only on a task finishing or the job context
// ending. It never waits on a worker slot, so a slow task cannot hold back
// dispatch of other ready tasks.
//
// Worker slots:
// A process-wide weighted semaphore bounds the attempts executing at any
// moment across every job. A task holds a slot for one attempt only; the
// slot is released before the retry backoff sleep.
//
// Attempts:
// Each attempt is its own TaskRun: RUNNING(n), then a task_retry event or a
// terminal status. Attempts run under a per-attempt deadline; timeouts, panics
// and unclassified errors are transient and retried with exponential backoff
// up to the task's MaxRetries. task.PermanentError stops retries at once.
//
// Cancellation:
// Cancelling the job context stops dispatch. PENDING tasks become SKIPPED
// (reason "cancelled"), in-flight tasks FAILED, and the job FAILED. A worker
// returning late finds the job's cancelled flag set and discards its result.
package engine

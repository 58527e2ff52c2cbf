package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/task"
)

// runTask drives one task through its attempts until it completes, fails
// permanently or the job is cancelled. It always reports on done.
func (e *Engine) runTask(ctx context.Context, jr *jobRun, def registry.Def, done chan<- string) {
	defer func() { done <- def.Name }()
	persist := context.WithoutCancel(ctx)

	jr.mu.Lock()
	attempt := jr.runs[def.Name].Attempt
	jr.mu.Unlock()

	op := func() error {
		// A slot is held for one attempt only, never across the backoff sleep.
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(newCancelledError(jr.id))
		}
		defer e.sem.Release(1)

		jr.mu.Lock()
		if jr.cancelled {
			jr.mu.Unlock()
			return backoff.Permanent(newCancelledError(jr.id))
		}
		attempt++
		e.transition(persist, jr, def.Name, task.StatusRunning, attempt, fmt.Sprintf("attempt %d", attempt), nil)
		fallbacks := jr.fallbacks(def)
		jr.mu.Unlock()

		view, err := e.states.View(ctx, jr.id, fallbacks)
		if err != nil {
			return task.Transient(fmt.Errorf("read state: %w", err))
		}
		res, err := e.attempt(ctx, jr.id, def, view, attempt)
		if err != nil {
			if task.IsPermanent(err) || IsCancelled(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return e.commit(persist, jr, def, res, attempt)
	}

	notify := func(err error, wait time.Duration) {
		jr.mu.Lock()
		defer jr.mu.Unlock()
		if jr.cancelled {
			return
		}
		jr.runs[def.Name].Error = err.Error()
		e.emit(persist, jr.id, progress.RetryTransition(def.Name, attempt, err))
		slog.Warn("task attempt failed, retrying",
			"job", jr.id, "task", def.Name, "attempt", attempt, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(e.backoff.policy(def.Retries()), ctx), notify)
	if err == nil {
		return
	}

	jr.mu.Lock()
	defer jr.mu.Unlock()
	// The coordinator records cancellations.
	if jr.cancelled || ctx.Err() != nil {
		return
	}
	if jr.statuses[def.Name] != task.StatusRunning {
		return
	}
	if !task.IsPermanent(err) {
		err = &task.PermanentError{Err: err, Attempts: attempt}
	}
	e.transition(persist, jr, def.Name, task.StatusFailed, attempt, err.Error(), err)
	slog.Error("task failed", "job", jr.id, "task", def.Name, "attempt", attempt, "error", err)
}

// attempt runs the agent once under the task's deadline. The agent runs in
// its own goroutine; when the deadline passes first, its eventual result is
// dropped.
func (e *Engine) attempt(ctx context.Context, jobID string, def registry.Def, view task.View, n int) (task.Result, error) {
	ctx, span := e.tracer.Start(ctx, "casework.task.attempt", trace.WithAttributes(
		attribute.String("casework.job_id", jobID),
		attribute.String("casework.task", def.Name),
		attribute.Int("casework.attempt", n),
	))
	defer span.End()

	limit := def.AttemptTimeout()
	actx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type reply struct {
		res task.Result
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: newPanicError(jobID, def.Name, r)}
			}
		}()
		res, err := def.Agent.Run(actx, view)
		ch <- reply{res: res, err: err}
	}()

	var rep reply
	select {
	case rep = <-ch:
	case <-actx.Done():
		rep.err = actx.Err()
	}

	err := classify(ctx, actx, jobID, def.Name, n, limit, rep.res, rep.err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return task.Result{}, err
	}
	return rep.res, nil
}

// classify maps an attempt's outcome onto the error taxonomy: nil on
// success, a cancellation, a PermanentError, or a transient error.
func classify(ctx, actx context.Context, jobID, name string, n int, limit time.Duration, res task.Result, err error) error {
	if err == nil && res.Status == task.StatusFailed {
		err = res.Err
		if err == nil {
			err = errors.New("agent reported failure")
		}
	}
	switch {
	case ctx.Err() != nil:
		return newCancelledError(jobID)
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && actx.Err() != nil:
		return task.Transient(newTimeoutError(jobID, name, n, limit))
	case task.IsPermanent(err), task.IsTransient(err):
		return err
	default:
		return task.Transient(err)
	}
}

// commit writes the result into the task's own section and marks the run
// COMPLETED. Late results of a cancelled job are discarded.
func (e *Engine) commit(ctx context.Context, jr *jobRun, def registry.Def, res task.Result, attempt int) error {
	target := res.Section
	if target == "" {
		target = def.Name
	}

	jr.mu.Lock()
	defer jr.mu.Unlock()
	if jr.cancelled {
		return backoff.Permanent(newCancelledError(jr.id))
	}
	version, err := e.states.SetSection(ctx, jr.id, def.Name, target, res.Data)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrNotOwner), errors.Is(err, state.ErrUnknownSection):
			return backoff.Permanent(task.Permanent(newOwnershipError(jr.id, def.Name, target, err)))
		case errors.Is(err, state.ErrSealed):
			return backoff.Permanent(newCancelledError(jr.id))
		}
		return task.Transient(fmt.Errorf("commit section %s: %w", target, err))
	}
	e.transition(ctx, jr, def.Name, task.StatusCompleted, attempt, "", nil)
	slog.Info("task completed", "job", jr.id, "task", def.Name, "attempt", attempt, "version", version)
	return nil
}

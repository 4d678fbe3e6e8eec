package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// taskDrainGrace bounds how long the terminal drain waits for an abandoned
// parallel task to settle.
const taskDrainGrace = 2 * time.Second

type taskResult[T any] struct {
	value T
	err   error
}

// task runs one function in its own goroutine and delivers exactly one
// result through a buffered channel, so an abandoned task never leaks a
// blocked goroutine. The orchestrator awaits tasks at fixed points and
// drains whatever is still pending in its terminal block.
type task[T any] struct {
	name    string
	ch      chan taskResult[T]
	settled bool
	res     taskResult[T]
}

// newTask spawns fn immediately. fn sees the context passed here; callers
// bound it before spawning.
func newTask[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) *task[T] {
	t := &task[T]{name: name, ch: make(chan taskResult[T], 1)}
	go func() {
		value, err := fn(ctx)
		t.ch <- taskResult[T]{value: value, err: err}
	}()
	return t
}

// Await blocks until the task settles or waitCtx expires. A settled result
// is cached, so the terminal drain may call Await again after an earlier
// timed-out attempt. Await is not safe for concurrent use; the pipeline
// awaits from a single goroutine.
func (t *task[T]) Await(waitCtx context.Context) (T, error) {
	if t.settled {
		return t.res.value, t.res.err
	}
	select {
	case res := <-t.ch:
		t.settled = true
		t.res = res
		return res.value, res.err
	case <-waitCtx.Done():
		var zero T
		return zero, waitCtx.Err()
	}
}

// Settled reports whether the result has been consumed.
func (t *task[T]) Settled() bool {
	return t.settled
}

// drain awaits an abandoned task with a short grace period and logs the
// settlement, so a background LLM call never finishes unobserved.
func (t *task[T]) drain(requestID string) {
	if t == nil || t.settled {
		return
	}
	graceCtx, cancel := context.WithTimeout(context.Background(), taskDrainGrace)
	defer cancel()

	if _, err := t.Await(graceCtx); err != nil {
		slog.Debug("parallel_task_settled", "request_id", requestID, "task", t.name, "error", err)
		return
	}
	slog.Debug("parallel_task_settled", "request_id", requestID, "task", t.name)
}

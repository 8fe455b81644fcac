package task

import (
	"context"
	"time"
)

// Awake signals whoever is blocked on this task that its state advanced.
// The channel is buffered so handlers never block; coalescing consecutive
// signals is fine because waiters re-read task state after every wakeup.
func (t *Task) Awake() {
	select {
	case t.awake <- struct{}{}:
	default:
	}
}

// Wait blocks until the next state advance or the timeout. It returns true
// when a signal arrived. Pollers that only re-read status can skip this
// entirely.
func (t *Task) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.awake:
		return true
	case <-timer.C:
		return false
	}
}

// WaitFinished blocks until the task reaches a terminal state, the timeout
// elapses or ctx is cancelled. It reports whether the task is terminal on
// return.
func (t *Task) WaitFinished(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if t.IsTerminal() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return t.IsTerminal()
		}
		timer := time.NewTimer(remaining)
		select {
		case <-t.awake:
			timer.Stop()
		case <-timer.C:
			return t.IsTerminal()
		case <-ctx.Done():
			timer.Stop()
			return t.IsTerminal()
		}
	}
}

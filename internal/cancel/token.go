// Package cancel implements the cooperative cancellation token shared by
// JobCoordinator and every WorkflowInterpreter it drives (spec.md §5
// "Cancellation semantics"): monotonic, polled rather than thread-killed.
package cancel

import (
	"context"
	"sync/atomic"
	"time"
)

// Token is a shared, monotonic cancellation flag. Once set it never clears;
// callers create a new Token for the next run.
type Token struct {
	flag atomic.Bool
}

func New() *Token { return &Token{} }

// Cancel sets the token. Safe to call more than once or concurrently.
func (t *Token) Cancel() { t.flag.Store(true) }

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool { return t.flag.Load() }

// Sleep waits for d, polling the token and ctx in slices no longer than
// 500ms (spec.md §5: "Sleeps longer than 500ms must be implemented as
// repeated short sleeps checking the token"). Returns false if interrupted
// before d elapsed.
func (t *Token) Sleep(ctx context.Context, d time.Duration) bool {
	const slice = 500 * time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()

	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return !t.Cancelled()
		}
		step := slice
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
			if t.Cancelled() {
				return false
			}
		}
		if time.Now().After(deadline) {
			return !t.Cancelled()
		}
	}
}

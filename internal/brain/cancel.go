package brain

import "sync/atomic"

// CancelToken is the cooperative stop flag shared by every pipeline
// stage. It is polled at stage boundaries and before each model call;
// an in-flight network call is not forcibly aborted by the flag alone
// (the gateway's own timeout covers hung requests).
type CancelToken struct {
	stopped atomic.Bool
}

func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel sets the flag. Safe to call from any goroutine, repeatedly.
func (t *CancelToken) Cancel() {
	t.stopped.Store(true)
}

// Cancelled reports whether the run should stop. A nil token never
// cancels, so callers can pass nil in tests and one-shot tools.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.stopped.Load()
}

package push

import (
	"sync/atomic"
)

// CompletionFunc is the continuation the delivering system waits on.
type CompletionFunc func(Outcome)

// Completion wraps a CompletionFunc with a single-fire guard. Any number of
// goroutines may race to Complete it; exactly one wins.
type Completion struct {
	fired      atomic.Bool
	dispatched atomic.Bool
	fn      CompletionFunc
	outcome Outcome
	done    chan struct{}
}

// NewCompletion wraps fn. A nil fn is allowed for callers that only wait on Done.
func NewCompletion(fn CompletionFunc) *Completion {
	return &Completion{fn: fn, done: make(chan struct{})}
}

// Complete invokes the continuation with o if nobody has yet. It reports
// whether this call was the one that fired.
func (c *Completion) Complete(o Outcome) bool {
	if !c.fired.CompareAndSwap(false, true) {
		return false
	}
	c.outcome = o
	defer close(c.done)
	if c.fn != nil {
		c.fn(o)
	}
	return true
}

// Fired reports whether the continuation has been claimed.
func (c *Completion) Fired() bool { return c.fired.Load() }

// MarkDispatched claims the single dispatch of the event owning c. It
// reports false when the event was dispatched before.
func (c *Completion) MarkDispatched() bool {
	return c.dispatched.CompareAndSwap(false, true)
}

// Done is closed after the continuation has returned.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Outcome is only meaningful after Done is closed.
func (c *Completion) Outcome() Outcome {
	<-c.done
	return c.outcome
}

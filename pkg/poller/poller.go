// Package poller provides a cancellable, timeout-bounded repeated-check
// primitive used by every network-backed timeline item.
package poller

import (
	"fmt"
	"sync"
	"time"
)

// CheckFunc performs one check against the remote side.
type CheckFunc func() (interface{}, error)

// PendingFunc reports whether a check result is still pending and the poll
// should keep running.
type PendingFunc func(interface{}) bool

// TickFunc is invoked with every still-pending result, typically to emit
// progress updates. It must not block.
type TickFunc func(interface{})

// Options configures a poll.
type Options struct {
	// Check is invoked immediately and then once per Interval.
	Check CheckFunc

	// IsPending decides whether the poll keeps running after a successful
	// check. A nil IsPending resolves on the first successful check.
	IsPending PendingFunc

	// OnTick receives every pending result. Optional.
	OnTick TickFunc

	// Interval between checks. Defaults to 5 seconds.
	Interval time.Duration

	// Timeout bounds the whole poll. Defaults to 10 minutes.
	Timeout time.Duration
}

// Outcome is the final, exactly-once result of a poll.
type Outcome struct {
	// Value is the last check result when the poll resolved normally.
	Value interface{}

	// Err is set when the poll resolved through a check error or timeout.
	Err error

	// TimedOut is true when the poll exceeded its timeout.
	TimedOut bool

	// Cancelled is true when Cancel was called before resolution.
	Cancelled bool
}

// Handle represents a running poll. All methods are safe for concurrent use.
type Handle struct {
	resolveOnce sync.Once
	cancelOnce  sync.Once
	done        chan struct{}
	cancelled   chan struct{}
	outcome     Outcome
}

// Poll starts a poll and returns its handle. The first check runs right away;
// further checks run on a fixed period until the result is no longer pending,
// the check fails, the timeout elapses or Cancel is called. Whichever path
// wins resolves the poll exactly once; late ticks after resolution are no-ops.
func Poll(opts Options) *Handle {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}

	h := &Handle{
		done:      make(chan struct{}),
		cancelled: make(chan struct{}),
	}

	go h.run(opts)

	return h
}

// Wait blocks until the poll resolves and returns its outcome.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

// Done returns a channel closed once the poll has resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel resolves the poll as cancelled. Safe to call more than once and
// after the poll has already resolved.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() {
		close(h.cancelled)
	})
	h.resolve(Outcome{Cancelled: true})
}

// resolve settles the poll. Only the first caller wins; everyone else is a
// no-op. This is the single most important invariant of the engine: a user
// cancel, a late network response and a timeout all race to resolve the same
// awaited outcome.
func (h *Handle) resolve(outcome Outcome) {
	h.resolveOnce.Do(func() {
		h.outcome = outcome
		close(h.done)
	})
}

func (h *Handle) run(opts Options) {
	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	// Immediate first check before the ticker kicks in.
	if h.step(opts) {
		return
	}

	for {
		select {
		case <-h.done:
			return
		case <-h.cancelled:
			h.resolve(Outcome{Cancelled: true})
			return
		case <-deadline.C:
			h.resolve(Outcome{
				Err:      fmt.Errorf("poll timed out after %s", opts.Timeout),
				TimedOut: true,
			})
			return
		case <-ticker.C:
			if h.step(opts) {
				return
			}
		}
	}
}

// step performs one check and reports whether the poll has resolved. No
// check starts after resolution; select picks ready cases at random, so a
// tick can still win against an already-closed done channel.
func (h *Handle) step(opts Options) bool {
	select {
	case <-h.done:
		return true
	default:
	}

	result, err := opts.Check()
	if err != nil {
		h.resolve(Outcome{Err: err})
		return true
	}

	if opts.IsPending != nil && opts.IsPending(result) {
		if opts.OnTick != nil {
			opts.OnTick(result)
		}
		return false
	}

	h.resolve(Outcome{Value: result})
	return true
}

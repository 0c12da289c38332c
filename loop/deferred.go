package loop

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// State of a Deferred
type State int

const (
	Pending State = iota
	Resolved
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Deferred is a result that settles exactly once. Resolve and Reject may be called from any
// goroutine; settlement itself happens on the loop in call order. Settling a second time raises
// a SignalMultipleSettlement, and a rejection nobody observes by the end of the task that
// processed it raises a SignalUnhandledRejection.
type Deferred struct {
	loop  *Loop
	calls atomic.Int32

	// owned by the loop goroutine
	state     State
	reason    any
	cause     error
	observers []func(rejected bool, reason any)
	observed  bool
	reported  bool
}

// NewDeferred creates a pending Deferred bound to the loop
func (l *Loop) NewDeferred() *Deferred {
	return &Deferred{loop: l}
}

// Resolved returns a Deferred that resolves on the next turn of the loop
func (l *Loop) Resolved() *Deferred {
	d := l.NewDeferred()
	d.Resolve()
	return d
}

// Rejected returns a Deferred that rejects with reason on the next turn of the loop
func (l *Loop) Rejected(reason any) *Deferred {
	d := l.NewDeferred()
	d.Reject(reason)
	return d
}

// Delay returns a Deferred that resolves once d has elapsed on the loop clock
func (l *Loop) Delay(d time.Duration) *Deferred {
	out := l.NewDeferred()
	l.AfterFunc(d, out.Resolve)
	return out
}

// Promise runs executor synchronously with the settle functions of a new Deferred.
// A panic before settling rejects the Deferred; a panic after settling is a multiple settlement.
func (l *Loop) Promise(executor func(resolve func(), reject func(reason any))) *Deferred {
	d := l.NewDeferred()
	func() {
		defer func() {
			if v := recover(); v != nil {
				if d.calls.Load() > 0 {
					l.Raise(Signal{
						Kind:  SignalMultipleSettlement,
						Value: v,
						Err:   errors.Wrap(withStack(v), "deferred executor panicked after settling"),
					})
					return
				}
				d.reject(v, withStack(v))
			}
		}()
		executor(d.Resolve, d.Reject)
	}()
	return d
}

// Resolve settles d successfully
func (d *Deferred) Resolve() {
	d.calls.Add(1)
	site := errors.New("deferred resolved after it was already settled")
	d.loop.Post(func() { d.settle(Resolved, nil, nil, site) })
}

// Reject settles d with a failure reason, usually an error
func (d *Deferred) Reject(reason any) {
	d.reject(reason, withStack(reason))
}

func (d *Deferred) reject(reason any, cause error) {
	d.calls.Add(1)
	site := errors.Wrap(cause, "deferred rejected after it was already settled")
	d.loop.Post(func() { d.settle(Rejected, reason, cause, site) })
}

func (d *Deferred) settle(s State, reason any, cause, site error) {
	if d.state != Pending {
		d.loop.dispatch(Signal{Kind: SignalMultipleSettlement, Value: reason, Err: site})
		return
	}
	d.state, d.reason, d.cause = s, reason, cause
	for _, fn := range d.observers {
		d.notify(fn)
	}
	d.observers = nil
	if s == Rejected && !d.observed {
		d.loop.Post(d.checkHandled)
	}
}

func (d *Deferred) checkHandled() {
	if d.observed || d.reported {
		return
	}
	d.reported = true
	d.loop.dispatch(Signal{Kind: SignalUnhandledRejection, Value: d.reason, Err: d.cause})
}

// Observe registers fn to run as a loop task once d settles, and marks a rejection of d as
// handled. It must be called on the loop goroutine.
func (d *Deferred) Observe(fn func(rejected bool, reason any)) {
	d.observed = true
	if d.state == Pending {
		d.observers = append(d.observers, fn)
		return
	}
	d.notify(fn)
}

func (d *Deferred) notify(fn func(rejected bool, reason any)) {
	rejected, reason := d.state == Rejected, d.reason
	d.loop.Post(func() { fn(rejected, reason) })
}

// State returns the settlement state; it must be read on the loop goroutine
func (d *Deferred) State() State {
	return d.state
}

// Reason returns the rejection reason, or nil
func (d *Deferred) Reason() any {
	return d.reason
}

// Cause returns the rejection reason as an error carrying the stack of the Reject call, or nil
func (d *Deferred) Cause() error {
	return d.cause
}

// Then returns a Deferred that settles like d after running fn on resolution.
// A rejection of d is passed through without calling fn.
func (d *Deferred) Then(fn func() error) *Deferred {
	next := d.loop.NewDeferred()
	d.Observe(func(rejected bool, reason any) {
		if rejected {
			next.Reject(reason)
			return
		}
		if err := fn(); err != nil {
			next.Reject(err)
			return
		}
		next.Resolve()
	})
	return next
}

package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/tree"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/pkg/errors"
)

// nodeState tracks one attempt of a test body or one hook invocation
type nodeState int

const (
	statePending nodeState = iota
	stateRunning
	stateSettled
	stateTimedOut
	stateErrored
)

func (s nodeState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateRunning:
		return "running"
	case stateSettled:
		return "settled"
	case stateTimedOut:
		return "timed-out"
	case stateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// node is the execution of a single body. It is current from invocation until the finalize
// marker queued behind its outcome runs, and attributed signals land on it during that window.
// All fields are owned by the loop goroutine except doneCalls.
type node struct {
	r     *Runner
	title string
	body  tree.Body
	hook  *tree.Hook
	run   *testRun // test being run or bracketed, nil for suite hooks

	state      nodeState
	hasOutcome bool
	finalized  bool
	skipped    bool
	errs       []*types.ErrorRecord

	start    time.Time
	armedAt  time.Time
	timeout  time.Duration
	slow     time.Duration
	timer    *loop.Timer
	gen      int
	duration time.Duration

	doneCalls atomic.Int32
}

func newNode(r *Runner, title string, body tree.Body, settings tree.Settings) *node {
	return &node{
		r:       r,
		title:   title,
		body:    body,
		timeout: settings.Timeout,
		slow:    settings.Slow,
	}
}

// execute invokes the body and pumps the loop until the node is finalized
func (n *node) execute(ctx context.Context) error {
	lp := n.r.loop
	n.start = lp.Clock().Now()
	n.state = stateRunning
	n.r.current = n
	n.arm(n.timeout)
	n.r.log.Debug("Running", "node", n.title, "timeout", n.timeout)

	rc := &runContext{n: n}
	d, p, err := n.invoke(rc)
	switch {
	case p != nil:
		n.onPanic(p)
	case err != nil:
		if errors.Is(err, types.ErrSkipped) {
			n.onSkip()
		} else {
			n.outcome(types.NewErrorRecord(types.ErrorKindAssertion, err))
		}
	case n.body.Kind() == tree.ParamCallback:
		// outcome arrives through done
	case n.body.Async() && d != nil:
		d.Observe(func(rejected bool, reason any) {
			if !rejected {
				n.outcome(nil)
				return
			}
			if isSkip(reason) {
				n.onSkip()
				return
			}
			cause := d.Cause()
			if cause == nil {
				cause = reasonError(reason)
			}
			n.outcome(types.NewErrorRecord(types.ErrorKindAssertion, cause).WithRaw(reason))
		})
	default:
		n.outcome(nil)
	}

	return lp.RunUntil(ctx, func() bool { return n.finalized })
}

// recovered is a panic caught while invoking a body
type recovered struct {
	value any
	err   error // carries the stack of the panicking frames
}

// invoke calls the body, recovering a panic. The stack is captured inside the deferred call,
// while the panicking frames are still on it.
func (n *node) invoke(rc *runContext) (d *loop.Deferred, p *recovered, err error) {
	defer func() {
		if v := recover(); v != nil {
			p = &recovered{value: v, err: n.panicError(v)}
		}
	}()
	d, err = n.body.Invoke(rc, n.done)
	return d, nil, err
}

// done is the completion handle given to callback bodies. It may be called from any goroutine.
func (n *node) done(err error) {
	lp := n.r.loop
	if n.doneCalls.Add(1) > 1 {
		lp.Raise(loop.Signal{
			Kind: loop.SignalMultipleSettlement,
			Err:  errors.Errorf("done() called multiple times in %s", n.title),
		})
		return
	}
	if err != nil {
		err = errors.WithStack(err)
	}
	lp.Post(func() {
		if err == nil {
			n.outcome(nil)
			return
		}
		if errors.Is(err, types.ErrSkipped) {
			n.onSkip()
			return
		}
		n.outcome(types.NewErrorRecord(types.ErrorKindAssertion, err))
	})
}

func (n *node) onPanic(p *recovered) {
	if isSkip(p.value) {
		n.onSkip()
		return
	}
	if n.swallowed() {
		n.outcome(n.swallowedRecord(p.err, p.value))
		return
	}
	n.outcome(types.NewErrorRecord(types.ErrorKindAssertion, p.err).WithRaw(p.value))
}

// swallowed reports whether a callback body already signalled completion
func (n *node) swallowed() bool {
	return n.body.Kind() == tree.ParamCallback && n.doneCalls.Load() > 0
}

func (n *node) swallowedRecord(err error, raw any) *types.ErrorRecord {
	n.r.log.Warn("Body panicked after signalling completion", "node", n.title, "err", err)
	return types.NewErrorRecord(types.ErrorKindSwallowedThenThrown,
		errors.Wrap(err, "done() was called, then the body panicked")).WithRaw(raw)
}

func (n *node) panicError(v any) error {
	if err, ok := v.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Errorf("%v", v)
}

// onSkip ends the node as skipped. It returns false when the node already has an outcome.
func (n *node) onSkip() bool {
	if n.hasOutcome {
		return false
	}
	n.skipped = true
	n.outcome(nil)
	return true
}

// arm (re-)starts the timeout from now. A zero timeout disables it.
func (n *node) arm(d time.Duration) {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.gen++
	n.timeout = d
	n.armedAt = n.r.loop.Clock().Now()
	if d <= 0 {
		return
	}
	gen := n.gen
	n.timer = n.r.loop.AfterFunc(d, func() { n.expire(gen) })
}

func (n *node) expired(now time.Time) bool {
	return n.timeout > 0 && now.Sub(n.armedAt) >= n.timeout
}

func (n *node) expire(gen int) {
	if n.hasOutcome || gen != n.gen {
		return
	}
	n.timedOut(n.r.loop.Clock().Now())
}

func (n *node) timedOut(now time.Time) {
	n.hasOutcome = true
	n.state = stateTimedOut
	n.duration = now.Sub(n.start)
	rec := types.NewErrorRecord(types.ErrorKindTimeout, fmt.Errorf(
		"timeout of %dms exceeded in %s: call done() or settle the returned deferred",
		n.timeout.Milliseconds(), n.title))
	rec.Elapsed = n.duration
	n.errs = append(n.errs, rec)
	n.r.log.Warn("Timed out", "node", n.title, "timeout", n.timeout, "elapsed", n.duration)
	n.r.loop.Post(n.finalize)
}

// outcome records the body's own result. A nil record means success. Only the first outcome
// counts; an outcome processed once the timeout has elapsed becomes a timeout.
func (n *node) outcome(rec *types.ErrorRecord) {
	if n.hasOutcome {
		n.r.log.Debug("Discarding late completion", "node", n.title, "state", n.state)
		return
	}
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	now := n.r.loop.Clock().Now()
	if n.expired(now) {
		n.timedOut(now)
		return
	}

	n.hasOutcome = true
	n.duration = now.Sub(n.start)
	switch {
	case rec != nil:
		n.errs = append(n.errs, rec)
		n.state = stateErrored
	case n.state == stateRunning:
		n.state = stateSettled
	}
	n.r.loop.Post(n.finalize)
}

// attach adds an out-of-band failure to the node
func (n *node) attach(rec *types.ErrorRecord) {
	n.errs = append(n.errs, rec)
	if n.state == stateRunning || n.state == stateSettled {
		n.state = stateErrored
	}
}

func (n *node) finalize() {
	n.finalized = true
	if n.r.current == n {
		n.r.current = nil
	}
}

func (n *node) failed() bool {
	return len(n.errs) > 0
}

// passedSkip reports whether the body asked to be skipped and nothing failed
func (n *node) passedSkip() bool {
	return n.skipped && !n.failed()
}

func isSkip(v any) bool {
	err, ok := v.(error)
	return ok && errors.Is(err, types.ErrSkipped)
}

func reasonError(reason any) error {
	if err, ok := reason.(error); ok {
		return err
	}
	return fmt.Errorf("%v", reason)
}

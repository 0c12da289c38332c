// Package loop provides the single-threaded task queue test bodies run on.
//
// Exactly one goroutine pumps a Loop (through RunUntil or Drain); every other goroutine,
// timer callback and deferred settlement only posts tasks to it. Tasks run in posting order,
// which gives the engine a deterministic interleaving of completions, timeouts and
// out-of-band failures.
//
// Timers armed through the loop are kept in deadline order and fire as tasks. When the loop
// clock is a *clock.Mock the loop runs in virtual time: whenever it has nothing to do it moves
// the mock clock to the next deadline instead of waiting, so timer races resolve the same way
// on every run.
//
// Failures that escape a task, a loop timer or a goroutine started with Go are raised as
// Signals and handed to the installed SignalHandler. Without a handler a signal panics the
// pumping goroutine.
package loop

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// ErrHandlerInstalled is returned when a second signal handler is installed on a loop
var ErrHandlerInstalled = errors.New("loop: signal handler already installed")

// SignalKind identifies the class of an out-of-band failure
type SignalKind int

const (
	SignalPanic SignalKind = iota
	SignalUnhandledRejection
	SignalMultipleSettlement
)

func (k SignalKind) String() string {
	switch k {
	case SignalPanic:
		return "panic"
	case SignalUnhandledRejection:
		return "unhandled-rejection"
	case SignalMultipleSettlement:
		return "multiple-settlement"
	default:
		return "unknown"
	}
}

// Signal is an out-of-band failure raised through the loop
type Signal struct {
	Kind  SignalKind
	Value any    // Panic value or rejection reason
	Err   error  // Value as an error, with the stack captured where the failure was observed
	Seq   uint64 // Sequence number of the task that delivered the signal
}

// SignalHandler receives signals on the loop goroutine
type SignalHandler func(Signal)

type task struct {
	seq uint64
	fn  func()
}

// Loop is a FIFO task queue driven by a single goroutine
type Loop struct {
	clock clock.Clock

	mu       sync.Mutex
	queue    []task
	timers   timerHeap
	nextSeq  uint64
	timerSeq uint64
	handler  SignalHandler

	wake    chan struct{}
	current uint64 // seq of the running task, only touched by the pumping goroutine
}

// New creates a loop using clk for timers. A nil clock means the wall clock.
func New(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clock: clk,
		wake:  make(chan struct{}, 1),
	}
}

// Clock returns the clock timers of this loop are armed on
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Post queues fn to run on the loop. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.nextSeq++
	l.queue = append(l.queue, task{seq: l.nextSeq, fn: fn})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Seq returns the sequence number of the task currently running, or of the last task run
func (l *Loop) Seq() uint64 {
	return l.current
}

func (l *Loop) next() (task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return task{}, false
	}
	t := l.queue[0]
	l.queue[0] = task{}
	l.queue = l.queue[1:]
	return t, true
}

// RunUntil runs tasks, blocking while nothing is due, until done reports true.
// done is checked before every task. It returns the context error if ctx ends first.
func (l *Loop) RunUntil(ctx context.Context, done func() bool) error {
	for !done() {
		l.fireDue()
		if t, ok := l.next(); ok {
			l.exec(t)
			continue
		}
		if err := l.idle(ctx); err != nil {
			return err
		}
	}
	return nil
}

// idle waits for a post or the next timer deadline. In virtual time it advances the clock to
// the deadline instead.
func (l *Loop) idle(ctx context.Context) error {
	deadline, ok := l.nextDeadline()
	if !ok {
		select {
		case <-l.wake:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if mock, virtual := l.clock.(*clock.Mock); virtual {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if deadline.After(mock.Now()) {
			mock.Set(deadline)
		}
		return nil
	}

	timer := l.clock.Timer(deadline.Sub(l.clock.Now()))
	defer timer.Stop()
	select {
	case <-l.wake:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Drain runs queued tasks and due timers until nothing is left to run now, including tasks
// posted while draining. Timers due in the future stay armed.
func (l *Loop) Drain() {
	for {
		l.fireDue()
		t, ok := l.next()
		if !ok {
			return
		}
		l.exec(t)
	}
}

func (l *Loop) exec(t task) {
	l.current = t.seq
	defer func() {
		if v := recover(); v != nil {
			l.dispatch(Signal{Kind: SignalPanic, Value: v, Err: withStack(v)})
		}
	}()
	t.fn()
}

// SetSignalHandler installs h as the receiver of all signals raised through the loop
func (l *Loop) SetSignalHandler(h SignalHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handler != nil {
		return ErrHandlerInstalled
	}
	l.handler = h
	return nil
}

// ClearSignalHandler removes the installed handler, if any
func (l *Loop) ClearSignalHandler() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = nil
}

// HasSignalHandler reports whether a handler is installed
func (l *Loop) HasSignalHandler() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler != nil
}

// Raise queues sig for delivery on the loop. It is safe to call from any goroutine.
func (l *Loop) Raise(sig Signal) {
	l.Post(func() { l.dispatch(sig) })
}

// dispatch delivers sig synchronously; it must run on the loop goroutine
func (l *Loop) dispatch(sig Signal) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()

	sig.Seq = l.current
	if h == nil {
		panic(sig.Err)
	}
	h(sig)
}

// Go runs fn on a new goroutine. A panic in fn is raised as a signal instead of crashing.
func (l *Loop) Go(fn func()) {
	go func() {
		defer func() {
			if v := recover(); v != nil {
				l.Raise(Signal{Kind: SignalPanic, Value: v, Err: withStack(v)})
			}
		}()
		fn()
	}()
}

// withStack turns a panic value or rejection reason into an error carrying the current stack
func withStack(v any) error {
	if err, ok := v.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Errorf("%v", v)
}

package tree

import (
	"time"

	"github.com/ethereum-optimism/infra/op-harness/loop"
)

// ParamKind is the parameter a body declares
type ParamKind int

const (
	ParamNone     ParamKind = iota // body takes nothing
	ParamCallback                  // body takes a completion handle
	ParamContext                   // body takes the run context
)

func (k ParamKind) String() string {
	switch k {
	case ParamNone:
		return "none"
	case ParamCallback:
		return "callback"
	case ParamContext:
		return "context"
	default:
		return "unknown"
	}
}

// Done is the completion handle passed to callback bodies. A nil error passes.
type Done func(err error)

// RunContext is handed to context bodies for the duration of one attempt of one node.
// Calls made after that attempt has finished are ignored.
type RunContext interface {
	// Timeout replaces the timeout of the running node, re-arming it from now. 0 disables it.
	Timeout(d time.Duration)
	// Slow replaces the slow threshold of the running node
	Slow(d time.Duration)
	// Retries replaces the retry budget of the current test
	Retries(n int)
	// Skip stops the body and marks the current test, or the tests the hook guards, as pending.
	// It does not return.
	Skip()
	// Test returns the test being run, or the test a per-test hook brackets. Nil for suite hooks.
	Test() *Test
	// Attempt returns the 1-based attempt number of the current test
	Attempt() int
	// Loop returns the loop the body runs on
	Loop() *loop.Loop
}

// Body is a unit of user code attached to a test or hook. The zero Body marks a pending test.
type Body struct {
	kind  ParamKind
	async bool
	fn    func(rc RunContext, done Done) (*loop.Deferred, error)
}

// Sync declares a body that finishes when it returns
func Sync(fn func() error) Body {
	return Body{
		kind: ParamNone,
		fn: func(RunContext, Done) (*loop.Deferred, error) {
			return nil, fn()
		},
	}
}

// Async declares a body whose outcome is the settlement of the returned deferred
func Async(fn func() *loop.Deferred) Body {
	return Body{
		kind:  ParamNone,
		async: true,
		fn: func(RunContext, Done) (*loop.Deferred, error) {
			return fn(), nil
		},
	}
}

// Callback declares a body that finishes when it calls done
func Callback(fn func(done Done)) Body {
	return Body{
		kind: ParamCallback,
		fn: func(_ RunContext, done Done) (*loop.Deferred, error) {
			fn(done)
			return nil, nil
		},
	}
}

// Context declares a body that receives the run context and finishes when it returns
func Context(fn func(rc RunContext) error) Body {
	return Body{
		kind: ParamContext,
		fn: func(rc RunContext, _ Done) (*loop.Deferred, error) {
			return nil, fn(rc)
		},
	}
}

// ContextAsync declares a body that receives the run context and whose outcome is the
// settlement of the returned deferred
func ContextAsync(fn func(rc RunContext) *loop.Deferred) Body {
	return Body{
		kind:  ParamContext,
		async: true,
		fn: func(rc RunContext, _ Done) (*loop.Deferred, error) {
			return fn(rc), nil
		},
	}
}

// Kind returns the declared parameter kind
func (b Body) Kind() ParamKind {
	return b.kind
}

// IsZero reports whether no code is attached
func (b Body) IsZero() bool {
	return b.fn == nil
}

// Async reports whether the body returns a deferred result
func (b Body) Async() bool {
	return b.async
}

// Invoke calls the body. Panics are left to the caller.
func (b Body) Invoke(rc RunContext, done Done) (*loop.Deferred, error) {
	return b.fn(rc, done)
}

// Package interceptor owns the subscription to out-of-band failures raised through a loop:
// panics escaping tasks, timers and loop goroutines, rejections nobody observed, and deferred
// results settled more than once.
//
// An Interceptor is installed on one loop for the lifetime of a run. While it is started,
// every signal is normalized into an error record and offered to the target, which attributes
// it to the node it is currently running. Signals the target declines are buffered until the
// run flushes them. A signal arriving while the interceptor is stopped is fatal.
package interceptor

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
)

// Target receives normalized signals while the interceptor is running.
// Attribute returns false when no node can take the record. Skip is called for a skip raised
// from a loop task and returns false when no node is running.
type Target interface {
	Attribute(rec *types.ErrorRecord) bool
	Skip() bool
}

// Interceptor normalizes and routes loop signals. All methods except Install and Teardown
// must be called on the loop goroutine.
type Interceptor struct {
	loop *loop.Loop
	log  log.Logger
	exit func(code int)

	installed bool
	running   bool
	target    Target
	buffered  []*types.ErrorRecord
}

// Option configures an Interceptor
type Option func(*Interceptor)

// WithLogger sets the logger used for buffered and fatal signals
func WithLogger(l log.Logger) Option {
	return func(i *Interceptor) {
		i.log = l
	}
}

// WithExit replaces the function used to terminate the process on a fatal signal
func WithExit(fn func(code int)) Option {
	return func(i *Interceptor) {
		i.exit = fn
	}
}

// New creates an interceptor for lp. It does nothing until installed.
func New(lp *loop.Loop, opts ...Option) *Interceptor {
	i := &Interceptor{
		loop: lp,
		log:  log.New("component", "interceptor"),
		exit: os.Exit,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install subscribes the interceptor to the loop's signals
func (i *Interceptor) Install() error {
	if i.installed {
		return nil
	}
	if err := i.loop.SetSignalHandler(i.handle); err != nil {
		return fmt.Errorf("installing interceptor: %w", err)
	}
	i.installed = true
	return nil
}

// Teardown removes the subscription. Signals raised afterwards crash the loop.
func (i *Interceptor) Teardown() {
	if !i.installed {
		return
	}
	i.loop.ClearSignalHandler()
	i.installed = false
}

// Installed reports whether the interceptor is subscribed
func (i *Interceptor) Installed() bool {
	return i.installed
}

// Start routes signals to target until Stop
func (i *Interceptor) Start(target Target) {
	i.target = target
	i.running = true
}

// Stop ends routing; any later signal terminates the process
func (i *Interceptor) Stop() {
	i.running = false
	i.target = nil
}

// Running reports whether signals are being routed
func (i *Interceptor) Running() bool {
	return i.running
}

// Buffered returns the signals no node took, in arrival order
func (i *Interceptor) Buffered() []*types.ErrorRecord {
	return i.buffered
}

// Flush returns the buffered records and empties the buffer
func (i *Interceptor) Flush() []*types.ErrorRecord {
	out := i.buffered
	i.buffered = nil
	return out
}

func (i *Interceptor) handle(sig loop.Signal) {
	if errors.Is(sig.Err, types.ErrSkipped) {
		if i.running && i.target != nil && i.target.Skip() {
			return
		}
		i.log.Debug("Ignoring skip raised outside a body", "seq", sig.Seq)
		return
	}
	rec := Normalize(sig)

	if !i.running {
		i.log.Error("Uncaught error while no run is active", "kind", rec.Kind, "err", rec.Message, "location", rec.Location)
		metrics.RecordUncaught(rec.Kind, false)
		i.exit(exitcodes.RuntimeErr)
		return
	}

	if i.target != nil && i.target.Attribute(rec) {
		metrics.RecordUncaught(rec.Kind, true)
		return
	}
	i.log.Warn("Uncaught error outside any test", "kind", rec.Kind, "err", rec.Message, "location", rec.Location, "seq", sig.Seq)
	metrics.RecordUncaught(rec.Kind, false)
	i.buffered = append(i.buffered, rec)
}

// Normalize turns a loop signal into an error record
func Normalize(sig loop.Signal) *types.ErrorRecord {
	var kind types.ErrorKind
	switch sig.Kind {
	case loop.SignalUnhandledRejection:
		kind = types.ErrorKindUnhandledRejection
	case loop.SignalMultipleSettlement:
		kind = types.ErrorKindMultipleSettlement
	default:
		kind = types.ErrorKindUncaughtException
	}
	return types.NewErrorRecord(kind, sig.Err).WithRaw(sig.Value)
}

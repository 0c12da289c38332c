package reporting

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"
)

// Fanout delivers every emitted event to a list of sinks. A failing sink is logged and
// remembered but never stops the run or the other sinks.
type Fanout struct {
	log   log.Logger
	sinks []EventSink
	errs  *multierror.Error
}

var _ types.Emitter = (*Fanout)(nil)

// NewFanout creates a fanout over sinks
func NewFanout(logger log.Logger, sinks ...EventSink) *Fanout {
	return &Fanout{log: logger, sinks: sinks}
}

// Sinks returns the sinks in delivery order
func (f *Fanout) Sinks() []EventSink {
	return f.sinks
}

// Emit implements types.Emitter
func (f *Fanout) Emit(ev *types.Event) {
	for _, sink := range f.sinks {
		if err := sink.Consume(ev); err != nil {
			err = fmt.Errorf("%T failed to consume %s event: %w", sink, ev.Type, err)
			f.log.Warn("Reporter error", "event", ev.Type, "seq", ev.Seq, "err", err)
			metrics.RecordErrorDetails("sink", err)
			f.errs = multierror.Append(f.errs, err)
		}
	}
}

// Complete completes every sink and returns all errors seen since the fanout was created
func (f *Fanout) Complete(runID string) error {
	for _, sink := range f.sinks {
		if err := sink.Complete(runID); err != nil {
			err = fmt.Errorf("%T failed to complete: %w", sink, err)
			f.log.Warn("Reporter error", "err", err)
			metrics.RecordErrorDetails("sink", err)
			f.errs = multierror.Append(f.errs, err)
		}
	}
	return f.errs.ErrorOrNil()
}

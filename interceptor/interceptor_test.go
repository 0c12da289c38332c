package interceptor

import (
	"errors"
	"testing"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTarget accepts records and skips while accept is set
type fakeTarget struct {
	accept   bool
	received []*types.ErrorRecord
	skips    int
}

func (f *fakeTarget) Skip() bool {
	if !f.accept {
		return false
	}
	f.skips++
	return true
}

func (f *fakeTarget) Attribute(rec *types.ErrorRecord) bool {
	if !f.accept {
		return false
	}
	f.received = append(f.received, rec)
	return true
}

func newTestInterceptor(t *testing.T) (*loop.Loop, *Interceptor, *[]int) {
	t.Helper()
	lp := loop.New(nil)
	var exits []int
	ic := New(lp,
		WithLogger(log.NewLogger(log.DiscardHandler())),
		WithExit(func(code int) { exits = append(exits, code) }),
	)
	require.NoError(t, ic.Install())
	t.Cleanup(ic.Teardown)
	return lp, ic, &exits
}

func TestInstallTeardown(t *testing.T) {
	lp := loop.New(nil)
	ic := New(lp)
	require.NoError(t, ic.Install())
	assert.True(t, ic.Installed())
	assert.True(t, lp.HasSignalHandler())
	require.NoError(t, ic.Install(), "installing twice is a no-op")

	other := New(lp)
	err := other.Install()
	require.Error(t, err)
	assert.ErrorIs(t, err, loop.ErrHandlerInstalled)

	ic.Teardown()
	assert.False(t, ic.Installed())
	assert.False(t, lp.HasSignalHandler())
	require.NoError(t, other.Install())
	other.Teardown()
}

func TestSignalsAreAttributedToTarget(t *testing.T) {
	lp, ic, exits := newTestInterceptor(t)
	target := &fakeTarget{accept: true}
	ic.Start(target)

	lp.Post(func() { panic("thrown") })
	lp.Rejected(errors.New("ignored rejection"))
	lp.Drain()

	require.Len(t, target.received, 2)
	assert.Equal(t, types.ErrorKindUncaughtException, target.received[0].Kind)
	assert.Equal(t, "thrown", target.received[0].Message)
	assert.Equal(t, "thrown", target.received[0].Raw)
	assert.True(t, target.received[0].Uncaught)
	assert.Equal(t, types.ErrorKindUnhandledRejection, target.received[1].Kind)
	assert.True(t, target.received[1].Rejection)
	assert.Nil(t, target.received[1].Raw)
	assert.Empty(t, ic.Buffered())
	assert.Empty(t, *exits)
}

func TestDeclinedSignalsAreBufferedInOrder(t *testing.T) {
	lp, ic, exits := newTestInterceptor(t)
	target := &fakeTarget{}
	ic.Start(target)

	lp.Post(func() { panic("first") })
	d := lp.NewDeferred()
	d.Observe(func(bool, any) {})
	d.Resolve()
	d.Resolve()
	lp.Post(func() { panic("third") })
	lp.Drain()

	buffered := ic.Buffered()
	require.Len(t, buffered, 3)
	assert.Equal(t, "first", buffered[0].Message)
	assert.Equal(t, types.ErrorKindMultipleSettlement, buffered[1].Kind)
	assert.True(t, buffered[1].Multiple)
	assert.Equal(t, "third", buffered[2].Message)
	assert.Empty(t, *exits)

	flushed := ic.Flush()
	assert.Equal(t, buffered, flushed)
	assert.Empty(t, ic.Buffered())
}

func TestSignalWhileStoppedIsFatal(t *testing.T) {
	lp, ic, exits := newTestInterceptor(t)
	ic.Start(&fakeTarget{accept: true})
	ic.Stop()
	assert.False(t, ic.Running())

	lp.Post(func() { panic("after the run") })
	lp.Drain()

	assert.Equal(t, []int{exitcodes.RuntimeErr}, *exits)
	assert.Empty(t, ic.Buffered())
}

func TestSkipSignals(t *testing.T) {
	tests := []struct {
		name   string
		accept bool
		stop   bool
		skips  int
	}{
		{name: "forwarded to the target", accept: true, skips: 1},
		{name: "dropped when no node runs", accept: false},
		{name: "dropped while stopped", accept: true, stop: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lp, ic, exits := newTestInterceptor(t)
			target := &fakeTarget{accept: tc.accept}
			ic.Start(target)
			if tc.stop {
				ic.Stop()
			}

			lp.Post(func() { panic(types.ErrSkipped) })
			lp.Drain()

			assert.Equal(t, tc.skips, target.skips)
			assert.Empty(t, target.received)
			assert.Empty(t, ic.Buffered())
			assert.Empty(t, *exits)
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		sig  loop.Signal
		kind types.ErrorKind
		raw  any
	}{
		{
			name: "panic with a string",
			sig:  loop.Signal{Kind: loop.SignalPanic, Value: "oops", Err: errors.New("oops")},
			kind: types.ErrorKindUncaughtException,
			raw:  "oops",
		},
		{
			name: "panic with an error",
			sig:  loop.Signal{Kind: loop.SignalPanic, Value: errors.New("typed"), Err: errors.New("typed")},
			kind: types.ErrorKindUncaughtException,
		},
		{
			name: "rejection with a number",
			sig:  loop.Signal{Kind: loop.SignalUnhandledRejection, Value: 42, Err: errors.New("42")},
			kind: types.ErrorKindUnhandledRejection,
			raw:  42,
		},
		{
			name: "multiple settlement",
			sig:  loop.Signal{Kind: loop.SignalMultipleSettlement, Err: errors.New("twice")},
			kind: types.ErrorKindMultipleSettlement,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Normalize(tt.sig)
			assert.Equal(t, tt.kind, rec.Kind)
			assert.Equal(t, tt.raw, rec.Raw)
			assert.True(t, rec.Uncaught)
			assert.Equal(t, tt.sig.Err.Error(), rec.Message)
		})
	}
}

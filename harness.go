package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/reporting"
	"github.com/ethereum-optimism/infra/op-harness/runner"
	"github.com/ethereum-optimism/infra/op-harness/service"
	"github.com/ethereum-optimism/infra/op-harness/tree"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// DeclareFunc registers suites, tests and hooks on the root suite. Bodies that schedule work
// must do so on lp.
type DeclareFunc func(root *tree.Suite, lp *loop.Loop)

// Harness implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Harness{}

// Harness declares a tree, runs it once and reports the outcome
type Harness struct {
	config   *Config
	version  string
	clock    clock.Clock
	registry *reporting.Registry
	service  *service.Service

	root   *tree.Suite
	loop   *loop.Loop
	runner *runner.Runner
	fanout *reporting.Fanout
	result *types.RunResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// Option customizes a Harness
type Option func(h *Harness)

// WithClock runs the loop on clk instead of the wall clock
func WithClock(clk clock.Clock) Option {
	return func(h *Harness) {
		h.clock = clk
	}
}

// WithRegistry builds the reporters from reg instead of the built-in registry
func WithRegistry(reg *reporting.Registry) Option {
	return func(h *Harness) {
		h.registry = reg
	}
}

// WithService serves health and metrics endpoints while the harness runs
func WithService(svc *service.Service) Option {
	return func(h *Harness) {
		h.service = svc
	}
}

func New(config *Config, version string, declare DeclareFunc, shutdownCallback func(error), opts ...Option) (*Harness, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if declare == nil {
		return nil, errors.New("declare function is required")
	}
	if err := config.Check(); err != nil {
		return nil, err
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	h := &Harness{
		config:           config,
		version:          version,
		clock:            clock.New(),
		registry:         reporting.NewRegistry(),
		shutdownCallback: shutdownCallback,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.loop = loop.New(h.clock)
	h.root = tree.NewRoot()
	declare(h.root, h.loop)

	runID := uuid.New().String()
	filter, err := config.Filter()
	if err != nil {
		return nil, err
	}

	var emitter types.Emitter
	if !config.List {
		sinks, err := h.registry.Build(config.Reporters, reporting.Options{
			Out:              config.Out,
			LogDir:           config.LogDir,
			RunID:            runID,
			Log:              config.Log,
			Clock:            h.clock,
			ProgressInterval: config.ProgressInterval,
			NoColor:          config.NoColor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create reporters: %w", err)
		}
		h.fanout = reporting.NewFanout(config.Log.New("component", "reporting"), sinks...)
		emitter = h.fanout
	}

	settings := config.Settings()
	h.runner, err = runner.New(runner.Config{
		Root:          h.root,
		Loop:          h.loop,
		Emitter:       emitter,
		Log:           config.Log,
		RunID:         runID,
		Filter:        filter,
		Defaults:      &settings,
		Bail:          config.Bail,
		AllowUncaught: config.AllowUncaught,
		ReportRetries: config.ReportRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}

	config.Log.Debug("Created harness",
		"runID", runID,
		"version", version,
		"planned", h.runner.Plan().Total(),
		"reporters", config.Reporters,
		"list", config.List)
	return h, nil
}

// Start runs the declared tests once, prints the outcome and triggers shutdown.
// Start implements the cliapp.Lifecycle interface.
func (h *Harness) Start(ctx context.Context) (err error) {
	// an out-of-band failure with no interceptor installed unwinds to here
	defer func() {
		if r := recover(); r != nil {
			h.config.Log.Error("Runtime error occurred", "error", r)
			err = NewRuntimeError(fmt.Errorf("run crashed: %v", r))
		}
	}()

	h.running.Store(true)
	if h.service != nil {
		h.service.Start(ctx)
	}

	if h.config.List {
		h.printList()
		go h.shutdownCallback(nil)
		return nil
	}

	h.config.Log.Info("Running all tests...", "runID", h.runner.RunID())
	result, err := h.runner.Run(ctx)
	if err != nil {
		h.config.Log.Error("Runtime error running tests", "error", err)
		return NewRuntimeError(err)
	}
	h.result = result

	if err := h.fanout.Complete(result.RunID); err != nil {
		h.config.Log.Warn("Reporters failed", "error", err)
	}
	fmt.Fprintln(h.config.Out, result.String())
	h.config.Log.Info("Test run completed", "run_id", result.RunID, "status", result.Status)

	if !result.Passed() {
		h.config.Log.Warn("Test run completed with failures", "exitCode", exitcodes.TestFailure)
		return NewTestFailureError(result)
	}
	go h.shutdownCallback(nil)
	return nil
}

func (h *Harness) printList() {
	for _, t := range h.runner.Plan().Tests() {
		fmt.Fprintln(h.config.Out, t.FullTitle())
	}
}

// Stop tears the harness down.
// Stop implements the cliapp.Lifecycle interface.
func (h *Harness) Stop(ctx context.Context) error {
	h.config.Log.Info("Stopping op-harness")
	if !h.running.Load() {
		h.config.Log.Debug("Harness already stopped, nothing to do")
		return nil
	}
	h.running.Store(false)

	h.runner.Close()
	if h.service != nil {
		h.service.Shutdown()
	}
	h.config.Log.Info("op-harness stopped successfully")
	return nil
}

// Stopped returns true if the harness is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (h *Harness) Stopped() bool {
	return !h.running.Load()
}

// Result returns the outcome of the last run, or nil
func (h *Harness) Result() *types.RunResult {
	return h.result
}

// RunID returns the identifier of the run
func (h *Harness) RunID() string {
	return h.runner.RunID()
}

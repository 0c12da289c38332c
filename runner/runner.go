package runner

import (
	"context"
	"fmt"

	"github.com/ethereum-optimism/infra/op-harness/interceptor"
	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/tree"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config holds configuration for creating a new runner
type Config struct {
	Root        *tree.Suite
	Loop        *loop.Loop               // Loop bodies run on; a wall-clock loop when nil
	Interceptor *interceptor.Interceptor // Created on Loop when nil and AllowUncaught is unset
	Emitter     types.Emitter            // Receives the event stream; may be nil
	Log         log.Logger
	RunID       string // Generated when empty

	Filter        tree.Filter
	Defaults      *tree.Settings // tree.DefaultSettings() when nil
	Bail          bool // Stop after the first test that finally fails
	AllowUncaught bool // Do not install the interceptor; out-of-band failures crash the run
	ReportRetries bool // Emit test-retry events for failed attempts that are retried
}

// Runner walks a sealed tree on a single loop and reports every node through the emitter
type Runner struct {
	root     *tree.Suite
	loop     *loop.Loop
	ic       *interceptor.Interceptor
	emitter  types.Emitter
	log      log.Logger
	tracer   trace.Tracer
	filter   tree.Filter
	defaults tree.Settings
	runID    string

	bail          bool
	reportRetries bool

	// owned by the loop goroutine during Run
	plan         *tree.Plan
	current      *node
	seq          uint64
	bailed       bool
	stats        types.RunStats
	results      []*types.TestResult
	hookFailures []*types.ErrorRecord
}

// New creates a runner instance
func New(cfg Config) (*Runner, error) {
	if cfg.Root == nil {
		return nil, fmt.Errorf("root suite is required")
	}
	if !cfg.Root.IsRoot() {
		return nil, fmt.Errorf("suite %q is not the root of its tree", cfg.Root.FullTitle())
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Loop == nil {
		cfg.Loop = loop.New(nil)
	}
	if cfg.Interceptor == nil && !cfg.AllowUncaught {
		cfg.Interceptor = interceptor.New(cfg.Loop, interceptor.WithLogger(cfg.Log.New("component", "interceptor")))
	}
	defaults := tree.DefaultSettings()
	if cfg.Defaults != nil {
		defaults = *cfg.Defaults
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	cfg.Log.Debug("runner.New()", "runID", cfg.RunID, "bail", cfg.Bail, "allowUncaught", cfg.AllowUncaught,
		"timeout", defaults.Timeout, "slow", defaults.Slow, "retries", defaults.Retries)

	return &Runner{
		root:          cfg.Root,
		loop:          cfg.Loop,
		ic:            cfg.Interceptor,
		emitter:       cfg.Emitter,
		log:           cfg.Log,
		tracer:        otel.Tracer("test runner"),
		filter:        cfg.Filter,
		defaults:      defaults,
		runID:         cfg.RunID,
		bail:          cfg.Bail,
		reportRetries: cfg.ReportRetries,
	}, nil
}

// RunID returns the identifier stamped on every event of the run
func (r *Runner) RunID() string {
	return r.runID
}

// Loop returns the loop bodies run on
func (r *Runner) Loop() *loop.Loop {
	return r.loop
}

// Plan seals the tree and returns the run set without executing anything
func (r *Runner) Plan() *tree.Plan {
	r.root.Seal()
	if r.plan == nil {
		r.plan = tree.NewPlan(r.root, r.filter)
	}
	return r.plan
}

// Run walks the tree once. It must be called from the goroutine that owns the loop.
// Test and hook failures are reported in the result; the error is only set when the run
// could not complete, e.g. because ctx ended.
func (r *Runner) Run(ctx context.Context) (*types.RunResult, error) {
	plan := r.Plan()
	if r.ic != nil {
		if err := r.ic.Install(); err != nil {
			return nil, err
		}
		r.ic.Start(r)
		defer r.ic.Stop()
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("run %s", r.runID))
	defer span.End()

	clk := r.loop.Clock()
	r.seq, r.bailed, r.results, r.hookFailures = 0, false, nil, nil
	r.stats = types.RunStats{Planned: plan.Total(), StartTime: clk.Now()}
	r.log.Info("Starting run", "runID", r.runID, "planned", plan.Total())
	r.emit(&types.Event{Type: types.EventRunStart, Stats: r.snapshot()})

	if _, err := r.runSuite(ctx, r.root); err != nil {
		return nil, fmt.Errorf("running suites: %w", err)
	}

	// Anything still queued settles now; whatever is raised is no longer attributable
	r.current = nil
	r.loop.Drain()

	var uncaught []*types.ErrorRecord
	if r.ic != nil {
		uncaught = r.ic.Flush()
	}
	r.reportUncaught(uncaught)

	r.stats.EndTime = clk.Now()
	r.stats.Duration = r.stats.EndTime.Sub(r.stats.StartTime)
	r.stats.Uncaught = len(uncaught)
	result := &types.RunResult{
		RunID:        r.runID,
		Stats:        r.stats,
		Tests:        r.results,
		HookFailures: r.hookFailures,
		Errors:       uncaught,
	}
	result.Status = types.TestStatusPass
	if !result.Passed() {
		result.Status = types.TestStatusFail
	}

	r.emit(&types.Event{Type: types.EventRunEnd, Stats: r.snapshot(), Errors: uncaught})
	metrics.RecordRun(r.runID, string(result.Status), result.Stats)
	r.log.Info("Run finished", "runID", r.runID, "summary", result.String())
	return result, nil
}

// Close removes the interceptor subscription from the loop
func (r *Runner) Close() {
	if r.ic != nil {
		r.ic.Teardown()
	}
}

// Attribute implements interceptor.Target. It attaches rec to the current node unless that
// node has already been finalized.
func (r *Runner) Attribute(rec *types.ErrorRecord) bool {
	n := r.current
	if n == nil || n.finalized {
		return false
	}
	if rec.Kind == types.ErrorKindUncaughtException && n.swallowed() {
		rec = n.swallowedRecord(rec.Err, rec.Raw)
	}
	r.log.Warn("Attributing uncaught error", "node", n.title, "kind", rec.Kind, "err", rec.Message)
	n.attach(rec)
	return true
}

// Skip implements interceptor.Target. It skips the current node when a body called Skip from
// a loop task instead of its own invocation.
func (r *Runner) Skip() bool {
	n := r.current
	if n == nil || n.finalized {
		return false
	}
	r.log.Debug("Skipping from a deferred task", "node", n.title)
	return n.onSkip()
}

// reportUncaught flushes signals no node took as a synthetic trailing suite
func (r *Runner) reportUncaught(uncaught []*types.ErrorRecord) {
	if len(uncaught) == 0 {
		return
	}
	suite := &types.SuiteInfo{
		Title:     UncaughtSuiteTitle,
		FullTitle: UncaughtSuiteTitle,
		Path:      []string{UncaughtSuiteTitle},
		Depth:     1,
		Planned:   len(uncaught),
		Synthetic: true,
	}
	r.emit(&types.Event{Type: types.EventSuiteStart, Suite: suite})
	for i, rec := range uncaught {
		title := fmt.Sprintf("%s #%d", UncaughtTestTitle, i+1)
		r.emit(&types.Event{
			Type:  types.EventTestFail,
			Suite: suite,
			Test: &types.TestResult{
				Title:     title,
				FullTitle: UncaughtSuiteTitle + " " + title,
				Path:      suite.Path,
				Status:    types.TestStatusFail,
				Errors:    []*types.ErrorRecord{rec},
			},
			Errors: []*types.ErrorRecord{rec},
		})
	}
	r.emit(&types.Event{Type: types.EventSuiteEnd, Suite: suite})
}

func (r *Runner) emit(ev *types.Event) {
	r.seq++
	ev.Seq = r.seq
	ev.RunID = r.runID
	ev.Time = r.loop.Clock().Now()
	if r.emitter != nil {
		r.emitter.Emit(ev)
	}
}

func (r *Runner) snapshot() *types.RunStats {
	stats := r.stats
	return &stats
}

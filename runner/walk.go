package runner

import (
	"context"
	"fmt"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/tree"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"go.opentelemetry.io/otel/attribute"
)

// abort carries a hook failure up to the suite owning the hook. Every suite it passes
// through reports its remaining tests as failed.
type abort struct {
	owner *tree.Suite
	rec   *types.ErrorRecord
}

// hookResult is the outcome of one hook invocation
type hookResult struct {
	failure *types.ErrorRecord // HookFailure record, nil when the hook passed
	skipped bool
}

// runSuite runs the hooks, tests and child suites of s in order. It returns the abort still
// travelling upwards, if any.
func (r *Runner) runSuite(ctx context.Context, s *tree.Suite) (*abort, error) {
	if !r.plan.HasWork(s) || r.bailed {
		return nil, nil
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("suite %s", suiteName(s)))
	defer span.End()
	span.SetAttributes(attribute.Int("planned", r.plan.Count(s)))
	r.enterSuite(s)

	var (
		ab      *abort
		err     error
		skipped bool
	)
	runnable := r.plan.HasRunnable(s)
	if runnable {
		for _, h := range s.Hooks(tree.BeforeAll) {
			res, err := r.runHook(ctx, h, nil)
			if err != nil {
				return nil, err
			}
			if res.skipped {
				skipped = true
				break
			}
			if res.failure != nil {
				ab = &abort{owner: s, rec: res.failure}
				break
			}
		}
	}

	tests, suites := s.Tests(), s.Suites()
	ti, si := 0, 0
	switch {
	case ab != nil:
	case skipped:
		r.log.Info("Suite skipped from a before all hook", "suite", s.FullTitle())
		r.settle(tests, suites, types.TestStatusSkip, nil)
		ti, si = len(tests), len(suites)
	default:
		for ; ti < len(tests) && ab == nil && !r.bailed; ti++ {
			if !r.plan.Includes(tests[ti]) {
				continue
			}
			if ab, err = r.runTest(ctx, tests[ti]); err != nil {
				return nil, err
			}
		}
		for ; si < len(suites) && ab == nil && !r.bailed; si++ {
			if ab, err = r.runSuite(ctx, suites[si]); err != nil {
				return nil, err
			}
		}
	}

	if ab != nil {
		r.settle(tests[ti:], suites[si:], types.TestStatusFail, ab.rec)
	}

	if runnable {
		for _, h := range s.Hooks(tree.AfterAll) {
			res, err := r.runHook(ctx, h, nil)
			if err != nil {
				return nil, err
			}
			if res.failure != nil {
				break
			}
		}
	}
	r.leaveSuite(s)

	if ab != nil && ab.owner == s {
		span.SetAttributes(attribute.String("aborted", ab.rec.Message))
		return nil, nil
	}
	return ab, nil
}

// runTest runs every attempt of t and reports its final result
func (r *Runner) runTest(ctx context.Context, t *tree.Test) (*abort, error) {
	if r.plan.Pending(t) {
		r.finish(t, &types.TestResult{Status: types.TestStatusPending})
		return nil, nil
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s", t.Title))
	defer span.End()

	settings := t.Effective(r.defaults)
	run := &testRun{test: t, retries: settings.Retries}
	r.emit(&types.Event{Type: types.EventTestStart, Test: newResult(t)})

	for {
		run.attempt++
		body, ab, err := r.runAttempt(ctx, run, settings)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Int("attempts", run.attempt))

		res := &types.TestResult{Attempts: run.attempt}
		if body != nil {
			res.Duration = body.duration
			res.Slow = body.slow > 0 && body.duration > body.slow
			res.Errors = body.errs
		}

		switch {
		case body == nil && ab != nil:
			// a before each hook failed, the body never ran
			res.Status = types.TestStatusFail
			res.Errors = []*types.ErrorRecord{ab.rec}
		case body == nil:
			res.Status = types.TestStatusSkip
		case body.passedSkip():
			res.Status = types.TestStatusSkip
		case !body.failed():
			res.Status = types.TestStatusPass
		case ab == nil && run.attempt <= run.retries:
			res.Status = types.TestStatusFail
			r.retry(t, res)
			continue
		default:
			res.Status = types.TestStatusFail
		}

		if res.Failed() {
			span.SetAttributes(attribute.String("error", res.Err().Error()))
		}
		r.finish(t, res)
		return ab, nil
	}
}

// runAttempt runs one before each / body / after each bracket. The body node is nil when a
// before each hook failed or skipped the test.
func (r *Runner) runAttempt(ctx context.Context, run *testRun, settings tree.Settings) (*node, *abort, error) {
	t := run.test
	lineage := t.Suite().Lineage()

	var (
		ab      *abort
		skipped bool
		level   = -1
	)
before:
	for i, s := range lineage {
		level = i
		for _, h := range s.Hooks(tree.BeforeEach) {
			res, err := r.runHook(ctx, h, run)
			if err != nil {
				return nil, nil, err
			}
			if res.skipped {
				skipped = true
				break before
			}
			if res.failure != nil {
				ab = &abort{owner: s, rec: res.failure}
				break before
			}
		}
	}

	var body *node
	if ab == nil && !skipped {
		body = newNode(r, t.FullTitle(), t.Body(), settings)
		body.run = run
		if err := body.execute(ctx); err != nil {
			return nil, nil, err
		}
	}

after:
	for i := level; i >= 0; i-- {
		s := lineage[i]
		for _, h := range s.Hooks(tree.AfterEach) {
			res, err := r.runHook(ctx, h, run)
			if err != nil {
				return nil, nil, err
			}
			if res.failure != nil {
				if ab == nil {
					ab = &abort{owner: s, rec: res.failure}
				}
				break after
			}
		}
	}
	return body, ab, nil
}

// runHook executes h and reports its failure. run is the bracketed test for each-hooks.
func (r *Runner) runHook(ctx context.Context, h *tree.Hook, run *testRun) (hookResult, error) {
	s := h.Suite()
	title := h.FullTitle()
	if run != nil {
		title = fmt.Sprintf("%s for %q", title, run.test.Title)
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("hook %s", h.Title()))
	defer span.End()

	n := newNode(r, title, h.Body(), s.Effective(r.defaults))
	n.hook = h
	n.run = run
	if err := n.execute(ctx); err != nil {
		return hookResult{}, err
	}
	if n.passedSkip() {
		return hookResult{skipped: true}, nil
	}
	if !n.failed() {
		return hookResult{}, nil
	}

	rec := hookFailure(title, n.errs)
	span.SetAttributes(attribute.String("error", rec.Message))
	r.reportHookFailure(h, run, rec, n.errs)
	return hookResult{failure: rec}, nil
}

// hookFailure wraps the first error of a hook into a HookFailure record
func hookFailure(title string, errs []*types.ErrorRecord) *types.ErrorRecord {
	cause := errs[0]
	rec := types.NewErrorRecord(types.ErrorKindHook, fmt.Errorf("%s failed: %w", title, cause))
	rec.Cause = cause
	return rec
}

func (r *Runner) reportHookFailure(h *tree.Hook, run *testRun, rec *types.ErrorRecord, errs []*types.ErrorRecord) {
	info := &types.HookInfo{
		Kind:  h.Kind().String(),
		Title: h.Title(),
		Suite: h.Suite().FullTitle(),
	}
	if run != nil {
		info.Test = run.test.FullTitle()
	}
	r.stats.HookFailures++
	r.hookFailures = append(r.hookFailures, rec)
	r.log.Error("Hook failed", "hook", info.Title, "suite", info.Suite, "test", info.Test, "err", rec.Message)
	metrics.RecordHookFailure(r.runID, info.Kind)

	events := append([]*types.ErrorRecord{rec}, errs[1:]...)
	r.emit(&types.Event{Type: types.EventHookFail, Suite: r.suiteInfo(h.Suite()), Hook: info, Errors: events})
}

// settle reports every planned test under tests and suites without running anything.
// Pending tests stay pending; the others get status and, for failures, rec.
func (r *Runner) settle(tests []*tree.Test, suites []*tree.Suite, status types.TestStatus, rec *types.ErrorRecord) {
	for _, t := range tests {
		if !r.plan.Includes(t) {
			continue
		}
		res := &types.TestResult{Status: status}
		if r.plan.Pending(t) {
			res.Status = types.TestStatusPending
		} else if rec != nil {
			res.Errors = []*types.ErrorRecord{rec}
		}
		r.finish(t, res)
	}
	for _, s := range suites {
		if !r.plan.HasWork(s) {
			continue
		}
		r.enterSuite(s)
		r.settle(s.Tests(), s.Suites(), status, rec)
		r.leaveSuite(s)
	}
}

// retry reports a failed attempt that will be run again
func (r *Runner) retry(t *tree.Test, res *types.TestResult) {
	fillResult(t, res)
	r.log.Info("Retrying test", "test", res.FullTitle, "attempt", res.Attempts, "err", res.Err())
	if r.reportRetries {
		r.emit(&types.Event{Type: types.EventTestRetry, Suite: r.suiteInfo(t.Suite()), Test: res.Clone()})
	}
}

// finish records the final result of t and emits it
func (r *Runner) finish(t *tree.Test, res *types.TestResult) {
	fillResult(t, res)
	r.stats.Record(res)
	r.results = append(r.results, res)
	metrics.RecordTest(r.runID, t.Suite().FullTitle(), res.Status, res.Attempts)

	ev := &types.Event{Suite: r.suiteInfo(t.Suite()), Test: res.Clone(), Errors: res.Errors}
	switch res.Status {
	case types.TestStatusPass:
		ev.Type = types.EventTestPass
		r.log.Debug("Test passed", "test", res.FullTitle, "attempts", res.Attempts, "duration", res.Duration)
	case types.TestStatusFail:
		ev.Type = types.EventTestFail
		r.log.Warn("Test failed", "test", res.FullTitle, "attempts", res.Attempts, "err", res.Err())
	default:
		ev.Type = types.EventTestPending
		r.log.Debug("Test pending", "test", res.FullTitle, "status", res.Status)
	}
	r.emit(ev)

	if res.Failed() && r.bail && !r.bailed {
		r.log.Info("Bailing after first failure", "test", res.FullTitle)
		r.bailed = true
	}
}

func (r *Runner) enterSuite(s *tree.Suite) {
	if s.IsRoot() {
		return
	}
	r.stats.Suites++
	r.emit(&types.Event{Type: types.EventSuiteStart, Suite: r.suiteInfo(s)})
}

func (r *Runner) leaveSuite(s *tree.Suite) {
	if s.IsRoot() {
		return
	}
	r.emit(&types.Event{Type: types.EventSuiteEnd, Suite: r.suiteInfo(s)})
}

func (r *Runner) suiteInfo(s *tree.Suite) *types.SuiteInfo {
	return &types.SuiteInfo{
		Title:     s.Title,
		FullTitle: s.FullTitle(),
		Path:      s.Path(),
		Depth:     s.Depth(),
		Planned:   r.plan.Count(s),
	}
}

func newResult(t *tree.Test) *types.TestResult {
	res := &types.TestResult{}
	fillResult(t, res)
	return res
}

func fillResult(t *tree.Test, res *types.TestResult) {
	res.Title = t.Title
	res.FullTitle = t.FullTitle()
	res.Path = t.Path()
}

func suiteName(s *tree.Suite) string {
	if s.IsRoot() {
		return "root"
	}
	return s.FullTitle()
}

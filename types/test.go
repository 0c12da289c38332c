package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TestStatus represents the possible outcomes of a test
type TestStatus string

const (
	TestStatusPass    TestStatus = "passed"
	TestStatusFail    TestStatus = "failed"
	TestStatusSkip    TestStatus = "skipped" // skipped at runtime through the run context
	TestStatusPending TestStatus = "pending" // declared without a body or under skip mode
)

// TestResult captures the final outcome of a single test, after retries
type TestResult struct {
	Title     string         `json:"title"`
	FullTitle string         `json:"fullTitle"`
	Path      []string       `json:"path,omitempty"` // Suite titles from the root down to the owning suite
	Status    TestStatus     `json:"status,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Attempts  int            `json:"attempts"`
	Slow      bool           `json:"slow,omitempty"`
	Errors    []*ErrorRecord `json:"errors,omitempty"`
}

// Failed reports whether the test ended in failure
func (tr *TestResult) Failed() bool {
	return tr.Status == TestStatusFail
}

// Err joins all attributed errors, or returns nil when there are none
func (tr *TestResult) Err() error {
	if len(tr.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(tr.Errors))
	for _, rec := range tr.Errors {
		errs = append(errs, rec)
	}
	return errors.Join(errs...)
}

// Clone returns a copy of the result that is safe to hand to event consumers
func (tr *TestResult) Clone() *TestResult {
	out := *tr
	out.Path = append([]string(nil), tr.Path...)
	out.Errors = append([]*ErrorRecord(nil), tr.Errors...)
	return &out
}

// RunStats tracks aggregate counts for a run
type RunStats struct {
	Planned      int           `json:"planned"`
	Suites       int           `json:"suites"`
	Tests        int           `json:"tests"`
	Passes       int           `json:"passes"`
	Failures     int           `json:"failures"`
	Pending      int           `json:"pending"`
	Skipped      int           `json:"skipped"`
	HookFailures int           `json:"hookFailures"`
	Uncaught     int           `json:"uncaught"`
	StartTime    time.Time     `json:"start"`
	EndTime      time.Time     `json:"end"`
	Duration     time.Duration `json:"duration"`
}

// Record counts a finished test result
func (s *RunStats) Record(tr *TestResult) {
	s.Tests++
	switch tr.Status {
	case TestStatusPass:
		s.Passes++
	case TestStatusFail:
		s.Failures++
	case TestStatusPending:
		s.Pending++
	case TestStatusSkip:
		s.Skipped++
	}
}

// RunResult captures the complete outcome of a run
type RunResult struct {
	RunID        string
	Status       TestStatus
	Stats        RunStats
	Tests        []*TestResult
	HookFailures []*ErrorRecord
	Errors       []*ErrorRecord // Signals that were never attributed to a test, in arrival order
}

// Passed is true iff every planned test passed, no hook failed and no unattributed error remains
func (r *RunResult) Passed() bool {
	return r.Stats.Failures == 0 && r.Stats.HookFailures == 0 && len(r.Errors) == 0
}

// FailedTests returns the results that ended in failure
func (r *RunResult) FailedTests() []*TestResult {
	var failed []*TestResult
	for _, tr := range r.Tests {
		if tr.Failed() {
			failed = append(failed, tr)
		}
	}
	return failed
}

// String returns a one-line summary of the run
func (r *RunResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d passing, %d failing, %d pending", r.Stats.Passes, r.Stats.Failures, r.Stats.Pending)
	if r.Stats.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", r.Stats.Skipped)
	}
	if r.Stats.HookFailures > 0 {
		fmt.Fprintf(&b, ", %d hook failures", r.Stats.HookFailures)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, ", %d uncaught errors outside tests", len(r.Errors))
	}
	fmt.Fprintf(&b, " (%s)", r.Stats.Duration.Truncate(time.Millisecond))
	return b.String()
}

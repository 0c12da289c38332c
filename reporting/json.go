package reporting

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// JSONReport is the document written by the json sink
type JSONReport struct {
	RunID        string             `json:"runId"`
	Stats        *types.RunStats    `json:"stats"`
	Tests        []*JSONTest        `json:"tests"`
	Passes       []*JSONTest        `json:"passes"`
	Failures     []*JSONTest        `json:"failures"`
	Pending      []*JSONTest        `json:"pending"`
	HookFailures []*JSONHookFailure `json:"hookFailures,omitempty"`
	Errors       []*JSONError       `json:"errors,omitempty"` // Errors outside any test
}

// JSONTest is a finished test
type JSONTest struct {
	Title     string           `json:"title"`
	FullTitle string           `json:"fullTitle"`
	Status    types.TestStatus `json:"status"`
	Duration  int64            `json:"duration"` // Milliseconds
	Attempts  int              `json:"attempts"`
	Slow      bool             `json:"slow,omitempty"`
	Errors    []*JSONError     `json:"errors,omitempty"`
}

// JSONHookFailure is a failed hook
type JSONHookFailure struct {
	Kind  string     `json:"kind"`
	Title string     `json:"title"`
	Suite string     `json:"suite"`
	Test  string     `json:"test,omitempty"`
	Error *JSONError `json:"error"`
}

// JSONError is an error record with color codes removed
type JSONError struct {
	Kind     types.ErrorKind `json:"kind"`
	Message  string          `json:"message"`
	Location string          `json:"location,omitempty"`
	Stack    string          `json:"stack,omitempty"`
	Uncaught bool            `json:"uncaught,omitempty"`
	Cause    *JSONError      `json:"cause,omitempty"`
}

// JSONSink writes a single JSON document once the run completes
type JSONSink struct {
	out    io.Writer
	report *JSONReport
}

// NewJSONSink creates a json sink writing to out
func NewJSONSink(out io.Writer) *JSONSink {
	return &JSONSink{out: out, report: &JSONReport{}}
}

// Consume implements EventSink
func (s *JSONSink) Consume(ev *types.Event) error {
	switch ev.Type {
	case types.EventRunStart:
		s.report = &JSONReport{
			RunID:    ev.RunID,
			Tests:    []*JSONTest{},
			Passes:   []*JSONTest{},
			Failures: []*JSONTest{},
			Pending:  []*JSONTest{},
		}
	case types.EventTestPass, types.EventTestFail, types.EventTestPending:
		jt := newJSONTest(ev.Test)
		s.report.Tests = append(s.report.Tests, jt)
		switch ev.Type {
		case types.EventTestPass:
			s.report.Passes = append(s.report.Passes, jt)
		case types.EventTestFail:
			s.report.Failures = append(s.report.Failures, jt)
		default:
			s.report.Pending = append(s.report.Pending, jt)
		}
	case types.EventHookFail:
		hf := &JSONHookFailure{Kind: ev.Hook.Kind, Title: ev.Hook.Title, Suite: ev.Hook.Suite, Test: ev.Hook.Test}
		if len(ev.Errors) > 0 {
			hf.Error = newJSONError(ev.Errors[0])
		}
		s.report.HookFailures = append(s.report.HookFailures, hf)
	case types.EventRunEnd:
		s.report.Stats = ev.Stats
		for _, rec := range ev.Errors {
			s.report.Errors = append(s.report.Errors, newJSONError(rec))
		}
	}
	return nil
}

// Complete implements EventSink
func (s *JSONSink) Complete(string) error {
	if s.report.Stats == nil {
		return fmt.Errorf("run did not end")
	}
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(s.report)
}

func newJSONTest(tr *types.TestResult) *JSONTest {
	jt := &JSONTest{
		Title:     tr.Title,
		FullTitle: tr.FullTitle,
		Status:    tr.Status,
		Duration:  tr.Duration.Milliseconds(),
		Attempts:  tr.Attempts,
		Slow:      tr.Slow,
	}
	for _, rec := range tr.Errors {
		jt.Errors = append(jt.Errors, newJSONError(rec))
	}
	return jt
}

func newJSONError(rec *types.ErrorRecord) *JSONError {
	if rec == nil {
		return nil
	}
	return &JSONError{
		Kind:     rec.Kind,
		Message:  stripansi.Strip(rec.Message),
		Location: rec.Location,
		Stack:    rec.Stack,
		Uncaught: rec.Uncaught,
		Cause:    newJSONError(rec.Cause),
	}
}

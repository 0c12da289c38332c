package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// RuntimeError is an error that kept the run from completing: bad options, an unknown
// reporter, or an uncaught failure crashing the loop while --allow-uncaught is set. It exits
// with code 2.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a run that finished without passing (exit code 1). The counts come
// from the run statistics, so callers can tell failed tests from failed hooks and from errors
// no test took.
type TestFailureError struct {
	RunID        string
	Failures     int
	HookFailures int
	Uncaught     int
}

func (e *TestFailureError) Error() string {
	parts := []string{fmt.Sprintf("%d failing", e.Failures)}
	if e.HookFailures > 0 {
		parts = append(parts, fmt.Sprintf("%d hook failures", e.HookFailures))
	}
	if e.Uncaught > 0 {
		parts = append(parts, fmt.Sprintf("%d uncaught errors outside tests", e.Uncaught))
	}
	return fmt.Sprintf("run %s failed: %s", e.RunID, strings.Join(parts, ", "))
}

// NewTestFailureError summarizes a run that did not pass
func NewTestFailureError(res *types.RunResult) *TestFailureError {
	return &TestFailureError{
		RunID:        res.RunID,
		Failures:     res.Stats.Failures,
		HookFailures: res.Stats.HookFailures,
		Uncaught:     len(res.Errors),
	}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode maps the error returned by the app to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}

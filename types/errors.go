package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ErrorKind classifies a failure
type ErrorKind string

const (
	ErrorKindAssertion           ErrorKind = "assertion"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindHook                ErrorKind = "hook"
	ErrorKindUncaughtException   ErrorKind = "uncaught-exception"
	ErrorKindUnhandledRejection  ErrorKind = "unhandled-rejection"
	ErrorKindMultipleSettlement  ErrorKind = "multiple-settlement"
	ErrorKindSwallowedThenThrown ErrorKind = "swallowed-then-thrown"
)

// ErrSkipped aborts a body that asked to be skipped through its run context
var ErrSkipped = errors.New("skipped")

// ErrorRecord is a normalized failure, carrying enough detail for a reporter to point at its origin
type ErrorRecord struct {
	Kind      ErrorKind     `json:"kind"`
	Message   string        `json:"message"`
	Location  string        `json:"location,omitempty"` // file:line of the first frame outside the engine
	Stack     string        `json:"stack,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"` // Only set for timeouts
	Cause     *ErrorRecord  `json:"cause,omitempty"`   // Only set for hook failures
	Uncaught  bool          `json:"uncaught,omitempty"`
	Rejection bool          `json:"rejection,omitempty"`
	Multiple  bool          `json:"multiple,omitempty"`
	Display   bool          `json:"display,omitempty"`

	Raw any   `json:"-"` // Original value when a non-error was panicked or rejected
	Err error `json:"-"`
}

// NewErrorRecord normalizes err into a record of the given kind
func NewErrorRecord(kind ErrorKind, err error) *ErrorRecord {
	if err == nil {
		err = errors.New("unknown error")
	}
	rec := &ErrorRecord{
		Kind:    kind,
		Message: err.Error(),
		Err:     err,
	}
	rec.Location, rec.Stack = locate(err)
	switch kind {
	case ErrorKindUncaughtException:
		rec.Uncaught = true
	case ErrorKindUnhandledRejection:
		rec.Uncaught = true
		rec.Rejection = true
	case ErrorKindMultipleSettlement:
		rec.Uncaught = true
		rec.Multiple = true
	case ErrorKindSwallowedThenThrown:
		rec.Display = true
	}
	return rec
}

// WithRaw records the original non-error value behind the record
func (e *ErrorRecord) WithRaw(v any) *ErrorRecord {
	if _, isErr := v.(error); !isErr && v != nil {
		e.Raw = v
	}
	return e
}

func (e *ErrorRecord) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *ErrorRecord) Unwrap() error {
	return e.Err
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

const modulePath = "github.com/ethereum-optimism/infra/op-harness/"

// engineFrames are skipped when looking for the frame that caused a failure
var engineFrames = []string{
	"runtime.",
	"github.com/pkg/errors.",
	modulePath + "loop.",
	modulePath + "interceptor.",
	modulePath + "runner.(*",
	modulePath + "tree.",
}

// locate finds the innermost stack trace in the chain and returns the first non-engine frame
func locate(err error) (location, stack string) {
	var st stackTracer
	for e := err; e != nil; e = errors.Unwrap(e) {
		if s, ok := e.(stackTracer); ok {
			st = s
		}
	}
	if st == nil {
		return "", ""
	}
	trace := st.StackTrace()
	if len(trace) == 0 {
		return "", ""
	}

	frame := trace[0]
	for _, f := range trace {
		if !isEngineFrame(f) {
			frame = f
			break
		}
	}
	return frameLocation(frame), fmt.Sprintf("%+v", trace)
}

func isEngineFrame(f pkgerrors.Frame) bool {
	name, _ := splitFrame(f)
	for _, prefix := range engineFrames {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// splitFrame returns the function name and file of a frame
func splitFrame(f pkgerrors.Frame) (string, string) {
	parts := strings.SplitN(fmt.Sprintf("%+s", f), "\n\t", 2)
	if len(parts) != 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func frameLocation(f pkgerrors.Frame) string {
	_, file := splitFrame(f)
	if file == "" {
		return fmt.Sprintf("%v", f)
	}
	return fmt.Sprintf("%s:%d", file, f)
}

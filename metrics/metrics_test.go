package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			assert.Regexp(t, validLabelRegex, result)
		})
	}
}

func TestRecordErrorDetails(t *testing.T) {
	before := testutil.ToFloat64(errorsTotal.WithLabelValues("sink.sample_error"))
	RecordErrorDetails("sink", nil)
	RecordErrorDetails("sink", errors.New("sample error"))
	assert.Equal(t, before+1, testutil.ToFloat64(errorsTotal.WithLabelValues("sink.sample_error")))
}

func TestRecordTest(t *testing.T) {
	RecordTest("run1", "suite", types.TestStatusPass, 1)
	RecordTest("run1", "suite", types.TestStatusFail, 3)
	RecordTest("run1", "suite", types.TestStatus("bogus"), 1)

	assert.Equal(t, float64(1), testutil.ToFloat64(testsTotal.WithLabelValues("run1", "suite", "passed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(testsTotal.WithLabelValues("run1", "suite", "failed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(testsTotal.WithLabelValues("run1", "suite", "bogus")))
	assert.Equal(t, float64(4), testutil.ToFloat64(testAttempts.WithLabelValues("run1")))
}

func TestRecordHookAndUncaught(t *testing.T) {
	RecordHookFailure("run2", "before all")
	RecordUncaught(types.ErrorKindUnhandledRejection, false)

	assert.Equal(t, float64(1), testutil.ToFloat64(hookFailuresTotal.WithLabelValues("run2", "before all")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(uncaughtTotal.WithLabelValues("unhandled-rejection", "false")), float64(1))
}

func TestRecordRun(t *testing.T) {
	RecordRun("run3", "fail", types.RunStats{
		Planned:  4,
		Passes:   2,
		Failures: 1,
		Pending:  1,
		Duration: 1500 * time.Millisecond,
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(runResults.WithLabelValues("run3", "fail")))
	assert.Equal(t, float64(4), testutil.ToFloat64(runTestTotal.WithLabelValues("run3")))
	assert.Equal(t, float64(1), testutil.ToFloat64(runTestPending.WithLabelValues("run3")))
	assert.Equal(t, 1.5, testutil.ToFloat64(runDuration.WithLabelValues("run3")))
}

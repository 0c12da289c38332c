package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "harness"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip, types.TestStatusPending}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of finished tests",
	}, []string{
		"run_id",
		"suite",
		"result",
	})

	testAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_attempts_total",
		Help:      "Count of test attempts, including retries",
	}, []string{
		"run_id",
	})

	hookFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "hook_failures_total",
		Help:      "Count of failed hooks",
	}, []string{
		"run_id",
		"hook",
	})

	uncaughtTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "uncaught_total",
		Help:      "Count of out-of-band failures seen by the interceptor",
	}, []string{
		"kind",
		"attributed",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"run_id",
		"result",
	})

	runTestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_total",
		Help:      "Total number of planned tests",
	}, []string{
		"run_id",
	})

	runTestPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_passed",
		Help:      "Number of passed tests",
	}, []string{
		"run_id",
	})

	runTestFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_failed",
		Help:      "Number of failed tests",
	}, []string{
		"run_id",
	})

	runTestPending = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_pending",
		Help:      "Number of pending or skipped tests",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of test runs in seconds",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordTest(runID string, suite string, result types.TestStatus, attempts int) {
	if !isValidResult(result) {
		log.Error("RecordTest - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "tests_total",
			"run_id", runID,
			"suite", suite,
			"result", result,
			"attempts", attempts)
	}
	testsTotal.WithLabelValues(runID, suite, string(result)).Inc()
	testAttempts.WithLabelValues(runID).Add(float64(attempts))
}

func RecordHookFailure(runID string, hook string) {
	if Debug {
		log.Debug("metric inc",
			"m", "hook_failures_total",
			"run_id", runID,
			"hook", hook)
	}
	hookFailuresTotal.WithLabelValues(runID, hook).Inc()
}

func RecordUncaught(kind types.ErrorKind, attributed bool) {
	if Debug {
		log.Debug("metric inc",
			"m", "uncaught_total",
			"kind", kind,
			"attributed", attributed)
	}
	uncaughtTotal.WithLabelValues(string(kind), fmt.Sprint(attributed)).Inc()
}

func RecordRun(
	runID string,
	result string,
	stats types.RunStats,
) {
	runResults.WithLabelValues(runID, result).Set(1)
	runTestTotal.WithLabelValues(runID).Add(float64(stats.Planned))
	runTestPassed.WithLabelValues(runID).Add(float64(stats.Passes))
	runTestFailed.WithLabelValues(runID).Add(float64(stats.Failures))
	runTestPending.WithLabelValues(runID).Add(float64(stats.Pending + stats.Skipped))
	runDuration.WithLabelValues(runID).Set(stats.Duration.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}

package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/reporting"
	"github.com/ethereum-optimism/infra/op-harness/tree"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

func testConfig(out *bytes.Buffer, reporters ...string) *Config {
	if len(reporters) == 0 {
		reporters = []string{"json"}
	}
	return &Config{
		Timeout:   tree.DefaultTimeout,
		Slow:      tree.DefaultSlow,
		Reporters: reporters,
		LogDir:    "logs",
		NoColor:   true,
		Out:       out,
		Log:       log.NewLogger(log.DiscardHandler()),
	}
}

// shutdownRecorder captures the shutdown callback, which the harness invokes asynchronously
type shutdownRecorder chan error

func (s shutdownRecorder) callback(err error) {
	s <- err
}

func (s shutdownRecorder) called(t *testing.T) bool {
	t.Helper()
	select {
	case err := <-s:
		require.NoError(t, err)
		return true
	case <-time.After(time.Second):
		return false
	}
}

func newTestHarness(t *testing.T, cfg *Config, declare DeclareFunc) (*Harness, shutdownRecorder) {
	t.Helper()
	shutdown := make(shutdownRecorder, 1)
	h, err := New(cfg, "test", declare, shutdown.callback, WithClock(clock.NewMock()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Stop(context.Background())) })
	return h, shutdown
}

func walletSuite(ran *[]string) DeclareFunc {
	body := func(name string) tree.Body {
		return tree.Sync(func() error {
			*ran = append(*ran, name)
			return nil
		})
	}
	return func(root *tree.Suite, lp *loop.Loop) {
		root.Describe("wallet", func(s *tree.Suite) {
			s.It("sends funds", body("sends funds"))
			s.It("receives funds", tree.Async(func() *loop.Deferred {
				*ran = append(*ran, "receives funds")
				return lp.Delay(10 * time.Millisecond)
			}))
		})
		root.Describe("auth", func(s *tree.Suite) {
			s.It("logs in", body("logs in"))
		})
	}
}

func TestNewValidation(t *testing.T) {
	declare := func(*tree.Suite, *loop.Loop) {}

	_, err := New(nil, "v", declare, nil)
	require.Error(t, err)

	_, err = New(testConfig(&bytes.Buffer{}), "v", nil, nil)
	require.Error(t, err)

	bad := testConfig(&bytes.Buffer{})
	bad.Retries = -1
	_, err = New(bad, "v", declare, nil)
	require.Error(t, err)

	_, err = New(testConfig(&bytes.Buffer{}, "nope"), "v", declare, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reporter")
}

func TestHarnessPassingRun(t *testing.T) {
	var out bytes.Buffer
	var ran []string
	h, shutdown := newTestHarness(t, testConfig(&out), walletSuite(&ran))

	require.NoError(t, h.Start(context.Background()))
	assert.False(t, h.Stopped())
	assert.True(t, shutdown.called(t))
	assert.Equal(t, []string{"sends funds", "receives funds", "logs in"}, ran)

	res := h.Result()
	require.NotNil(t, res)
	assert.True(t, res.Passed())
	assert.Equal(t, h.RunID(), res.RunID)
	assert.Equal(t, 3, res.Stats.Passes)

	// the json reporter writes its document, then the harness prints the summary line
	doc, summary, found := strings.Cut(out.String(), "\n}\n")
	require.True(t, found)
	var report reporting.JSONReport
	require.NoError(t, json.Unmarshal([]byte(doc+"\n}"), &report))
	assert.Equal(t, res.RunID, report.RunID)
	assert.Len(t, report.Passes, 3)
	assert.Contains(t, summary, "3 passing, 0 failing, 0 pending")

	require.NoError(t, h.Stop(context.Background()))
	assert.True(t, h.Stopped())
}

func TestHarnessFailingRun(t *testing.T) {
	var out bytes.Buffer
	h, shutdown := newTestHarness(t, testConfig(&out, "tree"), func(root *tree.Suite, lp *loop.Loop) {
		root.It("breaks", tree.Sync(func() error { return errors.New("broken") }))
		root.It("works", tree.Sync(func() error { return nil }))
	})

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Equal(t, exitcodes.TestFailure, ExitCode(err))
	assert.False(t, shutdown.called(t), "a failed run leaves shutdown to the caller")

	assert.Contains(t, out.String(), "1) breaks")
	assert.Contains(t, out.String(), "1 passing")
	assert.Contains(t, out.String(), "1 failing")
	assert.Equal(t, types.TestStatusFail, h.Result().Status)
}

func TestHarnessOptions(t *testing.T) {
	var attempts int
	cfg := testConfig(&bytes.Buffer{})
	cfg.Retries = 2
	cfg.Grep = "flaky"
	cfg.Timeout = 0
	h, _ := newTestHarness(t, cfg, func(root *tree.Suite, lp *loop.Loop) {
		root.It("flaky", tree.Sync(func() error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("attempt %d", attempts)
			}
			return nil
		}))
		root.It("filtered out", tree.Sync(func() error { return errors.New("never runs") }))
	})

	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, 3, attempts)
	require.Len(t, h.Result().Tests, 1)
	assert.Equal(t, 3, h.Result().Tests[0].Attempts)
}

func TestHarnessList(t *testing.T) {
	var out bytes.Buffer
	var ran []string
	cfg := testConfig(&out, "no-such-reporter")
	cfg.List = true
	cfg.FGrep = "funds"
	h, shutdown := newTestHarness(t, cfg, walletSuite(&ran))

	require.NoError(t, h.Start(context.Background()))
	assert.True(t, shutdown.called(t))
	assert.Empty(t, ran)
	assert.Nil(t, h.Result())
	assert.Equal(t, "wallet sends funds\nwallet receives funds\n", out.String())
}

func TestHarnessFileReporter(t *testing.T) {
	var out bytes.Buffer
	cfg := testConfig(&out, "file", "table")
	cfg.LogDir = t.TempDir()
	var ran []string
	h, _ := newTestHarness(t, cfg, walletSuite(&ran))

	require.NoError(t, h.Start(context.Background()))
	runDir := filepath.Join(cfg.LogDir, "testrun-"+h.RunID())
	assert.FileExists(t, filepath.Join(runDir, "events.jsonl"))
	summary, err := os.ReadFile(filepath.Join(runDir, "summary.log"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "wallet sends funds")
	assert.Contains(t, out.String(), "TOTAL")
}

func TestHarnessUncaughtErrorWithoutInterceptor(t *testing.T) {
	cfg := testConfig(&bytes.Buffer{})
	cfg.AllowUncaught = true
	h, _ := newTestHarness(t, cfg, func(root *tree.Suite, lp *loop.Loop) {
		root.It("leaks a panic", tree.Sync(func() error {
			lp.Post(func() {
				lp.Post(func() { panic("boom") })
			})
			return nil
		}))
	})

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Equal(t, exitcodes.RuntimeErr, ExitCode(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestHarnessBufferedUncaughtErrorFailsRun(t *testing.T) {
	var out bytes.Buffer
	h, _ := newTestHarness(t, testConfig(&out), func(root *tree.Suite, lp *loop.Loop) {
		root.It("leaks a panic", tree.Sync(func() error {
			lp.Post(func() {
				lp.Post(func() { panic("boom") })
			})
			return nil
		}))
	})

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	var failure *TestFailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, h.RunID(), failure.RunID)
	assert.Equal(t, 0, failure.Failures)
	assert.Equal(t, 1, failure.Uncaught)
	require.Len(t, h.Result().Errors, 1)
	assert.Equal(t, "boom", h.Result().Errors[0].Message)
	assert.Contains(t, out.String(), "1 uncaught errors outside tests")
}

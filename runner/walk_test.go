package runner

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/tree"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasKind(errs []*types.ErrorRecord, kind types.ErrorKind) *types.ErrorRecord {
	for _, rec := range errs {
		if rec.Kind == kind {
			return rec
		}
	}
	return nil
}

func TestSwallowedThenThrown(t *testing.T) {
	tests := []struct {
		name string
		body func(lp *loop.Loop) tree.Body
	}{
		{
			name: "same call",
			body: func(*loop.Loop) tree.Body {
				return tree.Callback(func(done tree.Done) {
					done(nil)
					panic("after done")
				})
			},
		},
		{
			name: "later task",
			body: func(lp *loop.Loop) tree.Body {
				return tree.Callback(func(done tree.Done) {
					lp.AfterFunc(10*time.Millisecond, func() {
						done(nil)
						panic("after done")
					})
				})
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lp := virtualLoop()
			root := tree.NewRoot()
			root.It("completes then panics", tc.body(lp))

			res, _ := run(t, lp, root)
			tr := result(t, res, "completes then panics")
			assert.Equal(t, types.TestStatusFail, tr.Status)
			rec := hasKind(tr.Errors, types.ErrorKindSwallowedThenThrown)
			require.NotNil(t, rec)
			assert.True(t, rec.Display)
			assert.Contains(t, rec.Message, "after done")
			assert.Equal(t, "after done", rec.Raw)
			assert.Nil(t, hasKind(tr.Errors, types.ErrorKindUncaughtException))
			assert.Empty(t, res.Errors)
		})
	}
}

func TestPanicLocation(t *testing.T) {
	var line int
	root := tree.NewRoot()
	root.It("panics", tree.Sync(func() error {
		_, _, line, _ = runtime.Caller(0)
		panic("kaboom")
	}))

	res, _ := run(t, virtualLoop(), root)
	tr := result(t, res, "panics")
	require.Len(t, tr.Errors, 1)
	assert.Equal(t, types.ErrorKindAssertion, tr.Errors[0].Kind)
	assert.Equal(t, "kaboom", tr.Errors[0].Message)
	assert.True(t, strings.HasSuffix(tr.Errors[0].Location, fmt.Sprintf("walk_test.go:%d", line+1)),
		"location %q", tr.Errors[0].Location)
}

func TestMultipleSettlement(t *testing.T) {
	tests := []struct {
		name string
		body tree.Body
	}{
		{
			name: "resolved twice",
			body: tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
				d := rc.Loop().NewDeferred()
				d.Resolve()
				d.Resolve()
				return d
			}),
		},
		{
			name: "rejected twice",
			body: tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
				d := rc.Loop().NewDeferred()
				d.Reject(errors.New("first"))
				d.Reject(errors.New("second"))
				return d
			}),
		},
		{
			name: "resolved then thrown",
			body: tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
				return rc.Loop().Promise(func(resolve func(), reject func(reason any)) {
					resolve()
					panic("thrown after resolve")
				})
			}),
		},
		{
			name: "done called twice",
			body: tree.Callback(func(done tree.Done) {
				done(nil)
				done(nil)
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tree.NewRoot()
			root.It(tt.name, tt.body)

			res, _ := run(t, virtualLoop(), root)
			tr := result(t, res, tt.name)
			assert.Equal(t, types.TestStatusFail, tr.Status)
			rec := hasKind(tr.Errors, types.ErrorKindMultipleSettlement)
			require.NotNil(t, rec, "errors: %v", tr.Err())
			assert.True(t, rec.Multiple)
			assert.True(t, rec.Uncaught)
			assert.Empty(t, res.Errors, "the signal must be attributed, not buffered")
		})
	}
}

func TestTimeout(t *testing.T) {
	t.Run("late settlement is discarded", func(t *testing.T) {
		root := tree.NewRoot()
		root.It("slow", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			return rc.Loop().Delay(3 * time.Second)
		})).WithTimeout(time.Second)
		// still running when the slow test's deferred resolves
		root.It("next", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			return rc.Loop().Delay(5 * time.Second)
		})).WithTimeout(10 * time.Second)

		res, rec := run(t, virtualLoop(), root)
		slow := result(t, res, "slow")
		assert.Equal(t, types.TestStatusFail, slow.Status)
		require.Len(t, slow.Errors, 1)
		assert.Equal(t, types.ErrorKindTimeout, slow.Errors[0].Kind)
		assert.Equal(t, time.Second, slow.Errors[0].Elapsed)
		assert.Contains(t, slow.Errors[0].Message, "timeout of 1000ms exceeded")
		assert.Equal(t, time.Second, slow.Duration)

		next := result(t, res, "next")
		assert.Equal(t, types.TestStatusPass, next.Status)
		assert.Equal(t, 5*time.Second, next.Duration)
		assert.Empty(t, res.Errors)

		fails := rec.ofType(types.EventTestFail)
		require.Len(t, fails, 1)
		assert.Len(t, fails[0].Test.Errors, 1)
	})

	t.Run("timeout wins a tie", func(t *testing.T) {
		root := tree.NewRoot()
		root.It("tie", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			return rc.Loop().Delay(time.Second)
		})).WithTimeout(time.Second)

		res, _ := run(t, virtualLoop(), root)
		tr := result(t, res, "tie")
		assert.Equal(t, types.TestStatusFail, tr.Status)
		require.Len(t, tr.Errors, 1)
		assert.Equal(t, types.ErrorKindTimeout, tr.Errors[0].Kind)
	})

	t.Run("late done is discarded", func(t *testing.T) {
		lp := virtualLoop()
		root := tree.NewRoot()
		root.It("forgets done", tree.Callback(func(done tree.Done) {
			lp.AfterFunc(2*time.Second, func() { done(nil) })
		})).WithTimeout(time.Second)
		root.It("next", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			return rc.Loop().Delay(3 * time.Second)
		})).WithTimeout(10 * time.Second)

		res, _ := run(t, lp, root)
		tr := result(t, res, "forgets done")
		require.Len(t, tr.Errors, 1)
		assert.Equal(t, types.ErrorKindTimeout, tr.Errors[0].Kind)
		assert.Equal(t, types.TestStatusPass, result(t, res, "next").Status)
	})

	t.Run("zero disables", func(t *testing.T) {
		root := tree.NewRoot()
		root.It("patient", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			return rc.Loop().Delay(time.Hour)
		})).WithTimeout(0)

		res, _ := run(t, virtualLoop(), root)
		assert.Equal(t, types.TestStatusPass, result(t, res, "patient").Status)
	})

	t.Run("run context re-arms", func(t *testing.T) {
		root := tree.NewRoot()
		root.It("tightened", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			rc.Timeout(50 * time.Millisecond)
			return rc.Loop().Delay(time.Second)
		}))

		res, _ := run(t, virtualLoop(), root)
		tr := result(t, res, "tightened")
		require.Len(t, tr.Errors, 1)
		assert.Equal(t, types.ErrorKindTimeout, tr.Errors[0].Kind)
		assert.Equal(t, 50*time.Millisecond, tr.Errors[0].Elapsed)
		assert.Contains(t, tr.Errors[0].Message, "timeout of 50ms exceeded")
	})

	t.Run("suite timeout applies to hooks", func(t *testing.T) {
		root := tree.NewRoot()
		root.Describe("S", func(s *tree.Suite) {
			s.BeforeAll(tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
				return rc.Loop().Delay(time.Second)
			}))
			s.It("s1", pass())
		}).WithTimeout(100 * time.Millisecond)

		res, _ := run(t, virtualLoop(), root)
		tr := result(t, res, "s1")
		assert.Equal(t, types.TestStatusFail, tr.Status)
		require.Len(t, tr.Errors, 1)
		require.NotNil(t, tr.Errors[0].Cause)
		assert.Equal(t, types.ErrorKindTimeout, tr.Errors[0].Cause.Kind)
		assert.Equal(t, 100*time.Millisecond, tr.Errors[0].Cause.Elapsed)
	})
}

func TestSlow(t *testing.T) {
	root := tree.NewRoot()
	root.Describe("S", func(s *tree.Suite) {
		s.It("sluggish", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			return rc.Loop().Delay(100 * time.Millisecond)
		}))
		s.It("quick", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			rc.Slow(time.Second)
			return rc.Loop().Delay(100 * time.Millisecond)
		}))
	}).WithSlow(50 * time.Millisecond)

	res, _ := run(t, virtualLoop(), root)
	assert.True(t, result(t, res, "sluggish").Slow)
	assert.False(t, result(t, res, "quick").Slow)
	assert.Equal(t, 100*time.Millisecond, result(t, res, "quick").Duration)
}

func TestRetry(t *testing.T) {
	t.Run("passes on the last attempt", func(t *testing.T) {
		var hooks int
		root := tree.NewRoot()
		root.Describe("S", func(s *tree.Suite) {
			s.BeforeEach(counting(&hooks))
			s.It("flaky", tree.Context(func(rc tree.RunContext) error {
				if rc.Attempt() <= 2 {
					return fmt.Errorf("attempt %d failed", rc.Attempt())
				}
				return nil
			})).WithRetries(2)
		})

		res, rec := run(t, virtualLoop(), root, func(cfg *Config) { cfg.ReportRetries = true })
		tr := result(t, res, "flaky")
		assert.Equal(t, types.TestStatusPass, tr.Status)
		assert.Equal(t, 3, tr.Attempts)
		assert.Empty(t, tr.Errors)
		assert.Equal(t, 3, hooks)
		assert.Len(t, res.Tests, 1)
		assert.Equal(t, 1, res.Stats.Passes)

		retries := rec.ofType(types.EventTestRetry)
		require.Len(t, retries, 2)
		assert.Equal(t, 1, retries[0].Test.Attempts)
		assert.Equal(t, "attempt 2 failed", retries[1].Test.Errors[0].Message)
		assert.Len(t, rec.ofType(types.EventTestStart), 1)
	})

	t.Run("exhausted", func(t *testing.T) {
		root := tree.NewRoot()
		root.It("broken", tree.Context(func(rc tree.RunContext) error {
			return fmt.Errorf("attempt %d failed", rc.Attempt())
		})).WithRetries(1)

		res, rec := run(t, virtualLoop(), root)
		tr := result(t, res, "broken")
		assert.Equal(t, types.TestStatusFail, tr.Status)
		assert.Equal(t, 2, tr.Attempts)
		require.Len(t, tr.Errors, 1)
		assert.Equal(t, "attempt 2 failed", tr.Errors[0].Message)
		assert.Empty(t, rec.ofType(types.EventTestRetry))
	})

	t.Run("budget set from the run context", func(t *testing.T) {
		root := tree.NewRoot()
		root.It("self-healing", tree.Context(func(rc tree.RunContext) error {
			rc.Retries(1)
			if rc.Attempt() == 1 {
				return errors.New("first attempt")
			}
			return nil
		}))

		res, _ := run(t, virtualLoop(), root)
		tr := result(t, res, "self-healing")
		assert.Equal(t, types.TestStatusPass, tr.Status)
		assert.Equal(t, 2, tr.Attempts)
	})
}

func TestBail(t *testing.T) {
	var ran []string
	var cleanup int
	body := func(name string, err error) tree.Body {
		return tree.Sync(func() error {
			ran = append(ran, name)
			return err
		})
	}
	root := tree.NewRoot()
	root.Describe("A", func(s *tree.Suite) {
		s.AfterAll(counting(&cleanup))
		s.It("a1", body("a1", errors.New("broken")))
		s.It("a2", body("a2", nil))
	})
	root.Describe("B", func(s *tree.Suite) {
		s.It("b1", body("b1", nil))
		s.It("b2", body("b2", nil))
	})

	res, rec := run(t, virtualLoop(), root, func(cfg *Config) { cfg.Bail = true })
	assert.Equal(t, []string{"a1"}, ran)
	assert.False(t, rec.entered("B"))
	assert.Equal(t, 1, cleanup, "after all hooks of entered suites still run")
	assert.Equal(t, 1, res.Stats.Failures)
	assert.False(t, res.Passed())
	assert.Equal(t, []string{
		"run-start",
		"suite-start A",
		"test-start a1",
		"test-fail a1",
		"suite-end A",
		"run-end",
	}, rec.trace())
}

func TestLeakedTimerFailsCurrentTest(t *testing.T) {
	lp := virtualLoop()
	root := tree.NewRoot()
	root.It("leaks", tree.Sync(func() error {
		lp.AfterFunc(50*time.Millisecond, func() { panic("leaked timer") })
		return nil
	}))
	root.It("victim", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
		return rc.Loop().Delay(100 * time.Millisecond)
	}))

	res, _ := run(t, lp, root)
	assert.Equal(t, types.TestStatusPass, result(t, res, "leaks").Status)

	victim := result(t, res, "victim")
	assert.Equal(t, types.TestStatusFail, victim.Status)
	require.Len(t, victim.Errors, 1)
	assert.Equal(t, types.ErrorKindUncaughtException, victim.Errors[0].Kind)
	assert.Equal(t, "leaked timer", victim.Errors[0].Message)
	assert.Empty(t, res.Errors)
}

func TestUnhandledRejectionIsAttributed(t *testing.T) {
	root := tree.NewRoot()
	root.It("drops a rejection", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
		rc.Loop().Rejected(errors.New("nobody listens"))
		return rc.Loop().Delay(10 * time.Millisecond)
	}))

	res, _ := run(t, virtualLoop(), root)
	tr := result(t, res, "drops a rejection")
	assert.Equal(t, types.TestStatusFail, tr.Status)
	rec := hasKind(tr.Errors, types.ErrorKindUnhandledRejection)
	require.NotNil(t, rec)
	assert.True(t, rec.Rejection)
	assert.Equal(t, "nobody listens", rec.Message)
}

func TestBeforeAllFailure(t *testing.T) {
	var ran, cleanup int
	root := tree.NewRoot()
	root.Describe("S", func(s *tree.Suite) {
		s.BeforeAll(fail("db down")).Named("connect")
		s.AfterAll(counting(&cleanup))
		s.It("s1", counting(&ran))
		s.Describe("N", func(n *tree.Suite) {
			n.It("n1", counting(&ran))
		})
	})
	root.Describe("T", func(s *tree.Suite) {
		s.It("t1", pass())
	})

	res, rec := run(t, virtualLoop(), root)
	assert.Zero(t, ran)
	assert.Equal(t, 1, cleanup)

	for _, title := range []string{"s1", "n1"} {
		tr := result(t, res, title)
		assert.Equal(t, types.TestStatusFail, tr.Status, title)
		assert.Zero(t, tr.Attempts, title)
		require.Len(t, tr.Errors, 1, title)
		assert.Equal(t, types.ErrorKindHook, tr.Errors[0].Kind)
		assert.Contains(t, tr.Errors[0].Message, `"before all" hook: connect`)
		require.NotNil(t, tr.Errors[0].Cause)
		assert.Equal(t, types.ErrorKindAssertion, tr.Errors[0].Cause.Kind)
		assert.Equal(t, "db down", tr.Errors[0].Cause.Message)
	}
	assert.Equal(t, types.TestStatusPass, result(t, res, "t1").Status)
	assert.Equal(t, 1, res.Stats.HookFailures)
	require.Len(t, res.HookFailures, 1)
	assert.False(t, res.Passed())

	assert.Equal(t, []string{
		"run-start",
		"suite-start S",
		`hook-fail "before all" hook: connect`,
		"test-fail s1",
		"suite-start N",
		"test-fail n1",
		"suite-end N",
		"suite-end S",
		"suite-start T",
		"test-start t1",
		"test-pass t1",
		"suite-end T",
		"run-end",
	}, rec.trace())

	hookFail := rec.ofType(types.EventHookFail)[0]
	assert.Equal(t, "before all", hookFail.Hook.Kind)
	assert.Equal(t, "S", hookFail.Hook.Suite)
	assert.Empty(t, hookFail.Hook.Test)
}

func TestBeforeEachFailure(t *testing.T) {
	var after int
	ran := map[string]int{}
	body := func(name string) tree.Body {
		return tree.Sync(func() error {
			ran[name]++
			return nil
		})
	}
	root := tree.NewRoot()
	root.Describe("S", func(s *tree.Suite) {
		s.BeforeEach(tree.Context(func(rc tree.RunContext) error {
			if rc.Test().Title == "s2" {
				return errors.New("fixture broken")
			}
			return nil
		}))
		s.AfterEach(counting(&after))
		s.It("s1", body("s1"))
		s.It("s2", body("s2")).WithRetries(3)
		s.It("s3", body("s3"))
	})
	root.Describe("T", func(s *tree.Suite) {
		s.It("t1", body("t1"))
	})

	res, rec := run(t, virtualLoop(), root)
	assert.Equal(t, map[string]int{"s1": 1, "t1": 1}, ran)
	assert.Equal(t, 2, after, "after each hooks still bracket the failed test")

	s2 := result(t, res, "s2")
	assert.Equal(t, types.TestStatusFail, s2.Status)
	assert.Equal(t, 1, s2.Attempts, "hook failures are not retried")
	require.Len(t, s2.Errors, 1)
	assert.Equal(t, types.ErrorKindHook, s2.Errors[0].Kind)

	s3 := result(t, res, "s3")
	assert.Equal(t, types.TestStatusFail, s3.Status)
	assert.Zero(t, s3.Attempts)
	assert.Same(t, s2.Errors[0], s3.Errors[0])

	assert.Equal(t, types.TestStatusPass, result(t, res, "s1").Status)
	assert.Equal(t, types.TestStatusPass, result(t, res, "t1").Status)

	hookFail := rec.ofType(types.EventHookFail)
	require.Len(t, hookFail, 1)
	assert.Equal(t, "S s2", hookFail[0].Hook.Test)
}

func TestAfterEachFailure(t *testing.T) {
	var ran int
	root := tree.NewRoot()
	root.Describe("S", func(s *tree.Suite) {
		s.AfterEach(tree.Context(func(rc tree.RunContext) error {
			return errors.New("cleanup failed")
		}))
		s.It("s1", counting(&ran))
		s.It("s2", counting(&ran))
	})

	res, _ := run(t, virtualLoop(), root)
	assert.Equal(t, 1, ran)
	assert.Equal(t, types.TestStatusPass, result(t, res, "s1").Status)
	s2 := result(t, res, "s2")
	assert.Equal(t, types.TestStatusFail, s2.Status)
	assert.Zero(t, s2.Attempts)
	assert.Equal(t, 1, res.Stats.HookFailures)
	assert.False(t, res.Passed())
}

func TestNestedHookOrder(t *testing.T) {
	var order []string
	note := func(s string) tree.Body {
		return tree.Sync(func() error {
			order = append(order, s)
			return nil
		})
	}
	root := tree.NewRoot()
	root.BeforeEach(note("root before each"))
	root.AfterEach(note("root after each"))
	root.Describe("S", func(s *tree.Suite) {
		s.BeforeAll(note("S before all"))
		s.BeforeEach(note("S before each"))
		s.AfterEach(note("S after each"))
		s.AfterAll(note("S after all"))
		s.It("t", note("t"))
	})

	res, _ := run(t, virtualLoop(), root)
	assert.True(t, res.Passed())
	assert.Equal(t, []string{
		"S before all",
		"root before each",
		"S before each",
		"t",
		"S after each",
		"root after each",
		"S after all",
	}, order)
}

func TestSkipFromRunContext(t *testing.T) {
	t.Run("body", func(t *testing.T) {
		root := tree.NewRoot()
		root.It("skips itself", tree.Context(func(rc tree.RunContext) error {
			rc.Skip()
			return errors.New("unreachable")
		}))

		res, rec := run(t, virtualLoop(), root)
		assert.Equal(t, types.TestStatusSkip, result(t, res, "skips itself").Status)
		assert.Len(t, rec.ofType(types.EventTestPending), 1)
		assert.Equal(t, 1, res.Stats.Skipped)
		assert.True(t, res.Passed())
	})

	t.Run("later task", func(t *testing.T) {
		lp := virtualLoop()
		root := tree.NewRoot()
		root.It("skips later", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			d := rc.Loop().NewDeferred()
			rc.Loop().AfterFunc(10*time.Millisecond, func() {
				rc.Skip()
				d.Resolve()
			})
			return d
		}))

		res, _ := run(t, lp, root)
		tr := result(t, res, "skips later")
		assert.Equal(t, types.TestStatusSkip, tr.Status)
		assert.Empty(t, tr.Errors)
		assert.Less(t, tr.Duration, time.Second)
		assert.True(t, res.Passed())
	})

	t.Run("before all", func(t *testing.T) {
		var ran int
		root := tree.NewRoot()
		root.Describe("S", func(s *tree.Suite) {
			s.BeforeAll(tree.Context(func(rc tree.RunContext) error {
				rc.Skip()
				return nil
			}))
			s.It("s1", counting(&ran))
			s.Describe("N", func(n *tree.Suite) {
				n.It("n1", counting(&ran))
			})
		})

		res, _ := run(t, virtualLoop(), root)
		assert.Zero(t, ran)
		assert.Equal(t, types.TestStatusSkip, result(t, res, "s1").Status)
		assert.Equal(t, types.TestStatusSkip, result(t, res, "n1").Status)
		assert.True(t, res.Passed())
	})

	t.Run("before each", func(t *testing.T) {
		root := tree.NewRoot()
		root.Describe("S", func(s *tree.Suite) {
			s.BeforeEach(tree.Context(func(rc tree.RunContext) error {
				if rc.Test().Title == "s1" {
					rc.Skip()
				}
				return nil
			}))
			s.It("s1", pass())
			s.It("s2", pass())
		})

		res, _ := run(t, virtualLoop(), root)
		assert.Equal(t, types.TestStatusSkip, result(t, res, "s1").Status)
		assert.Equal(t, types.TestStatusPass, result(t, res, "s2").Status)
	})
}

func TestAsyncBodies(t *testing.T) {
	tests := []struct {
		name    string
		body    tree.Body
		status  types.TestStatus
		message string
	}{
		{
			name:   "nil deferred",
			body:   tree.Async(func() *loop.Deferred { return nil }),
			status: types.TestStatusPass,
		},
		{
			name: "rejected with error",
			body: tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
				return rc.Loop().Rejected(errors.New("rejected"))
			}),
			status:  types.TestStatusFail,
			message: "rejected",
		},
		{
			name: "rejected with value",
			body: tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
				return rc.Loop().Rejected(42)
			}),
			status:  types.TestStatusFail,
			message: "42",
		},
		{
			name: "done with error",
			body: tree.Callback(func(done tree.Done) {
				done(errors.New("bad callback"))
			}),
			status:  types.TestStatusFail,
			message: "bad callback",
		},
		{
			name: "panicking body",
			body: tree.Sync(func() error {
				panic("kaboom")
			}),
			status:  types.TestStatusFail,
			message: "kaboom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tree.NewRoot()
			root.It(tt.name, tt.body)

			res, _ := run(t, virtualLoop(), root)
			tr := result(t, res, tt.name)
			assert.Equal(t, tt.status, tr.Status)
			if tt.message != "" {
				require.Len(t, tr.Errors, 1)
				assert.Equal(t, types.ErrorKindAssertion, tr.Errors[0].Kind)
				assert.Equal(t, tt.message, tr.Errors[0].Message)
			}
			assert.Empty(t, res.Errors)
		})
	}
}

func TestRunContextAfterFinish(t *testing.T) {
	var saved tree.RunContext
	root := tree.NewRoot()
	root.It("keeps the context", tree.Context(func(rc tree.RunContext) error {
		saved = rc
		return nil
	}))
	root.It("uses it late", tree.Sync(func() error {
		saved.Timeout(time.Millisecond)
		saved.Skip()
		return nil
	}))

	res, _ := run(t, virtualLoop(), root)
	assert.Equal(t, types.TestStatusPass, result(t, res, "keeps the context").Status)
	assert.Equal(t, types.TestStatusPass, result(t, res, "uses it late").Status)
	require.NotNil(t, saved.Test())
	assert.Equal(t, "keeps the context", saved.Test().Title)
	assert.Equal(t, 1, saved.Attempt())
}

func TestTestsRunBeforeChildSuites(t *testing.T) {
	var order []string
	record := func(name string) tree.Body {
		return tree.Sync(func() error {
			order = append(order, name)
			return nil
		})
	}
	root := tree.NewRoot()
	root.Describe("A", func(s *tree.Suite) {
		s.It("a1", record("a1"))
	})
	root.It("t1", record("t1"))
	root.Describe("B", func(s *tree.Suite) {
		s.It("b1", record("b1"))
		s.Describe("C", func(c *tree.Suite) {
			c.It("c1", record("c1"))
		})
		s.It("b2", record("b2"))
	})
	root.It("t2", record("t2"))

	run(t, virtualLoop(), root)
	assert.Equal(t, []string{"t1", "t2", "a1", "b1", "b2", "c1"}, order)
}

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/tree"
)

// ledger is a toy in-memory account book the bundled suites exercise
type ledger struct {
	balances map[string]int
}

func (l *ledger) transfer(from, to string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("invalid amount %d", amount)
	}
	if l.balances[from] < amount {
		return errors.New("insufficient funds")
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// declareSuites registers the suites shipped with the binary. They cover every body style
// and hook kind, so a bare invocation doubles as a smoke test of the harness itself.
func declareSuites(root *tree.Suite, lp *loop.Loop) {
	var book *ledger

	root.Describe("ledger", func(s *tree.Suite) {
		s.BeforeAll(tree.Sync(func() error {
			book = &ledger{balances: map[string]int{}}
			return nil
		})).Named("open ledger")
		s.BeforeEach(tree.Sync(func() error {
			book.balances["alice"] = 100
			book.balances["bob"] = 0
			return nil
		})).Named("seed balances")

		s.It("moves funds between accounts", tree.Sync(func() error {
			if err := book.transfer("alice", "bob", 40); err != nil {
				return err
			}
			if book.balances["bob"] != 40 {
				return fmt.Errorf("expected bob to hold 40, got %d", book.balances["bob"])
			}
			return nil
		}))
		s.It("rejects overdrafts", tree.Sync(func() error {
			if err := book.transfer("bob", "alice", 1); err == nil {
				return errors.New("overdraft accepted")
			}
			return nil
		}))
		s.It("settles asynchronously", tree.Async(func() *loop.Deferred {
			return lp.Delay(20 * time.Millisecond).Then(func() error {
				return book.transfer("alice", "bob", 10)
			})
		}))
		s.It("reports through a callback", tree.Callback(func(done tree.Done) {
			lp.AfterFunc(10*time.Millisecond, func() {
				done(book.transfer("alice", "bob", 5))
			})
		}))
		s.It("supports multi-party settlement", tree.Body{})
	})

	root.Describe("network", func(s *tree.Suite) {
		s.WithTimeout(500 * time.Millisecond)

		var calls int
		s.It("recovers after a retry", tree.Context(func(rc tree.RunContext) error {
			rc.Retries(2)
			calls++
			if rc.Attempt() < 2 {
				return fmt.Errorf("connection reset on attempt %d", rc.Attempt())
			}
			return nil
		}))
		s.It("waits for a slow peer", tree.ContextAsync(func(rc tree.RunContext) *loop.Deferred {
			rc.Timeout(time.Second)
			return lp.Delay(600 * time.Millisecond)
		}))
		s.It("skips unsupported transports", tree.Context(func(rc tree.RunContext) error {
			rc.Skip()
			return nil
		}))
		s.AfterAll(tree.Sync(func() error {
			if calls == 0 {
				return errors.New("retry test never ran")
			}
			return nil
		})).Named("check retry")
	})
}

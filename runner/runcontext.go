package runner

import (
	"time"

	"github.com/ethereum-optimism/infra/op-harness/loop"
	"github.com/ethereum-optimism/infra/op-harness/tree"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// testRun is the live state of one test across its attempts
type testRun struct {
	test    *tree.Test
	attempt int
	retries int
}

// runContext implements tree.RunContext for one node. Mutators only act while the node has
// not produced an outcome; later calls are logged and dropped. Methods must be called on the
// loop goroutine.
type runContext struct {
	n *node
}

var _ tree.RunContext = (*runContext)(nil)

func (rc *runContext) active(op string) bool {
	if rc.n.hasOutcome {
		rc.n.r.log.Warn("Run context used after its node finished", "op", op, "node", rc.n.title)
		return false
	}
	return true
}

func (rc *runContext) Timeout(d time.Duration) {
	if rc.active("timeout") {
		rc.n.arm(d)
	}
}

func (rc *runContext) Slow(d time.Duration) {
	if rc.active("slow") {
		rc.n.slow = d
	}
}

func (rc *runContext) Retries(n int) {
	if !rc.active("retries") || rc.n.run == nil {
		return
	}
	rc.n.run.retries = n
}

func (rc *runContext) Skip() {
	if rc.active("skip") {
		panic(types.ErrSkipped)
	}
}

func (rc *runContext) Test() *tree.Test {
	if rc.n.run == nil {
		return nil
	}
	return rc.n.run.test
}

func (rc *runContext) Attempt() int {
	if rc.n.run == nil {
		return 0
	}
	return rc.n.run.attempt
}

func (rc *runContext) Loop() *loop.Loop {
	return rc.n.r.loop
}

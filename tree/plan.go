package tree

// Plan is the run set of a tree: which tests are reported, which of those are pending, and
// how many planned tests each suite holds
type Plan struct {
	root     *Suite
	hasOnly  bool
	tests    []*Test
	included map[*Test]bool
	pending  map[*Test]bool
	counts   map[*Suite]int
	runnable map[*Suite]int
}

// NewPlan computes the run set of the tree under root.
//
// If any node is marked only, the run set is the only-marked tests plus the tests inside
// only-marked suites; otherwise it is every test. Tests rejected by the filter are dropped.
// Planned tests that are marked skip, sit under a skipped suite, or have no body are pending.
func NewPlan(root *Suite, filter Filter) *Plan {
	p := &Plan{
		root:     root,
		included: make(map[*Test]bool),
		pending:  make(map[*Test]bool),
		counts:   make(map[*Suite]int),
		runnable: make(map[*Suite]int),
	}

	root.Walk(func(s *Suite) bool {
		if s.mode == ModeOnly {
			p.hasOnly = true
		}
		for _, t := range s.tests {
			if t.mode == ModeOnly {
				p.hasOnly = true
			}
		}
		return true
	})

	for _, t := range root.AllTests() {
		if p.hasOnly && !t.OnlyMarked() {
			continue
		}
		if !filter.Match(t.FullTitle()) {
			continue
		}
		p.tests = append(p.tests, t)
		p.included[t] = true
		pending := t.Skipped() || t.Pending()
		if pending {
			p.pending[t] = true
		}
		for s := t.suite; s != nil; s = s.parent {
			p.counts[s]++
			if !pending {
				p.runnable[s]++
			}
		}
	}
	return p
}

// Root returns the suite the plan was computed for
func (p *Plan) Root() *Suite {
	return p.root
}

// HasOnly reports whether the run set was restricted by only marks
func (p *Plan) HasOnly() bool {
	return p.hasOnly
}

// Includes reports whether t is reported by the run, as executed or pending
func (p *Plan) Includes(t *Test) bool {
	return p.included[t]
}

// Pending reports whether t is planned but not executed
func (p *Plan) Pending(t *Test) bool {
	return p.pending[t]
}

// Count returns the number of planned tests under s
func (p *Plan) Count(s *Suite) int {
	return p.counts[s]
}

// HasWork reports whether the subtree of s holds any planned test
func (p *Plan) HasWork(s *Suite) bool {
	return p.counts[s] > 0
}

// HasRunnable reports whether the subtree of s holds a planned test that will execute.
// Suite hooks only run for such suites.
func (p *Plan) HasRunnable(s *Suite) bool {
	return p.runnable[s] > 0
}

// Total returns the number of planned tests
func (p *Plan) Total() int {
	return len(p.tests)
}

// Tests returns the planned tests in run order
func (p *Plan) Tests() []*Test {
	return p.tests
}

// Runnable returns the planned tests that will execute, in run order
func (p *Plan) Runnable() []*Test {
	var tests []*Test
	for _, t := range p.tests {
		if !p.pending[t] {
			tests = append(tests, t)
		}
	}
	return tests
}

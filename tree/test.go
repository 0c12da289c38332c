package tree

import "time"

// Test is a leaf of the tree
type Test struct {
	Title string

	suite     *Suite
	body      Body
	overrides Overrides
	mode      Mode
}

func (t *Test) Suite() *Suite        { return t.suite }
func (t *Test) Body() Body           { return t.body }
func (t *Test) Mode() Mode           { return t.mode }
func (t *Test) Overrides() Overrides { return t.overrides }

// Pending reports whether the test was declared without a body
func (t *Test) Pending() bool {
	return t.body.IsZero()
}

// Skip marks the test as pending
func (t *Test) Skip() *Test {
	t.suite.mustBeOpen("skip")
	t.mode = ModeSkip
	return t
}

// Only restricts the run to this test and other only-marked nodes
func (t *Test) Only() *Test {
	t.suite.mustBeOpen("only")
	t.mode = ModeOnly
	return t
}

func (t *Test) WithTimeout(d time.Duration) *Test {
	t.suite.mustBeOpen("timeout")
	t.overrides.Timeout = &d
	return t
}

func (t *Test) WithSlow(d time.Duration) *Test {
	t.suite.mustBeOpen("slow threshold")
	t.overrides.Slow = &d
	return t
}

func (t *Test) WithRetries(n int) *Test {
	t.suite.mustBeOpen("retries")
	t.overrides.Retries = &n
	return t
}

// Path returns the titles of the owning suites, excluding the root
func (t *Test) Path() []string {
	return t.suite.Path()
}

// FullTitle joins the suite titles and the test title
func (t *Test) FullTitle() string {
	return joinTitle(t.suite.FullTitle(), t.Title)
}

// Effective returns the test's overrides merged over its suite's settings
func (t *Test) Effective(base Settings) Settings {
	return t.overrides.Merge(t.suite.Effective(base))
}

// Skipped reports whether the test or any ancestor suite is marked skip
func (t *Test) Skipped() bool {
	return t.mode == ModeSkip || t.suite.Skipped()
}

// OnlyMarked reports whether the test or any ancestor suite is marked only
func (t *Test) OnlyMarked() bool {
	if t.mode == ModeOnly {
		return true
	}
	for s := t.suite; s != nil; s = s.parent {
		if s.mode == ModeOnly {
			return true
		}
	}
	return false
}

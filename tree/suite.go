// Package tree holds the declared structure of a run: suites, tests and hooks.
//
// A tree is built once through an explicit builder handle returned by NewRoot, then sealed
// when a run starts. Registration on a sealed tree panics.
package tree

import (
	"fmt"
	"strings"
	"time"
)

// Mode marks a node for exclusive or skipped execution
type Mode int

const (
	ModeNormal Mode = iota
	ModeSkip
	ModeOnly
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSkip:
		return "skip"
	case ModeOnly:
		return "only"
	default:
		return "unknown"
	}
}

// Suite is a named group of tests, child suites and hooks
type Suite struct {
	Title string

	root      *Suite
	parent    *Suite
	suites    []*Suite
	tests     []*Test
	hooks     [hookKinds][]*Hook
	overrides Overrides
	mode      Mode

	sealed bool // only meaningful on the root
}

// NewRoot creates the root suite of a new tree
func NewRoot() *Suite {
	s := &Suite{}
	s.root = s
	return s
}

// Describe adds a child suite and calls fn with it to declare its contents
func (s *Suite) Describe(title string, fn func(s *Suite)) *Suite {
	s.mustBeOpen(fmt.Sprintf("suite %q", title))
	child := &Suite{
		Title:  title,
		root:   s.root,
		parent: s,
	}
	s.suites = append(s.suites, child)
	if fn != nil {
		fn(child)
	}
	return child
}

// It adds a test. A zero body declares a pending test.
func (s *Suite) It(title string, body Body) *Test {
	s.mustBeOpen(fmt.Sprintf("test %q", title))
	t := &Test{
		Title: title,
		suite: s,
		body:  body,
	}
	s.tests = append(s.tests, t)
	return t
}

func (s *Suite) BeforeAll(body Body) *Hook  { return s.addHook(BeforeAll, body) }
func (s *Suite) BeforeEach(body Body) *Hook { return s.addHook(BeforeEach, body) }
func (s *Suite) AfterEach(body Body) *Hook  { return s.addHook(AfterEach, body) }
func (s *Suite) AfterAll(body Body) *Hook   { return s.addHook(AfterAll, body) }

func (s *Suite) addHook(kind HookKind, body Body) *Hook {
	s.mustBeOpen(fmt.Sprintf("%s hook", kind))
	if body.IsZero() {
		panic(fmt.Sprintf("tree: %s hook in suite %q has no body", kind, s.FullTitle()))
	}
	h := &Hook{kind: kind, suite: s, body: body}
	s.hooks[kind] = append(s.hooks[kind], h)
	return h
}

// Skip marks the suite and everything below it as pending
func (s *Suite) Skip() *Suite {
	s.mustBeOpen("skip")
	s.mode = ModeSkip
	return s
}

// Only restricts the run to this suite and other only-marked nodes
func (s *Suite) Only() *Suite {
	s.mustBeOpen("only")
	s.mode = ModeOnly
	return s
}

func (s *Suite) WithTimeout(d time.Duration) *Suite {
	s.mustBeOpen("timeout")
	s.overrides.Timeout = &d
	return s
}

func (s *Suite) WithSlow(d time.Duration) *Suite {
	s.mustBeOpen("slow threshold")
	s.overrides.Slow = &d
	return s
}

func (s *Suite) WithRetries(n int) *Suite {
	s.mustBeOpen("retries")
	s.overrides.Retries = &n
	return s
}

// Seal freezes the whole tree
func (s *Suite) Seal() {
	s.root.sealed = true
}

// Sealed reports whether the tree has been frozen
func (s *Suite) Sealed() bool {
	return s.root.sealed
}

func (s *Suite) mustBeOpen(what string) {
	if s.root.sealed {
		panic(fmt.Sprintf("tree: cannot declare %s in %q after the run started", what, s.FullTitle()))
	}
}

func (s *Suite) IsRoot() bool                { return s.parent == nil }
func (s *Suite) Root() *Suite                { return s.root }
func (s *Suite) Parent() *Suite              { return s.parent }
func (s *Suite) Suites() []*Suite            { return s.suites }
func (s *Suite) Tests() []*Test              { return s.tests }
func (s *Suite) Hooks(kind HookKind) []*Hook { return s.hooks[kind] }
func (s *Suite) Mode() Mode                  { return s.mode }
func (s *Suite) Overrides() Overrides        { return s.overrides }

// Depth is 0 for the root and grows by one per nesting level
func (s *Suite) Depth() int {
	d := 0
	for p := s.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Lineage returns the suites from the root down to s
func (s *Suite) Lineage() []*Suite {
	lineage := make([]*Suite, s.Depth()+1)
	for i, cur := len(lineage)-1, s; cur != nil; i, cur = i-1, cur.parent {
		lineage[i] = cur
	}
	return lineage
}

// Path returns the titles from the first level below the root down to s
func (s *Suite) Path() []string {
	lineage := s.Lineage()[1:]
	path := make([]string, len(lineage))
	for i, suite := range lineage {
		path[i] = suite.Title
	}
	return path
}

// FullTitle joins the titles of s and its ancestors, excluding the root
func (s *Suite) FullTitle() string {
	return strings.Join(s.Path(), " ")
}

// Effective returns the settings of s, its overrides merged over those of its ancestors
func (s *Suite) Effective(base Settings) Settings {
	if s.parent != nil {
		base = s.parent.Effective(base)
	}
	return s.overrides.Merge(base)
}

// Skipped reports whether s or any ancestor is marked skip
func (s *Suite) Skipped() bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.mode == ModeSkip {
			return true
		}
	}
	return false
}

// Walk visits s and every descendant suite in run order: a suite's tests come before its
// child suites, so children are visited after their parent, in declaration order.
// Returning false from fn prunes the subtree.
func (s *Suite) Walk(fn func(s *Suite) bool) {
	if !fn(s) {
		return
	}
	for _, child := range s.suites {
		child.Walk(fn)
	}
}

// AllTests returns every test under s in run order
func (s *Suite) AllTests() []*Test {
	var tests []*Test
	s.Walk(func(cur *Suite) bool {
		tests = append(tests, cur.tests...)
		return true
	})
	return tests
}

func joinTitle(prefix, title string) string {
	if prefix == "" {
		return title
	}
	return prefix + " " + title
}

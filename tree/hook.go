package tree

import "fmt"

// HookKind is one of the four hook slots of a suite
type HookKind int

const (
	BeforeAll HookKind = iota
	BeforeEach
	AfterEach
	AfterAll

	hookKinds = 4
)

func (k HookKind) String() string {
	switch k {
	case BeforeAll:
		return "before all"
	case BeforeEach:
		return "before each"
	case AfterEach:
		return "after each"
	case AfterAll:
		return "after all"
	default:
		return "unknown"
	}
}

// PerTest reports whether hooks of this kind bracket every test
func (k HookKind) PerTest() bool {
	return k == BeforeEach || k == AfterEach
}

// Hook is a body registered in one of a suite's hook slots. Hooks share the settings of their
// suite and are neither retried nor filtered.
type Hook struct {
	kind  HookKind
	title string
	suite *Suite
	body  Body
}

// Named gives the hook a title used in reports
func (h *Hook) Named(title string) *Hook {
	h.suite.mustBeOpen("hook title")
	h.title = title
	return h
}

func (h *Hook) Kind() HookKind { return h.kind }
func (h *Hook) Suite() *Suite  { return h.suite }
func (h *Hook) Body() Body     { return h.body }

// Title returns the display title, e.g. `"before each" hook: seed db`
func (h *Hook) Title() string {
	if h.title == "" {
		return fmt.Sprintf("%q hook", h.kind.String())
	}
	return fmt.Sprintf("%q hook: %s", h.kind.String(), h.title)
}

// FullTitle prefixes the title with the owning suite's full title
func (h *Hook) FullTitle() string {
	return joinTitle(h.suite.FullTitle(), h.Title())
}

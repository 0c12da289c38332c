package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/ui"
	"github.com/jedib0t/go-pretty/v6/text"
)

type treeFailure struct {
	title string
	recs  []*types.ErrorRecord
}

// TreeSink prints results as they happen, indented by suite, followed by the
// failure details once the run ends
type TreeSink struct {
	out      io.Writer
	color    bool
	failures []treeFailure
	stats    *types.RunStats
	err      error
}

// NewTreeSink creates a tree sink writing to out
func NewTreeSink(out io.Writer, color bool) *TreeSink {
	return &TreeSink{out: out, color: color}
}

func (s *TreeSink) paint(colors text.Colors, str string) string {
	if !s.color {
		return str
	}
	return colors.Sprint(str)
}

func (s *TreeSink) printf(format string, args ...any) {
	if s.err != nil {
		return
	}
	_, s.err = fmt.Fprintf(s.out, format, args...)
}

// Consume implements EventSink
func (s *TreeSink) Consume(ev *types.Event) error {
	switch ev.Type {
	case types.EventRunStart:
		s.failures = nil
		s.stats = nil
	case types.EventSuiteStart:
		s.printf("\n%s%s\n", ui.Indent(ev.Suite.Depth), s.paint(text.Colors{text.Bold}, ev.Suite.Title))
	case types.EventTestPass:
		line := fmt.Sprintf("%s%s %s", ui.Indent(depthOf(ev)+1), s.paint(text.Colors{text.FgGreen}, ui.SymbolPass), s.paint(text.Colors{text.FgHiBlack}, ev.Test.Title))
		if ev.Test.Slow {
			line += " " + s.paint(text.Colors{text.FgRed}, fmt.Sprintf("(%dms)", ev.Test.Duration.Milliseconds()))
		}
		s.printf("%s\n", line)
	case types.EventTestFail:
		s.failures = append(s.failures, treeFailure{title: ev.Test.FullTitle, recs: ev.Test.Errors})
		s.printf("%s%s\n", ui.Indent(depthOf(ev)+1), s.paint(text.Colors{text.FgRed}, fmt.Sprintf("%d) %s", len(s.failures), ev.Test.Title)))
	case types.EventTestPending:
		s.printf("%s%s\n", ui.Indent(depthOf(ev)+1), s.paint(text.Colors{text.FgCyan}, fmt.Sprintf("%s %s", ui.StatusSymbol(ev.Test.Status), ev.Test.Title)))
	case types.EventTestRetry:
		s.printf("%s%s\n", ui.Indent(depthOf(ev)+1), s.paint(text.Colors{text.FgYellow}, fmt.Sprintf("%s (attempt %d failed, retrying)", ev.Test.Title, ev.Test.Attempts)))
	case types.EventHookFail:
		title := ev.Hook.Title
		if ev.Hook.Test != "" {
			title = fmt.Sprintf("%s for %q", title, ev.Hook.Test)
		}
		if ev.Suite != nil && ev.Suite.FullTitle != "" {
			title = ev.Suite.FullTitle + " " + title
		}
		s.failures = append(s.failures, treeFailure{title: title, recs: ev.Errors})
		s.printf("%s%s\n", ui.Indent(depthOf(ev)+1), s.paint(text.Colors{text.FgRed}, fmt.Sprintf("%d) %s", len(s.failures), title)))
	case types.EventRunEnd:
		s.stats = ev.Stats
		s.printSummary()
	}
	return s.err
}

func (s *TreeSink) printSummary() {
	st := s.stats
	s.printf("\n")
	s.printf("  %s %s\n", s.paint(text.Colors{text.FgGreen}, fmt.Sprintf("%d passing", st.Passes)), s.paint(text.Colors{text.FgHiBlack}, fmt.Sprintf("(%s)", formatMillis(st.Duration.Milliseconds()))))
	if st.Failures > 0 || st.HookFailures > 0 {
		s.printf("  %s\n", s.paint(text.Colors{text.FgRed}, fmt.Sprintf("%d failing", st.Failures+st.HookFailures)))
	}
	if n := st.Pending + st.Skipped; n > 0 {
		s.printf("  %s\n", s.paint(text.Colors{text.FgCyan}, fmt.Sprintf("%d pending", n)))
	}

	for i, f := range s.failures {
		s.printf("\n  %d) %s:\n", i+1, f.title)
		for _, rec := range f.recs {
			s.printRecord(rec, "     ")
		}
	}
	s.printf("\n")
}

func (s *TreeSink) printRecord(rec *types.ErrorRecord, indent string) {
	msg := stripansi.Strip(rec.Message)
	if !rec.Display && rec.Kind != types.ErrorKindAssertion {
		msg = fmt.Sprintf("%s: %s", rec.Kind, msg)
	}
	lines := strings.Split(msg, "\n")
	s.printf("%s%s\n", indent, s.paint(text.Colors{text.FgRed}, lines[0]))
	for _, line := range lines[1:] {
		s.printf("%s%s\n", indent, line)
	}
	if rec.Location != "" {
		s.printf("%s%s\n", indent, s.paint(text.Colors{text.FgHiBlack}, "at "+rec.Location))
	}
}

func depthOf(ev *types.Event) int {
	if ev.Suite == nil {
		return 0
	}
	return ev.Suite.Depth
}

func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%ds", ms/1000)
}

// Complete implements EventSink
func (s *TreeSink) Complete(string) error {
	return s.err
}

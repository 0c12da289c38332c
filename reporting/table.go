package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/ui"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	rowSuite = "Suite"
	rowTest  = "Test"
	rowHook  = "Hook"

	maxErrorWidth = 80
)

type tableNode struct {
	kind     string
	title    string
	status   types.TestStatus
	duration time.Duration
	attempts int
	err      string
	children []*tableNode
}

type tableCounts struct {
	tests, passed, failed, pending int
	duration                       time.Duration
	hookFailed                     bool
}

func (n *tableNode) counts() tableCounts {
	var c tableCounts
	for _, child := range n.children {
		switch child.kind {
		case rowSuite:
			cc := child.counts()
			c.tests += cc.tests
			c.passed += cc.passed
			c.failed += cc.failed
			c.pending += cc.pending
			c.duration += cc.duration
			c.hookFailed = c.hookFailed || cc.hookFailed
		case rowHook:
			c.hookFailed = true
		case rowTest:
			c.tests++
			c.duration += child.duration
			switch child.status {
			case types.TestStatusPass:
				c.passed++
			case types.TestStatusFail:
				c.failed++
			default:
				c.pending++
			}
		}
	}
	return c
}

func (c tableCounts) status() types.TestStatus {
	switch {
	case c.failed > 0 || c.hookFailed:
		return types.TestStatusFail
	case c.passed > 0:
		return types.TestStatusPass
	default:
		return types.TestStatusPending
	}
}

// TableSink renders the whole run as a table once it completes
type TableSink struct {
	out   io.Writer
	title string
	root  *tableNode
	stack []*tableNode
	stats *types.RunStats
	ended bool
	clean bool // Run-level verdict taken from run-end
}

// NewTableSink creates a table sink rendering to out
func NewTableSink(out io.Writer, title string) *TableSink {
	s := &TableSink{out: out, title: title}
	s.reset()
	return s
}

func (s *TableSink) reset() {
	s.root = &tableNode{kind: rowSuite}
	s.stack = []*tableNode{s.root}
	s.stats = nil
	s.ended = false
}

func (s *TableSink) top() *tableNode {
	return s.stack[len(s.stack)-1]
}

// Consume implements EventSink
func (s *TableSink) Consume(ev *types.Event) error {
	switch ev.Type {
	case types.EventRunStart:
		s.reset()
	case types.EventSuiteStart:
		n := &tableNode{kind: rowSuite, title: ev.Suite.Title}
		s.top().children = append(s.top().children, n)
		s.stack = append(s.stack, n)
	case types.EventSuiteEnd:
		if len(s.stack) == 1 {
			return fmt.Errorf("unbalanced suite-end for %q", ev.Suite.Title)
		}
		s.stack = s.stack[:len(s.stack)-1]
	case types.EventTestPass, types.EventTestFail, types.EventTestPending:
		tr := ev.Test
		s.top().children = append(s.top().children, &tableNode{
			kind:     rowTest,
			title:    tr.Title,
			status:   tr.Status,
			duration: tr.Duration,
			attempts: tr.Attempts,
			err:      keyErrorMessage(tr.Errors),
		})
	case types.EventHookFail:
		title := ev.Hook.Title
		if ev.Hook.Test != "" {
			title = fmt.Sprintf("%s for %q", title, ev.Hook.Test)
		}
		s.top().children = append(s.top().children, &tableNode{
			kind:   rowHook,
			title:  title,
			status: types.TestStatusFail,
			err:    keyErrorMessage(ev.Errors),
		})
	case types.EventRunEnd:
		s.stats = ev.Stats
		s.ended = true
		s.clean = len(ev.Errors) == 0
	}
	return nil
}

// Complete implements EventSink
func (s *TableSink) Complete(string) error {
	if !s.ended {
		return fmt.Errorf("run did not end")
	}

	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.SetTitle(fmt.Sprintf("%s (%s)", s.title, formatDuration(s.stats.Duration)))
	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Pending", "Attempts", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Pending", Align: text.AlignRight},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Error", WidthMax: maxErrorWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	for i, child := range s.root.children {
		s.appendRows(t, child, 1, i == len(s.root.children)-1, nil)
		if child.kind == rowSuite {
			t.AppendSeparator()
		}
	}

	total := s.root.counts()
	status := total.status()
	if !s.clean {
		status = types.TestStatusFail
	}
	switch status {
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusFail:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(s.stats.Duration),
		s.stats.Tests,
		s.stats.Passes,
		s.stats.Failures,
		s.stats.Pending + s.stats.Skipped,
		"",
		ui.StatusLabel(status),
		"",
	})
	t.Render()
	return nil
}

func (s *TableSink) appendRows(t table.Writer, n *tableNode, depth int, isLast bool, parentIsLast []bool) {
	id := ui.BuildTreePrefix(depth, isLast, parentIsLast) + n.title
	switch n.kind {
	case rowSuite:
		c := n.counts()
		t.AppendRow(table.Row{
			rowSuite, id, formatDuration(c.duration), "-", c.passed, c.failed, c.pending, "", ui.StatusLabel(c.status()), "",
		})
		childParents := append(append([]bool(nil), parentIsLast...), isLast)
		for i, child := range n.children {
			s.appendRows(t, child, depth+1, i == len(n.children)-1, childParents)
		}
	case rowHook:
		t.AppendRow(table.Row{
			rowHook, id, "", "", "", "", "", "", ui.StatusLabel(n.status), n.err,
		})
	default:
		attempts := ""
		if n.attempts > 0 {
			attempts = fmt.Sprint(n.attempts)
		}
		t.AppendRow(table.Row{
			rowTest, id, formatDuration(n.duration), "1", "", "", "", attempts, ui.StatusLabel(n.status), n.err,
		})
	}
}

// keyErrorMessage returns the first line of the first error, without color codes
func keyErrorMessage(errs []*types.ErrorRecord) string {
	if len(errs) == 0 {
		return ""
	}
	msg := stripansi.Strip(errs[0].Message)
	return ui.FirstLine(strings.TrimSpace(msg), maxErrorWidth)
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

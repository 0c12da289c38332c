package ui

import (
	"strings"
	"unicode/utf8"

	"github.com/ethereum-optimism/infra/op-harness/types"
)

// Tree hierarchy symbols using box drawing characters
const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeContinue   = "│   " // parent has more siblings below
	TreeIndent     = "    " // parent was last

	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// Status symbols
const (
	SymbolPass    = "✓"
	SymbolFail    = "✗"
	SymbolPending = "-"
	SymbolSkip    = "↷"
)

// StatusSymbol returns the symbol rendered in front of a test with the given status
func StatusSymbol(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return SymbolPass
	case types.TestStatusFail:
		return SymbolFail
	case types.TestStatusSkip:
		return SymbolSkip
	default:
		return SymbolPending
	}
}

// StatusLabel returns the symbol and a short name, e.g. "✓ pass"
func StatusLabel(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return SymbolPass + " pass"
	case types.TestStatusFail:
		return SymbolFail + " fail"
	case types.TestStatusSkip:
		return SymbolSkip + " skip"
	default:
		return SymbolPending + " pending"
	}
}

// BuildTreePrefix generates a tree prefix from the depth of a node, whether it is the last of
// its siblings, and the same flag for each of its ancestors below the root
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}

// Indent returns two spaces per nesting level
func Indent(depth int) string {
	return repeatString("  ", depth)
}

// BuildBoxHeader creates a box header with the given title and width
func BuildBoxHeader(title string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	if width < titleLen+4 {
		width = titleLen + 4
	}
	padding := width - 4 - titleLen

	header := BoxTopLeft + repeatString(BoxHorizontal, width-2) + BoxTopRight + "\n"
	header += BoxVertical + " " + title + repeatString(" ", padding+1) + BoxVertical + "\n"
	header += BoxTeeRight + repeatString(BoxHorizontal, width-2) + BoxTeeLeft + "\n"
	return header
}

// BuildBoxFooter creates a box footer with the given width
func BuildBoxFooter(width int) string {
	return BoxBottomLeft + repeatString(BoxHorizontal, width-2) + BoxBottomRight + "\n"
}

// BuildBoxLine creates a content line within a box, truncating content that does not fit
func BuildBoxLine(content string, width int) string {
	contentLen := utf8.RuneCountInString(content)
	maxContentLen := width - 4

	if contentLen > maxContentLen {
		runes := []rune(content)
		content = string(runes[:maxContentLen-3]) + "..."
		contentLen = maxContentLen
	}

	padding := maxContentLen - contentLen
	return BoxVertical + " " + content + repeatString(" ", padding+1) + BoxVertical + "\n"
}

// FirstLine returns the first line of s, cut to max runes
func FirstLine(s string, max int) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	if utf8.RuneCountInString(s) > max {
		runes := []rune(s)
		s = string(runes[:max-3]) + "..."
	}
	return s
}

func repeatString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}

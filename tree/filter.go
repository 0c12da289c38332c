package tree

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter selects tests by their full title. Tests it rejects are left out of the run entirely.
type Filter struct {
	Pattern   *regexp.Regexp
	Substring string
	Invert    bool
}

// NewFilter compiles a filter from the grep/fgrep options
func NewFilter(pattern, substring string, invert bool) (Filter, error) {
	f := Filter{Substring: substring, Invert: invert}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid grep pattern %q: %w", pattern, err)
		}
		f.Pattern = re
	}
	return f, nil
}

// Active reports whether the filter restricts anything
func (f Filter) Active() bool {
	return f.Pattern != nil || f.Substring != ""
}

// Match reports whether a test with the given full title is kept.
// Invert has no effect on an inactive filter.
func (f Filter) Match(fullTitle string) bool {
	if !f.Active() {
		return true
	}
	matched := true
	if f.Pattern != nil && !f.Pattern.MatchString(fullTitle) {
		matched = false
	}
	if f.Substring != "" && !strings.Contains(fullTitle, f.Substring) {
		matched = false
	}
	return matched != f.Invert
}

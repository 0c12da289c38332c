package types

import "time"

// EventType names a step in the lifecycle of a run
type EventType string

const (
	EventRunStart    EventType = "run-start"
	EventSuiteStart  EventType = "suite-start"
	EventSuiteEnd    EventType = "suite-end"
	EventTestStart   EventType = "test-start"
	EventTestPass    EventType = "test-pass"
	EventTestFail    EventType = "test-fail"
	EventTestPending EventType = "test-pending"
	EventTestRetry   EventType = "test-retry"
	EventHookFail    EventType = "hook-fail"
	EventRunEnd      EventType = "run-end"
)

// SuiteInfo describes the suite an event refers to
type SuiteInfo struct {
	Title     string   `json:"title"`
	FullTitle string   `json:"fullTitle"`
	Path      []string `json:"path,omitempty"`
	Depth     int      `json:"depth"`
	Planned   int      `json:"planned"` // Tests of the subtree that are part of the run
	Synthetic bool     `json:"synthetic,omitempty"`
}

// HookInfo describes the hook a hook-fail event refers to
type HookInfo struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Suite string `json:"suite"`
	Test  string `json:"test,omitempty"` // Test the hook was bracketing, for each-hooks
}

// Event is a single entry of the linear event stream emitted by the runner.
// Seq is strictly increasing in emission order.
type Event struct {
	Seq    uint64         `json:"seq"`
	Type   EventType      `json:"type"`
	Time   time.Time      `json:"time"`
	RunID  string         `json:"runId"`
	Suite  *SuiteInfo     `json:"suite,omitempty"`
	Test   *TestResult    `json:"test,omitempty"`
	Hook   *HookInfo      `json:"hook,omitempty"`
	Errors []*ErrorRecord `json:"errors,omitempty"`
	Stats  *RunStats      `json:"stats,omitempty"`
}

// Emitter consumes events in emission order
type Emitter interface {
	Emit(ev *Event)
}

// Package runner executes a declared tree of suites, hooks and tests.
//
// The main components are:
//   - Runner: walks the planned tree depth-first, brackets tests with their hooks, drives
//     retries and bail, and emits the event stream
//   - node: the state machine of one body execution (pending, running, then settled,
//     timed-out or errored), including its timeout and the window in which out-of-band
//     failures are attributed to it
//   - runContext: the tree.RunContext handed to context bodies
//
// Every body runs on the runner's loop. The goroutine calling Run pumps that loop, so test
// completions, timer expiries and interceptor signals are all processed in one order.
package runner

// Package exitcodes defines the standard exit codes used by op-harness.
package exitcodes

// Exit code constants used by op-harness
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every planned test passed and no uncaught error remains
// * TestFailure (1): Used when a test or hook failed, or an uncaught error was buffered
// * RuntimeErr (2): Used for runtime errors such as bad configuration or an uncaught error
// raised while no run is active
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)

package runner

// Titles of the synthetic group that reports out-of-band failures no test could take
const (
	UncaughtSuiteTitle = "uncaught errors outside test"
	UncaughtTestTitle  = "uncaught error"
)

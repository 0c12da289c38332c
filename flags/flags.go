package flags

import (
	"fmt"
	"regexp"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_HARNESS"

// Reporters that ship with the harness
var KnownReporters = []string{"table", "tree", "json", "file", "progress"}

var (
	Grep = &cli.StringFlag{
		Name:    "grep",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GREP"),
		Usage:   "Only run tests whose full title matches this regular expression",
		Action: func(_ *cli.Context, v string) error {
			if _, err := regexp.Compile(v); err != nil {
				return fmt.Errorf("invalid --grep pattern: %w", err)
			}
			return nil
		},
	}
	FGrep = &cli.StringFlag{
		Name:    "fgrep",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FGREP"),
		Usage:   "Only run tests whose full title contains this string",
	}
	Invert = &cli.BoolFlag{
		Name:    "invert",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INVERT"),
		Usage:   "Run the tests that do not match --grep or --fgrep",
	}
	Retries = &cli.IntFlag{
		Name:    "retries",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RETRIES"),
		Usage:   "Number of times a failing test is retried",
		Action: func(_ *cli.Context, v int) error {
			if v < 0 {
				return fmt.Errorf("--retries must not be negative, got %d", v)
			}
			return nil
		},
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   2 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Default timeout of tests and hooks. 0 disables timeouts",
	}
	Slow = &cli.DurationFlag{
		Name:    "slow",
		Value:   75 * time.Millisecond,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SLOW"),
		Usage:   "Tests slower than this are flagged as slow",
	}
	Bail = &cli.BoolFlag{
		Name:    "bail",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BAIL"),
		Usage:   "Stop the run after the first test failure",
	}
	AllowUncaught = &cli.BoolFlag{
		Name:    "allow-uncaught",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ALLOW_UNCAUGHT"),
		Usage:   "Do not fail tests on uncaught errors raised while they run",
	}
	ReportRetries = &cli.BoolFlag{
		Name:    "report-retries",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_RETRIES"),
		Usage:   "Emit an event for every failed attempt that is retried",
	}
	Reporter = &cli.StringSliceFlag{
		Name:    "reporter",
		Value:   cli.NewStringSlice("table"),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORTER"),
		Usage:   fmt.Sprintf("Reporters to enable, any of %v", KnownReporters),
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory the file reporter writes run logs to",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates of the progress reporter",
	}
	List = &cli.BoolFlag{
		Name:    "list",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LIST"),
		Usage:   "Print the full titles of the tests that would run, then exit",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a YAML file with default options (eg. 'harness.yaml'). Flags take precedence",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Grep,
	FGrep,
	Invert,
	Retries,
	Timeout,
	Slow,
	Bail,
	AllowUncaught,
	ReportRetries,
	Reporter,
	LogDir,
	ProgressInterval,
	List,
	ConfigFile,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-harness/flags"
	"github.com/ethereum-optimism/infra/op-harness/service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// NewApp creates the command line application of a test program. declare builds the tree
// that every invocation runs.
func NewApp(version string, declare DeclareFunc) *cli.App {
	app := cli.NewApp()
	app.Version = version
	app.Name = "op-harness"
	app.Usage = "Runs declared test suites on a single event loop"
	app.Description = "op-harness runs suites of tests and hooks with timeouts, retries and uncaught error attribution"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(Lifecycle(version, declare))
	app.ExitErrHandler = HandleExitErr
	return app
}

// Lifecycle returns the cliapp constructor of the harness
func Lifecycle(version string, declare DeclareFunc) cliapp.LifecycleAction {
	return func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		logCfg := oplog.ReadCLIConfig(ctx)
		log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
		oplog.SetGlobalLogHandler(log.Handler())
		oplog.SetupDefaults()

		cfg, err := NewConfig(ctx, log)
		if err != nil {
			// Wrap in RuntimeError to signal this should exit with code 2
			return nil, NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
		}
		cfg.NoColor = !logCfg.Color
		cfg.Log.Debug("Config", "config", cfg)

		var opts []Option
		if metricsCfg := opmetrics.ReadCLIConfig(ctx); metricsCfg.Enabled {
			opts = append(opts, WithService(service.New(log.New("component", "service"), service.Config{
				HealthzAddr: net.JoinHostPort(service.HealthzHost, service.HealthzPort),
				MetricsAddr: net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort)),
			})))
		}

		h, err := New(cfg, version, declare, closeApp, opts...)
		if err != nil {
			// Wrap in RuntimeError to signal this should exit with code 2
			return nil, NewRuntimeError(fmt.Errorf("failed to create harness: %w", err))
		}
		return h, nil
	}
}

// HandleExitErr maps errors to exit codes: runtime errors exit with 2, everything else with 1
func HandleExitErr(_ *cli.Context, err error) {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		cli.HandleExitCoder(exitErr)
	} else if err != nil {
		cli.HandleExitCoder(cli.Exit(err.Error(), ExitCode(err)))
	}
}

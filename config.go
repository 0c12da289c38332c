package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-harness/flags"
	"github.com/ethereum-optimism/infra/op-harness/tree"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	Grep             string        // Regular expression matched against full titles
	FGrep            string        // Substring matched against full titles
	Invert           bool          // Run what does not match
	Retries          int           // Default retries of failing tests
	Timeout          time.Duration // Default timeout of tests and hooks, 0 disables
	Slow             time.Duration // Default slow threshold
	Bail             bool          // Stop after the first failed test
	AllowUncaught    bool          // Let out-of-band failures crash the run instead of failing tests
	ReportRetries    bool          // Emit test-retry events
	Reporters        []string      // Names of the enabled reporters
	LogDir           string        // Directory of the file reporter
	ProgressInterval time.Duration // Interval of the progress reporter
	List             bool          // Print the planned tests instead of running them
	NoColor          bool
	Out              io.Writer // Reporter output; stdout when nil
	Log              log.Logger
}

// FileConfig is the optional YAML file of default options.
// Unset fields leave the flag defaults in place.
type FileConfig struct {
	Grep             *string        `yaml:"grep"`
	FGrep            *string        `yaml:"fgrep"`
	Invert           *bool          `yaml:"invert"`
	Retries          *int           `yaml:"retries"`
	Timeout          *time.Duration `yaml:"timeout"`
	Slow             *time.Duration `yaml:"slow"`
	Bail             *bool          `yaml:"bail"`
	AllowUncaught    *bool          `yaml:"allow-uncaught"`
	ReportRetries    *bool          `yaml:"report-retries"`
	Reporters        []string       `yaml:"reporter"`
	LogDir           *string        `yaml:"log-dir"`
	ProgressInterval *time.Duration `yaml:"progress-interval"`
}

// LoadFileConfig reads a YAML options file. Unknown keys are rejected.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// pick returns the flag value when the flag was given on the command line or in the
// environment, else the file value when present, else the flag default
func pick[T any](ctx *cli.Context, name string, file *T, get func(string) T) T {
	if !ctx.IsSet(name) && file != nil {
		return *file
	}
	return get(name)
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	fc := &FileConfig{}
	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for config file '%s': %w", path, err)
		}
		if fc, err = LoadFileConfig(abs); err != nil {
			return nil, err
		}
		log.Debug("Loaded config file", "path", abs)
	}

	reporters := ctx.StringSlice(flags.Reporter.Name)
	if !ctx.IsSet(flags.Reporter.Name) && len(fc.Reporters) > 0 {
		reporters = fc.Reporters
	}

	cfg := &Config{
		Grep:             pick(ctx, flags.Grep.Name, fc.Grep, ctx.String),
		FGrep:            pick(ctx, flags.FGrep.Name, fc.FGrep, ctx.String),
		Invert:           pick(ctx, flags.Invert.Name, fc.Invert, ctx.Bool),
		Retries:          pick(ctx, flags.Retries.Name, fc.Retries, ctx.Int),
		Timeout:          pick(ctx, flags.Timeout.Name, fc.Timeout, ctx.Duration),
		Slow:             pick(ctx, flags.Slow.Name, fc.Slow, ctx.Duration),
		Bail:             pick(ctx, flags.Bail.Name, fc.Bail, ctx.Bool),
		AllowUncaught:    pick(ctx, flags.AllowUncaught.Name, fc.AllowUncaught, ctx.Bool),
		ReportRetries:    pick(ctx, flags.ReportRetries.Name, fc.ReportRetries, ctx.Bool),
		Reporters:        reporters,
		LogDir:           pick(ctx, flags.LogDir.Name, fc.LogDir, ctx.String),
		ProgressInterval: pick(ctx, flags.ProgressInterval.Name, fc.ProgressInterval, ctx.Duration),
		List:             ctx.Bool(flags.List.Name),
		Out:              ctx.App.Writer,
		Log:              log,
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates the options
func (c *Config) Check() error {
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.Slow < 0 {
		return fmt.Errorf("slow must not be negative, got %s", c.Slow)
	}
	if len(c.Reporters) == 0 {
		return errors.New("at least one reporter is required")
	}
	if _, err := c.Filter(); err != nil {
		return err
	}
	return nil
}

// Filter builds the title filter of the run
func (c *Config) Filter() (tree.Filter, error) {
	return tree.NewFilter(c.Grep, c.FGrep, c.Invert)
}

// Settings returns the run-wide defaults every node inherits
func (c *Config) Settings() tree.Settings {
	return tree.Settings{
		Timeout: c.Timeout,
		Slow:    c.Slow,
		Retries: c.Retries,
	}
}

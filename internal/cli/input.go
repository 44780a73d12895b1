package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"phylobuild/internal/config"
)

const (
	ExitSuccess           = 0
	ExitGraphFailure      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Invocation is the canonical description of one command: the run
// configuration after flag overrides, with every path absolute.
type Invocation struct {
	WorkflowPath string
	Config       config.Config
	ConfigPath   string
	JSON         bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// globalFlags are shared by every subcommand. Zero values leave the
// configuration file's setting in place.
type globalFlags struct {
	configPath   string
	workDir      string
	cores        int
	logLevel     string
	logFormat    string
	metricsAddr  string
	tracing      bool
	pollInterval time.Duration
	json         bool
}

func (f *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML run configuration")
	fs.StringVar(&f.workDir, "work-dir", "", "working directory (overrides work_dir)")
	fs.IntVar(&f.cores, "cores", 0, "core budget (overrides cores)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", "", "text|json")
	fs.BoolVar(&f.json, "json", false, "machine-readable output")
}

func (f *globalFlags) registerRun(fs *pflag.FlagSet) {
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port while running")
	fs.BoolVar(&f.tracing, "tracing", false, "export OpenTelemetry spans to stderr")
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "job status poll interval")
}

// resolve loads the configuration, applies flags the user set and
// canonicalizes paths. A relative work_dir in a file is taken relative to
// that file; one given as a flag is taken relative to the current directory.
func (f *globalFlags) resolve(fs *pflag.FlagSet, workflowPath string) (Invocation, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return Invocation{}, &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
	}
	if f.configPath != "" && !filepath.IsAbs(cfg.WorkDir) {
		cfg.WorkDir = filepath.Join(filepath.Dir(f.configPath), cfg.WorkDir)
	}
	if f.configPath != "" && cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(filepath.Dir(f.configPath), cfg.Store.Path)
	}

	if fs.Changed("work-dir") {
		if strings.TrimSpace(f.workDir) == "" {
			return Invocation{}, invalidInvocationf("--work-dir must not be empty")
		}
		cfg.WorkDir = f.workDir
	}
	if fs.Changed("cores") {
		if f.cores < 0 {
			return Invocation{}, invalidInvocationf("--cores must not be negative (got %d)", f.cores)
		}
		cfg.Cores = f.cores
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if fs.Lookup("metrics-addr") != nil && fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if fs.Lookup("tracing") != nil && fs.Changed("tracing") {
		cfg.Tracing = f.tracing
	}
	if fs.Lookup("poll-interval") != nil && fs.Changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if err := cfg.Validate(); err != nil {
		return Invocation{}, &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
	}

	abs, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return Invocation{}, configErrorf("resolving work dir: %v", err)
	}
	cfg.WorkDir = abs
	if cfg.Store.Path != "" {
		if cfg.Store.Path, err = filepath.Abs(cfg.Store.Path); err != nil {
			return Invocation{}, configErrorf("resolving store path: %v", err)
		}
	}

	inv := Invocation{Config: cfg, ConfigPath: f.configPath, JSON: f.json}
	if workflowPath != "" {
		if inv.WorkflowPath, err = filepath.Abs(filepath.Clean(workflowPath)); err != nil {
			return Invocation{}, invalidInvocationf("resolving workflow path: %v", err)
		}
	}
	return inv, nil
}

// ExitCode extracts a semantic exit code from an error returned by Run.
// Errors of unknown origin are internal.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	return ExitInternalError
}

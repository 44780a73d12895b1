// Package config loads the run configuration: where work happens, how many
// cores the build may use, which result store and execution backend to use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreBadger = "badger"

	BackendLocal   = "local"
	BackendCluster = "cluster"
)

// Config is the YAML run configuration.
type Config struct {
	// WorkDir holds task working directories, run records and, by default,
	// the result store.
	WorkDir string `yaml:"work_dir" validate:"required"`

	// Cores is the scheduler's core budget. Zero means the backend capacity.
	Cores int `yaml:"cores" validate:"gte=0"`

	PollInterval      time.Duration `yaml:"poll_interval" validate:"gte=0"`
	MaxSubmitAttempts int           `yaml:"max_submit_attempts" validate:"gte=0"`

	Store   StoreConfig   `yaml:"store"`
	Backend BackendConfig `yaml:"backend"`
	Log     LogConfig     `yaml:"log"`

	// MetricsAddr, when set, serves Prometheus metrics during a run.
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	// Tracing exports OpenTelemetry spans to stderr.
	Tracing bool `yaml:"tracing"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" validate:"oneof=memory file badger"`

	// Path defaults to <work_dir>/store.
	Path string `yaml:"path"`

	// SyncWrites makes the badger store fsync every write.
	SyncWrites bool `yaml:"sync_writes"`
}

type BackendConfig struct {
	Kind    string        `yaml:"kind" validate:"oneof=local cluster"`
	Cluster ClusterConfig `yaml:"cluster"`
}

type ClusterConfig struct {
	Submit      []string `yaml:"submit" validate:"omitempty,dive,required"`
	Cancel      []string `yaml:"cancel" validate:"omitempty,dive,required"`
	Cores       int      `yaml:"cores" validate:"gte=0"`
	MaxJobCores int      `yaml:"max_job_cores" validate:"gte=0"`
	SubmitRate  float64  `yaml:"submit_rate" validate:"gte=0"`
	SubmitBurst int      `yaml:"submit_burst" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		WorkDir:           "phylobuild-work",
		PollInterval:      2 * time.Second,
		MaxSubmitAttempts: 3,
		Store:             StoreConfig{Kind: StoreFile},
		Backend: BackendConfig{
			Kind: BackendLocal,
			Cluster: ClusterConfig{
				Submit:      []string{"sbatch", "--parsable"},
				Cancel:      []string{"scancel"},
				SubmitRate:  1,
				SubmitBurst: 5,
			},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Error reports an unreadable or invalid configuration.
type Error struct {
	Path     string
	Problems []string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	where := "configuration"
	if e.Path != "" {
		where = e.Path
	}
	if len(e.Problems) > 0 {
		return fmt.Sprintf("%s: %s", where, strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("%s: %v", where, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Load reads path over the defaults. Unknown keys are rejected. An empty
// path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Path: path, Cause: err}
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, &Error{Path: path, Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &Error{Cause: err}
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	if c.Backend.Kind == BackendCluster && len(c.Backend.Cluster.Submit) == 0 {
		problems = append(problems, "backend.cluster.submit is required for the cluster backend")
	}
	if c.Backend.Kind == BackendCluster && c.Backend.Cluster.Cores <= 0 {
		problems = append(problems, "backend.cluster.cores must be > 0 for the cluster backend")
	}
	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// StorePath resolves the store location.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.WorkDir, "store")
}

package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/reactor/internal/errors"
	"github.com/vango-dev/reactor/pkg/reactive"
)

const (
	// ConfigFileName is the file LoadOptional looks for.
	ConfigFileName = "reactor.yaml"

	// DefaultDebugAddr is the default debug server listen address.
	DefaultDebugAddr = "localhost:6060"

	// DefaultNamespace is the default Prometheus namespace.
	DefaultNamespace = "reactor"

	// DefaultGoroutines is the default number of writer goroutines per
	// stress scenario.
	DefaultGoroutines = 8

	// DefaultIterations is the default number of operations per goroutine.
	DefaultIterations = 1000

	// DefaultReportDir is the default local report directory.
	DefaultReportDir = "reports"
)

// Duration is a time.Duration that reads from "1.5s" style strings in both
// JSON and YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	return d.parse(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the complete reactor configuration.
type Config struct {
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Debug   DebugConfig   `json:"debug" yaml:"debug"`
	Stress  StressConfig  `json:"stress" yaml:"stress"`
	Report  ReportConfig  `json:"report" yaml:"report"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// RuntimeConfig tunes the reactive runtime.
type RuntimeConfig struct {
	// Name labels the runtime in logs.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// MaxCoalescedPasses bounds callback-caused follow-up passes.
	MaxCoalescedPasses int `json:"maxCoalescedPasses,omitempty" yaml:"maxCoalescedPasses,omitempty"`

	// MaxDispatchDepth bounds nested passes on one goroutine.
	MaxDispatchDepth int `json:"maxDispatchDepth,omitempty" yaml:"maxDispatchDepth,omitempty"`

	// DispatchBudget warns when one cell runs more passes than this within
	// DispatchBudgetWindow. Zero disables the warning.
	DispatchBudget       int      `json:"dispatchBudget,omitempty" yaml:"dispatchBudget,omitempty"`
	DispatchBudgetWindow Duration `json:"dispatchBudgetWindow,omitempty" yaml:"dispatchBudgetWindow,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Subsystem string `json:"subsystem,omitempty" yaml:"subsystem,omitempty"`
}

// DebugConfig configures the inspect HTTP server.
type DebugConfig struct {
	Addr            string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	ReadTimeout     Duration `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	ShutdownTimeout Duration `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty"`
}

// StressConfig sizes stress runs.
type StressConfig struct {
	Goroutines int      `json:"goroutines,omitempty" yaml:"goroutines,omitempty"`
	Iterations int      `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Timeout    Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Scenarios limits the run to the named scenarios. Empty runs all.
	Scenarios []string `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
}

// ReportConfig selects where stress reports go. When Bucket is set reports
// are uploaded to S3, otherwise they are written to Dir.
type ReportConfig struct {
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			MaxCoalescedPasses:   reactive.DefaultMaxCoalescedPasses,
			MaxDispatchDepth:     reactive.DefaultMaxDispatchDepth,
			DispatchBudgetWindow: Duration(time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: DefaultNamespace,
		},
		Debug: DebugConfig{
			Addr:            DefaultDebugAddr,
			ReadTimeout:     Duration(10 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Stress: StressConfig{
			Goroutines: DefaultGoroutines,
			Iterations: DefaultIterations,
			Timeout:    Duration(30 * time.Second),
		},
		Report: ReportConfig{
			Dir:    DefaultReportDir,
			Prefix: "reactor/",
		},
	}
}

// Load reads configuration from path. The format follows the extension:
// .json, .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("R001").
				WithLocation(path, 0).
				WithDetail("No configuration file at " + path).
				WithSuggestion("Check the --config path or remove the flag to use defaults").
				Wrap(err)
		}
		return nil, errors.New("R001").WithLocation(path, 0).Wrap(err)
	}

	cfg := New()
	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional loads ConfigFileName from dir, returning defaults when the
// file does not exist.
func LoadOptional(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); stderrors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	return Load(path)
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			e := errors.New("R002").WithSuggestion("Check that the file is valid JSON")
			var syn *json.SyntaxError
			if stderrors.As(err, &syn) {
				e.WithLocation(path, lineOf(data, syn.Offset))
			} else {
				e.WithLocation(path, 0)
			}
			return e.Wrap(err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return errors.New("R002").
				WithLocation(path, 0).
				WithSuggestion("Indent nested keys with spaces, not tabs").
				Wrap(err)
		}
	default:
		return errors.New("R004").WithLocation(path, 0)
	}
	return nil
}

// lineOf returns the 1-based line containing byte offset off.
func lineOf(data []byte, off int64) int {
	if off > int64(len(data)) {
		off = int64(len(data))
	}
	line := 1
	for _, b := range data[:off] {
		if b == '\n' {
			line++
		}
	}
	return line
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()
	if c.Runtime.MaxCoalescedPasses == 0 {
		c.Runtime.MaxCoalescedPasses = d.Runtime.MaxCoalescedPasses
	}
	if c.Runtime.MaxDispatchDepth == 0 {
		c.Runtime.MaxDispatchDepth = d.Runtime.MaxDispatchDepth
	}
	if c.Runtime.DispatchBudgetWindow == 0 {
		c.Runtime.DispatchBudgetWindow = d.Runtime.DispatchBudgetWindow
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = d.Metrics.Namespace
	}
	if c.Debug.Addr == "" {
		c.Debug.Addr = d.Debug.Addr
	}
	if c.Debug.ReadTimeout == 0 {
		c.Debug.ReadTimeout = d.Debug.ReadTimeout
	}
	if c.Debug.ShutdownTimeout == 0 {
		c.Debug.ShutdownTimeout = d.Debug.ShutdownTimeout
	}
	if c.Stress.Goroutines == 0 {
		c.Stress.Goroutines = d.Stress.Goroutines
	}
	if c.Stress.Iterations == 0 {
		c.Stress.Iterations = d.Stress.Iterations
	}
	if c.Stress.Timeout == 0 {
		c.Stress.Timeout = d.Stress.Timeout
	}
	if c.Report.Dir == "" {
		c.Report.Dir = d.Report.Dir
	}
}

// Validate checks that every value is in range.
func (c *Config) Validate() error {
	invalid := func(detail string) *errors.ReactorError {
		e := errors.New("R003").WithDetail(detail)
		if c.configPath != "" {
			e.WithLocation(c.configPath, 0)
		}
		return e
	}

	if c.Runtime.MaxCoalescedPasses < 0 {
		return invalid("runtime.maxCoalescedPasses must not be negative")
	}
	if c.Runtime.MaxDispatchDepth < 0 {
		return invalid("runtime.maxDispatchDepth must not be negative")
	}
	if c.Runtime.DispatchBudget < 0 {
		return invalid("runtime.dispatchBudget must not be negative")
	}
	if c.Runtime.DispatchBudget > 0 && c.Runtime.DispatchBudgetWindow <= 0 {
		return invalid("runtime.dispatchBudgetWindow must be positive when dispatchBudget is set")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return invalid(err.Error())
	}
	if f := c.Log.Format; f != "" && f != "text" && f != "json" {
		return invalid(fmt.Sprintf("log.format must be text or json, got %q", f))
	}
	if c.Stress.Goroutines < 0 || c.Stress.Iterations < 0 {
		return invalid("stress.goroutines and stress.iterations must not be negative")
	}
	if c.Stress.Timeout < 0 {
		return invalid("stress.timeout must not be negative")
	}
	if c.Report.Bucket != "" && c.Report.Region == "" {
		return invalid("report.region is required when report.bucket is set").
			WithSuggestion("Set report.region, e.g. us-east-1")
	}
	return nil
}

// Path returns the path the config was loaded from, or "" for defaults.
func (c *Config) Path() string {
	return c.configPath
}

// SaveTo writes the configuration to path in the format its extension
// selects.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		return errors.New("R004").WithLocation(path, 0)
	}
	if err != nil {
		return errors.New("R001").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("R001").WithLocation(path, 0).Wrap(err)
	}
	c.configPath = path
	return nil
}

// ToOptions converts the runtime section into reactive options.
func (c *Config) ToOptions() []reactive.Option {
	opts := []reactive.Option{
		reactive.WithMaxCoalescedPasses(c.Runtime.MaxCoalescedPasses),
		reactive.WithMaxDispatchDepth(c.Runtime.MaxDispatchDepth),
	}
	if c.Runtime.Name != "" {
		opts = append(opts, reactive.WithName(c.Runtime.Name))
	}
	if c.Runtime.DispatchBudget > 0 {
		opts = append(opts, reactive.WithDispatchBudget(c.Runtime.DispatchBudget, c.Runtime.DispatchBudgetWindow.Std()))
	}
	return opts
}

// NewLogger builds a slog.Logger writing to w per the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
}

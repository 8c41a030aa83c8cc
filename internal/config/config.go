// internal/config/config.go
//
// This package handles configuration and the .searchflow directory structure.
// Every project that runs pipelines gets a .searchflow/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// HomeDir is the name of the directory we create in each project.
	HomeDir = ".searchflow"
	// HomeEnv overrides the home directory. Relative values are resolved
	// against the project directory.
	HomeEnv = "SEARCHFLOW_HOME"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

const defaultProjectConfigYAML = `# searchflow project configuration
version: 1

driver:
  # How long a drive waits for an asynchronous task before giving up.
  resume_timeout: 30s
  recheck_interval: 1s

engine:
  # Polling cadence for tasks that do not publish their state changes.
  poll_interval: 1s

daemon:
  workers: 4
  queue_size: 64

logging:
  format: console
  verbosity: 0

bridge:
  # Set to an address such as 127.0.0.1:9464 to serve /health, /metrics,
  # /tasks and /events while a pipeline runs.
  address: ""
`

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses values such as "30s" or "1m30s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// DriverConfig tunes the drive loop.
type DriverConfig struct {
	ResumeTimeout   Duration `yaml:"resume_timeout"`
	RecheckInterval Duration `yaml:"recheck_interval"`
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
}

// DaemonConfig sizes the worker daemon.
type DaemonConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// LoggingConfig selects the console log format and verbosity.
type LoggingConfig struct {
	Format    string `yaml:"format"`
	Verbosity int    `yaml:"verbosity"`
}

// BridgeConfig enables the HTTP bridge for a run.
type BridgeConfig struct {
	Address string `yaml:"address"`
}

// ProjectConfig models .searchflow/config.yaml.
type ProjectConfig struct {
	Version int           `yaml:"version"`
	Driver  DriverConfig  `yaml:"driver"`
	Engine  EngineConfig  `yaml:"engine"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
	Bridge  BridgeConfig  `yaml:"bridge"`
}

// Config holds the runtime configuration for a project.
type Config struct {
	// ProjectDir is the directory searchflow was run from.
	ProjectDir string
	// Home is ProjectDir/.searchflow unless SEARCHFLOW_HOME says otherwise.
	Home string

	Project ProjectConfig
}

// Home returns the home directory for projectDir.
func Home(projectDir string) string {
	if override := strings.TrimSpace(os.Getenv(HomeEnv)); override != "" {
		return resolvePath(projectDir, override)
	}
	return filepath.Join(projectDir, HomeDir)
}

// InitDir creates the home directory structure and a default config file.
//
// Structure created:
// .searchflow/
// ├── config.yaml
// ├── logs/       <- searchflow.log
// ├── history/    <- one <run-id>.jsonl per run
// └── pipelines/  <- pipeline definitions
func InitDir(projectDir string) error {
	home := Home(projectDir)
	for _, dir := range []string{
		filepath.Join(home, "logs"),
		filepath.Join(home, "history"),
		filepath.Join(home, "pipelines"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(home, "config.yaml"))
}

// New loads the configuration for projectDir. A missing config file yields
// the defaults.
func New(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		Home:       Home(projectDir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Home, "logs")
}

// HistoryDir returns the path to the run history directory.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.Home, "history")
}

// PipelinesDir returns the path to the pipeline definitions directory.
func (c *Config) PipelinesDir() string {
	return filepath.Join(c.Home, "pipelines")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.Home, "config.yaml")
}

// Save validates the project settings and writes them back to disk.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.Home, 0o755); err != nil {
		return fmt.Errorf("config: ensure home dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	var pc ProjectConfig
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Driver.ResumeTimeout.Duration == 0 {
		pc.Driver.ResumeTimeout.Duration = 30 * time.Second
	}
	if pc.Driver.RecheckInterval.Duration == 0 {
		pc.Driver.RecheckInterval.Duration = time.Second
	}
	if pc.Engine.PollInterval.Duration == 0 {
		pc.Engine.PollInterval.Duration = time.Second
	}
	if pc.Daemon.Workers == 0 {
		pc.Daemon.Workers = 4
	}
	if pc.Daemon.QueueSize == 0 {
		pc.Daemon.QueueSize = 64
	}
	if pc.Logging.Format == "" {
		pc.Logging.Format = LogFormatConsole
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Logging.Format = strings.ToLower(strings.TrimSpace(pc.Logging.Format))
	pc.Bridge.Address = strings.TrimSpace(pc.Bridge.Address)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Driver.ResumeTimeout.Duration < 0 {
		return fmt.Errorf("driver.resume_timeout must be positive")
	}
	if pc.Driver.RecheckInterval.Duration < 0 {
		return fmt.Errorf("driver.recheck_interval must be positive")
	}
	if pc.Engine.PollInterval.Duration < 0 {
		return fmt.Errorf("engine.poll_interval must be positive")
	}
	if pc.Daemon.Workers < 0 {
		return fmt.Errorf("daemon.workers must be >= 1")
	}
	if pc.Daemon.QueueSize < 0 {
		return fmt.Errorf("daemon.queue_size must be >= 1")
	}
	switch pc.Logging.Format {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("logging.format must be '%s' or '%s'", LogFormatConsole, LogFormatJSON)
	}
	if pc.Logging.Verbosity < 0 {
		return fmt.Errorf("logging.verbosity must be >= 0")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

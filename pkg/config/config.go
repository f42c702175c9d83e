package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/sweep/pkg/api"
	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/manager"
	"github.com/cuemby/sweep/pkg/orchestrator"
	"github.com/cuemby/sweep/pkg/types"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultMaxMode      = 5
	DefaultResolution   = 100
	DefaultResultsDir   = "./results"
	DefaultDataDir      = "./sweep-data"
	DefaultAPIAddr      = "127.0.0.1:8080"
	DefaultHealthAddr   = "127.0.0.1:9090"
	DefaultSocketPath   = "/tmp/sweep.sock"
	DefaultRaftBindAddr = "127.0.0.1:7946"
)

// Config is the full runtime configuration of coordinator and worker
// processes. Values come from the YAML file, then the environment, then
// command-line flags.
type Config struct {
	Sweep    SweepConfig    `yaml:"sweep"`
	Pendulum PendulumConfig `yaml:"pendulum"`
	Beam     BeamConfig     `yaml:"beam"`
	Worker   WorkerConfig   `yaml:"worker"`
	Queue    QueueConfig    `yaml:"queue"`
	Server   ServerConfig   `yaml:"server"`
	Raft     RaftConfig     `yaml:"raft"`
	Log      LogConfig      `yaml:"log"`
}

// SweepConfig selects the experiment
type SweepConfig struct {
	Kind       types.SweepKind `yaml:"kind"`
	ResultsDir string          `yaml:"results_dir"`
	DataDir    string          `yaml:"data_dir"`
	// AutoSeed seeds the experiment this long after the coordinator
	// starts. Zero disables it.
	AutoSeed time.Duration `yaml:"auto_seed"`
	// StatusFiles keeps the status markers as plain files under
	// <results_dir>/status instead of the state store. Ignored with raft.
	StatusFiles bool `yaml:"status_files"`
}

// PendulumConfig holds the pendulum grid and physical parameters
type PendulumConfig struct {
	Resolution            int `yaml:"resolution"`
	kernel.PendulumParams `yaml:",inline"`
}

// BeamConfig holds the beam integral sweep parameters
type BeamConfig struct {
	MaxMode int `yaml:"max_mode"`
	// Precision is the significant digits of string results; zero gives
	// the shortest exact form
	Precision     int      `yaml:"precision"`
	ZeroThreshold float64  `yaml:"zero_threshold"`
	Beams         []string `yaml:"beams,omitempty"`
}

// WorkerConfig describes a worker process
type WorkerConfig struct {
	// Coordinator is the gRPC address of the coordinator
	Coordinator string `yaml:"coordinator"`
	Concurrency int    `yaml:"concurrency"`
	// Class is the queue class the worker consumes
	Class types.TaskClass `yaml:"class"`
	// MetricsAddr serves worker health and metrics when set
	MetricsAddr string `yaml:"metrics_addr"`
	// Compression applies to messages sent to the coordinator: none or gzip
	Compression string `yaml:"compression"`
}

// QueueConfig holds broker settings
type QueueConfig struct {
	LeaseTimeout      time.Duration `yaml:"lease_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// ServerConfig holds the listen addresses of the coordinator
type ServerConfig struct {
	APIAddr    string       `yaml:"api_addr"`
	HealthAddr string       `yaml:"health_addr"`
	SocketPath string       `yaml:"socket_path"`
	TLS        api.TLSFiles `yaml:"tls"`
}

// RaftConfig enables the replicated state store when NodeID is set
type RaftConfig struct {
	NodeID   string         `yaml:"node_id"`
	BindAddr string         `yaml:"bind_addr"`
	Peers    []manager.Peer `yaml:"peers,omitempty"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Sweep: SweepConfig{
			Kind:       types.SweepBeam,
			ResultsDir: DefaultResultsDir,
			DataDir:    DefaultDataDir,
		},
		Pendulum: PendulumConfig{
			Resolution:     DefaultResolution,
			PendulumParams: kernel.DefaultPendulumParams(),
		},
		Beam: BeamConfig{
			MaxMode:       DefaultMaxMode,
			ZeroThreshold: kernel.DefaultZeroThreshold,
		},
		Worker: WorkerConfig{
			Coordinator: DefaultAPIAddr,
			Concurrency: runtime.NumCPU(),
			Class:       types.ClassWorker,
			Compression: api.CompressionNone,
		},
		Server: ServerConfig{
			APIAddr:    DefaultAPIAddr,
			HealthAddr: DefaultHealthAddr,
			SocketPath: DefaultSocketPath,
		},
		Raft: RaftConfig{
			BindAddr: DefaultRaftBindAddr,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.int("MAX_CPU_CORES", &c.Worker.Concurrency)
	if v, ok := lookup("SERVER_NAME"); ok && v != "" {
		c.Worker.Coordinator = coordinatorAddr(v)
	}
	if v, ok := lookup("COMPUTER_TYPE"); ok && v != "" {
		c.Worker.Class = computerClass(v)
	}
	if v, ok := lookup("SWEEP_KIND"); ok && v != "" {
		c.Sweep.Kind = types.SweepKind(strings.ToLower(v))
	}
	e.str("RESULTS_DIR", &c.Sweep.ResultsDir)
	if v, ok := lookup("SWEEP_COMPRESSION"); ok && v != "" {
		c.Worker.Compression = strings.ToLower(v)
	}

	e.int("BEAM_INTEGRALS_MAX_MODE", &c.Beam.MaxMode)
	e.int("BEAM_INTEGRALS_DECIMAL_PRECISION", &c.Beam.Precision)
	e.float("BEAM_INTEGRALS_NORMALIZE_INTEGRALS_SMALLER_THAN", &c.Beam.ZeroThreshold)

	e.int("PENDULUM_RESOLUTION", &c.Pendulum.Resolution)
	e.float("PENDULUM_TMAX", &c.Pendulum.TMax)
	e.float("PENDULUM_DT", &c.Pendulum.Dt)
	e.float("PENDULUM_L1", &c.Pendulum.L1)
	e.float("PENDULUM_L2", &c.Pendulum.L2)
	e.float("PENDULUM_M1", &c.Pendulum.M1)
	e.float("PENDULUM_M2", &c.Pendulum.M2)

	return e.err
}

// coordinatorAddr adds the default API port to a bare host name
func coordinatorAddr(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	_, port, _ := net.SplitHostPort(DefaultAPIAddr)
	return net.JoinHostPort(server, port)
}

// computerClass maps COMPUTER_TYPE to a task class. "server" is the
// coordinator; anything else unrecognised is kept so Validate reports it.
func computerClass(v string) types.TaskClass {
	switch strings.ToLower(v) {
	case "server", string(types.ClassCoordinator):
		return types.ClassCoordinator
	default:
		return types.TaskClass(strings.ToLower(v))
	}
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.lookup(name)
	if !ok || v == "" || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("invalid %s %q: %w", name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(name string, dst *float64) {
	v, ok := e.lookup(name)
	if !ok || v == "" || e.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.err = fmt.Errorf("invalid %s %q: %w", name, v, err)
		return
	}
	*dst = f
}

// Validate checks the settings shared by every process
func (c *Config) Validate() error {
	exp := c.Experiment()
	if err := exp.Validate(); err != nil {
		return err
	}
	if c.Pendulum.TMax < 0 {
		return fmt.Errorf("pendulum tmax must not be negative")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	switch c.Worker.Class {
	case types.ClassCoordinator, types.ClassWorker:
	default:
		return fmt.Errorf("unknown computer type %q", c.Worker.Class)
	}
	if err := api.ValidateCompression(c.Worker.Compression); err != nil {
		return err
	}
	if c.Queue.LeaseTimeout < 0 || c.Queue.ReconcileInterval < 0 {
		return fmt.Errorf("queue intervals must not be negative")
	}
	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative")
	}
	if c.Raft.NodeID != "" && c.Raft.BindAddr == "" {
		return fmt.Errorf("raft bind address is required when a node ID is set")
	}
	return nil
}

// Experiment converts the configuration into the experiment definition
func (c *Config) Experiment() orchestrator.Experiment {
	return orchestrator.Experiment{
		Kind:          c.Sweep.Kind,
		ResultsDir:    c.Sweep.ResultsDir,
		Resolution:    c.Pendulum.Resolution,
		Pendulum:      c.Pendulum.PendulumParams,
		MaxMode:       c.Beam.MaxMode,
		Precision:     c.Beam.Precision,
		ZeroThreshold: c.Beam.ZeroThreshold,
		Beams:         c.Beam.Beams,
	}
}

// StatusDir is where file status markers live
func (c *Config) StatusDir() string {
	return filepath.Join(c.Sweep.ResultsDir, "status")
}

// Replicated reports whether the coordinator state goes through raft
func (c *Config) Replicated() bool {
	return c.Raft.NodeID != ""
}

// ManagerConfig builds the raft manager configuration
func (c *Config) ManagerConfig() *manager.Config {
	return &manager.Config{
		NodeID:   c.Raft.NodeID,
		BindAddr: c.Raft.BindAddr,
		DataDir:  c.Sweep.DataDir,
		Peers:    c.Raft.Peers,
	}
}

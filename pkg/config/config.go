// Package config handles matrixgraph configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--data-dir, --log-level)
//  2. Environment variables (MATRIXGRAPH_*)
//  3. Config file (config.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Data dir: %s\n", cfg.Database.DataDir)
//
// Environment Variables (all use MATRIXGRAPH_ prefix):
//
// Database:
//   - MATRIXGRAPH_DATA_DIR="./data"
//   - MATRIXGRAPH_DEFAULT_GRAPH="default"
//   - MATRIXGRAPH_INITIAL_NODE_CAPACITY=16
//   - MATRIXGRAPH_MAX_NODE_CAPACITY=0 (unlimited)
//   - MATRIXGRAPH_IN_MEMORY=false
//
// Logging:
//   - MATRIXGRAPH_LOG_LEVEL="INFO"
//   - MATRIXGRAPH_LOG_FORMAT="text"
//   - MATRIXGRAPH_SLOW_COMMIT_THRESHOLD="250ms"
//
// Tracing and metrics:
//   - MATRIXGRAPH_TRACING_ENABLED=false
//   - MATRIXGRAPH_TRACING_ENDPOINT="http://localhost:4318"
//   - MATRIXGRAPH_METRICS_ENABLED=true
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all matrixgraph configuration.
//
// Configuration is organized into logical sections:
//   - Database: graph storage and snapshot settings
//   - Logging: log level, format and slow-commit reporting
//   - Tracing: OpenTelemetry export
//   - Metrics: Prometheus collectors
type Config struct {
	Database DatabaseConfig
	Logging  LoggingConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
}

// DatabaseConfig holds graph storage settings.
type DatabaseConfig struct {
	// DataDir is where graph snapshots are persisted.
	DataDir string
	// DefaultGraph is the graph used when none is named.
	DefaultGraph string
	// InitialNodeCapacity is the starting matrix dimension.
	InitialNodeCapacity uint64
	// MaxNodeCapacity caps matrix growth (0 = unlimited).
	MaxNodeCapacity uint64
	// InMemory keeps snapshots in memory only (testing).
	InMemory bool
	// SyncWrites fsyncs every snapshot write.
	SyncWrites bool
	// LowMemory shrinks BadgerDB caches.
	LowMemory bool
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format (json, text)
	Format string
	// Output path (stdout, stderr, or file path)
	Output string
	// SlowCommitThreshold logs delete commits that hold the write lock longer
	// than this at WARN. Zero disables.
	SlowCommitThreshold time.Duration
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool
}

// Validate checks the configuration for values that cannot work.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if c.Database.DataDir == "" && !c.Database.InMemory {
		return fmt.Errorf("data directory required unless in_memory is set")
	}
	if c.Database.DefaultGraph == "" {
		return fmt.Errorf("default graph name must not be empty")
	}
	if c.Database.InitialNodeCapacity == 0 {
		return fmt.Errorf("invalid initial node capacity: 0")
	}
	if c.Database.MaxNodeCapacity > 0 && c.Database.MaxNodeCapacity < c.Database.InitialNodeCapacity {
		return fmt.Errorf("max node capacity %d below initial capacity %d",
			c.Database.MaxNodeCapacity, c.Database.InitialNodeCapacity)
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return fmt.Errorf("tracing enabled but no service name provided")
	}
	return nil
}

// String returns a compact representation of the Config suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, Graph: %s, Capacity: %d/%d, InMemory: %v, Log: %s/%s, Tracing: %v}",
		c.Database.DataDir, c.Database.DefaultGraph,
		c.Database.InitialNodeCapacity, c.Database.MaxNodeCapacity,
		c.Database.InMemory,
		c.Logging.Level, c.Logging.Format,
		c.Tracing.Enabled,
	)
}

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Database struct {
		DataDir             string `yaml:"data_dir"`
		DefaultGraph        string `yaml:"default_graph"`
		InitialNodeCapacity uint64 `yaml:"initial_node_capacity"`
		MaxNodeCapacity     uint64 `yaml:"max_node_capacity"`
		InMemory            bool   `yaml:"in_memory"`
		SyncWrites          bool   `yaml:"sync_writes"`
		LowMemory           bool   `yaml:"low_memory"`
	} `yaml:"database"`

	Logging struct {
		Level               string `yaml:"level"`
		Format              string `yaml:"format"`
		Output              string `yaml:"output"`
		SlowCommitThreshold string `yaml:"slow_commit_threshold"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		Endpoint    string `yaml:"endpoint"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`

	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// LoadDefaults returns a Config holding built-in defaults with environment
// overrides applied.
func LoadDefaults() *Config {
	config := &Config{
		Database: DatabaseConfig{
			DataDir:             "./data",
			DefaultGraph:        "default",
			InitialNodeCapacity: 16,
		},
		Logging: LoggingConfig{
			Level:               "INFO",
			Format:              "text",
			Output:              "stderr",
			SlowCommitThreshold: 250 * time.Millisecond,
		},
		Tracing: TracingConfig{
			ServiceName: "matrixgraph",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
	applyEnvVars(config)
	return config
}

// applyEnvVars overlays MATRIXGRAPH_* environment variables onto config.
func applyEnvVars(config *Config) {
	config.Database.DataDir = getEnv("MATRIXGRAPH_DATA_DIR", config.Database.DataDir)
	config.Database.DefaultGraph = getEnv("MATRIXGRAPH_DEFAULT_GRAPH", config.Database.DefaultGraph)
	config.Database.InitialNodeCapacity = getEnvUint("MATRIXGRAPH_INITIAL_NODE_CAPACITY", config.Database.InitialNodeCapacity)
	config.Database.MaxNodeCapacity = getEnvUint("MATRIXGRAPH_MAX_NODE_CAPACITY", config.Database.MaxNodeCapacity)
	config.Database.InMemory = getEnvBool("MATRIXGRAPH_IN_MEMORY", config.Database.InMemory)
	config.Database.SyncWrites = getEnvBool("MATRIXGRAPH_SYNC_WRITES", config.Database.SyncWrites)
	config.Database.LowMemory = getEnvBool("MATRIXGRAPH_LOW_MEMORY", config.Database.LowMemory)

	config.Logging.Level = getEnv("MATRIXGRAPH_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("MATRIXGRAPH_LOG_FORMAT", config.Logging.Format)
	config.Logging.Output = getEnv("MATRIXGRAPH_LOG_OUTPUT", config.Logging.Output)
	config.Logging.SlowCommitThreshold = getEnvDuration("MATRIXGRAPH_SLOW_COMMIT_THRESHOLD", config.Logging.SlowCommitThreshold)

	config.Tracing.Enabled = getEnvBool("MATRIXGRAPH_TRACING_ENABLED", config.Tracing.Enabled)
	config.Tracing.Endpoint = getEnv("MATRIXGRAPH_TRACING_ENDPOINT", config.Tracing.Endpoint)
	config.Tracing.ServiceName = getEnv("MATRIXGRAPH_TRACING_SERVICE_NAME", config.Tracing.ServiceName)

	config.Metrics.Enabled = getEnvBool("MATRIXGRAPH_METRICS_ENABLED", config.Metrics.Enabled)
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
// Environment variables are applied last and win over file values. A missing
// file is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()
	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Database Settings ===
	if yamlCfg.Database.DataDir != "" {
		config.Database.DataDir = yamlCfg.Database.DataDir
	}
	if yamlCfg.Database.DefaultGraph != "" {
		config.Database.DefaultGraph = yamlCfg.Database.DefaultGraph
	}
	if yamlCfg.Database.InitialNodeCapacity > 0 {
		config.Database.InitialNodeCapacity = yamlCfg.Database.InitialNodeCapacity
	}
	if yamlCfg.Database.MaxNodeCapacity > 0 {
		config.Database.MaxNodeCapacity = yamlCfg.Database.MaxNodeCapacity
	}
	if yamlCfg.Database.InMemory {
		config.Database.InMemory = true
	}
	if yamlCfg.Database.SyncWrites {
		config.Database.SyncWrites = true
	}
	if yamlCfg.Database.LowMemory {
		config.Database.LowMemory = true
	}

	// === Logging Settings ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = yamlCfg.Logging.Level
	}
	if yamlCfg.Logging.Format != "" {
		config.Logging.Format = yamlCfg.Logging.Format
	}
	if yamlCfg.Logging.Output != "" {
		config.Logging.Output = yamlCfg.Logging.Output
	}
	if yamlCfg.Logging.SlowCommitThreshold != "" {
		d, err := time.ParseDuration(yamlCfg.Logging.SlowCommitThreshold)
		if err != nil {
			return nil, fmt.Errorf("invalid slow_commit_threshold: %w", err)
		}
		config.Logging.SlowCommitThreshold = d
	}

	// === Tracing Settings ===
	if yamlCfg.Tracing.Enabled {
		config.Tracing.Enabled = true
	}
	if yamlCfg.Tracing.Endpoint != "" {
		config.Tracing.Endpoint = yamlCfg.Tracing.Endpoint
	}
	if yamlCfg.Tracing.ServiceName != "" {
		config.Tracing.ServiceName = yamlCfg.Tracing.ServiceName
	}

	// === Metrics Settings ===
	if yamlCfg.Metrics.Enabled != nil {
		config.Metrics.Enabled = *yamlCfg.Metrics.Enabled
	}

	applyEnvVars(config)
	return config, nil
}

// FindConfigFile searches for config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.matrixgraph/config.yaml
//  2. Current working directory (config.yaml, matrixgraph.yaml)
//  3. ~/.config/matrixgraph/config.yaml
func FindConfigFile() string {
	var candidates []string
	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".matrixgraph", "config.yaml"))
	}
	candidates = append(candidates, "config.yaml", "matrixgraph.yaml")
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "matrixgraph", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as milliseconds
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults tests default values are loaded correctly.
func TestLoadDefaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadDefaults()

	if cfg.Database.DataDir != "./data" {
		t.Errorf("expected data dir './data', got %q", cfg.Database.DataDir)
	}
	if cfg.Database.DefaultGraph != "default" {
		t.Errorf("expected default graph 'default', got %q", cfg.Database.DefaultGraph)
	}
	if cfg.Database.InitialNodeCapacity != 16 {
		t.Errorf("expected initial capacity 16, got %d", cfg.Database.InitialNodeCapacity)
	}
	if cfg.Database.MaxNodeCapacity != 0 {
		t.Errorf("expected unlimited max capacity, got %d", cfg.Database.MaxNodeCapacity)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected log level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.SlowCommitThreshold != 250*time.Millisecond {
		t.Errorf("expected slow commit threshold 250ms, got %v", cfg.Logging.SlowCommitThreshold)
	}
	if cfg.Tracing.Enabled {
		t.Error("expected tracing disabled by default")
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadDefaults_EnvOverrides(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("MATRIXGRAPH_DATA_DIR", "/tmp/graphs")
	t.Setenv("MATRIXGRAPH_MAX_NODE_CAPACITY", "1024")
	t.Setenv("MATRIXGRAPH_IN_MEMORY", "yes")
	t.Setenv("MATRIXGRAPH_LOG_LEVEL", "DEBUG")
	t.Setenv("MATRIXGRAPH_SLOW_COMMIT_THRESHOLD", "40")
	t.Setenv("MATRIXGRAPH_METRICS_ENABLED", "false")

	cfg := LoadDefaults()

	if cfg.Database.DataDir != "/tmp/graphs" {
		t.Errorf("expected data dir '/tmp/graphs', got %q", cfg.Database.DataDir)
	}
	if cfg.Database.MaxNodeCapacity != 1024 {
		t.Errorf("expected max capacity 1024, got %d", cfg.Database.MaxNodeCapacity)
	}
	if !cfg.Database.InMemory {
		t.Error("expected InMemory from env")
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.SlowCommitThreshold != 40*time.Millisecond {
		t.Errorf("expected bare number parsed as ms, got %v", cfg.Logging.SlowCommitThreshold)
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled from env")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
database:
  data_dir: /var/lib/matrixgraph
  default_graph: social
  initial_node_capacity: 64
  max_node_capacity: 4096
logging:
  level: WARN
  format: json
  slow_commit_threshold: 1s
tracing:
  enabled: true
  endpoint: http://collector:4318
metrics:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Database.DataDir != "/var/lib/matrixgraph" {
		t.Errorf("unexpected data dir %q", cfg.Database.DataDir)
	}
	if cfg.Database.DefaultGraph != "social" {
		t.Errorf("unexpected default graph %q", cfg.Database.DefaultGraph)
	}
	if cfg.Database.InitialNodeCapacity != 64 || cfg.Database.MaxNodeCapacity != 4096 {
		t.Errorf("unexpected capacity %d/%d", cfg.Database.InitialNodeCapacity, cfg.Database.MaxNodeCapacity)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.SlowCommitThreshold != time.Second {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "http://collector:4318" {
		t.Errorf("unexpected tracing %+v", cfg.Tracing)
	}
	if cfg.Tracing.ServiceName != "matrixgraph" {
		t.Errorf("expected default service name kept, got %q", cfg.Tracing.ServiceName)
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled by file")
	}

	t.Run("env wins over file", func(t *testing.T) {
		t.Setenv("MATRIXGRAPH_DEFAULT_GRAPH", "override")
		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Database.DefaultGraph != "override" {
			t.Errorf("expected env override, got %q", cfg.Database.DefaultGraph)
		}
	})

	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Database.DefaultGraph != "default" {
			t.Errorf("expected defaults, got %q", cfg.Database.DefaultGraph)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(bad, []byte("database: [unclosed"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFromFile(bad); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(bad, []byte("logging:\n  slow_commit_threshold: soon\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFromFile(bad); err == nil {
			t.Error("expected duration error")
		}
	})
}

func TestValidate(t *testing.T) {
	clearEnvVars(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no data dir", func(c *Config) { c.Database.DataDir = "" }, "data directory"},
		{"no data dir in memory", func(c *Config) { c.Database.DataDir = ""; c.Database.InMemory = true }, ""},
		{"empty graph", func(c *Config) { c.Database.DefaultGraph = "" }, "default graph"},
		{"zero capacity", func(c *Config) { c.Database.InitialNodeCapacity = 0 }, "initial node capacity"},
		{"max below initial", func(c *Config) { c.Database.MaxNodeCapacity = 8 }, "below initial"},
		{"bad level", func(c *Config) { c.Logging.Level = "LOUD" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"tracing without name", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.ServiceName = "" }, "service name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	clearEnvVars(t)
	s := LoadDefaults().String()
	if !strings.Contains(s, "Graph: default") {
		t.Errorf("unexpected String(): %s", s)
	}
}

// clearEnvVars unsets every MATRIXGRAPH_ variable for the duration of the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "MATRIXGRAPH_") {
			t.Setenv(key, "")
		}
	}
}

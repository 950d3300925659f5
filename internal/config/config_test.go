package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentx-go/subagent/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Master.Network != "tcp" {
		t.Errorf("Master.Network = %q, want %q", cfg.Master.Network, "tcp")
	}

	if cfg.Master.Address != "127.0.0.1:705" {
		t.Errorf("Master.Address = %q, want %q", cfg.Master.Address, "127.0.0.1:705")
	}

	if cfg.Admin.Addr != ":8080" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":8080")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
master:
  network: unix
  address: /var/agentx/master.sock
  agent_id: "1.3.6.1.4.1.12345"
  description: "test subagent"
admin:
  addr: ":8090"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
regions:
  - root: "1.3.6.1.4.1.12345.1"
    refresh_interval: 5s
    priority: 100
    writable: true
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Master.Network != "unix" {
		t.Errorf("Master.Network = %q, want %q", cfg.Master.Network, "unix")
	}

	if cfg.Master.Address != "/var/agentx/master.sock" {
		t.Errorf("Master.Address = %q, want %q", cfg.Master.Address, "/var/agentx/master.sock")
	}

	if cfg.Admin.Addr != ":8090" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":8090")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if len(cfg.Regions) != 1 {
		t.Fatalf("Regions count = %d, want 1", len(cfg.Regions))
	}
	if cfg.Regions[0].Root != "1.3.6.1.4.1.12345.1" {
		t.Errorf("Regions[0].Root = %q, want %q", cfg.Regions[0].Root, "1.3.6.1.4.1.12345.1")
	}
	if cfg.Regions[0].Priority != 100 {
		t.Errorf("Regions[0].Priority = %d, want %d", cfg.Regions[0].Priority, 100)
	}
	if !cfg.Regions[0].Writable {
		t.Error("Regions[0].Writable = false, want true")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override master.address and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
master:
  address: "10.0.0.1:705"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Master.Address != "10.0.0.1:705" {
		t.Errorf("Master.Address = %q, want %q", cfg.Master.Address, "10.0.0.1:705")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Master.Network != "tcp" {
		t.Errorf("Master.Network = %q, want default %q", cfg.Master.Network, "tcp")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty master address",
			modify: func(cfg *config.Config) {
				cfg.Master.Address = ""
			},
			wantErr: config.ErrEmptyMasterAddress,
		},
		{
			name: "invalid master network",
			modify: func(cfg *config.Config) {
				cfg.Master.Network = "udp"
			},
			wantErr: config.ErrInvalidMasterNetwork,
		},
		{
			name: "invalid agent id",
			modify: func(cfg *config.Config) {
				cfg.Master.AgentID = "not-an-oid"
			},
			wantErr: config.ErrEmptyAgentID,
		},
		{
			name: "invalid region root",
			modify: func(cfg *config.Config) {
				cfg.Regions = []config.RegionConfig{{Root: "not-an-oid"}}
			},
			wantErr: config.ErrInvalidRegionRoot,
		},
		{
			name: "duplicate region root",
			modify: func(cfg *config.Config) {
				cfg.Regions = []config.RegionConfig{
					{Root: "1.3.6.1.4.1.12345.1"},
					{Root: "1.3.6.1.4.1.12345.1"},
				}
			},
			wantErr: config.ErrDuplicateRegionRoot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
master:
  address: "127.0.0.1:705"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("AGENTX_MASTER_ADDRESS", "10.0.0.9:705")
	t.Setenv("AGENTX_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Master.Address != "10.0.0.9:705" {
		t.Errorf("Master.Address = %q, want %q (from env)", cfg.Master.Address, "10.0.0.9:705")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
master:
  address: "127.0.0.1:705"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("AGENTX_METRICS_ADDR", ":9200")
	t.Setenv("AGENTX_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "agentx-subagentd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}

// Package config manages agentx-subagentd configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/agentx-go/subagent/agentx/oid"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete agentx-subagentd configuration.
type Config struct {
	Master  MasterConfig   `koanf:"master"`
	Admin   AdminConfig    `koanf:"admin"`
	Metrics MetricsConfig  `koanf:"metrics"`
	Log     LogConfig      `koanf:"log"`
	Regions []RegionConfig `koanf:"regions"`
}

// MasterConfig describes the master agent this subagent connects to.
type MasterConfig struct {
	// Network is "tcp" or "unix".
	Network string `koanf:"network"`
	// Address is the master's listen address: host:port for tcp, a socket
	// path for unix.
	Address string `koanf:"address"`
	// AgentID is this subagent's identifying OID, sent as the Open PDU's
	// agent_id.
	AgentID string `koanf:"agent_id"`
	// Description is the human-readable string sent in the Open PDU.
	Description string `koanf:"description"`
	// OpenTimeout is the session timeout (in seconds) advertised to the
	// master in the Open and Register PDUs.
	OpenTimeout uint8 `koanf:"open_timeout"`
}

// AdminConfig holds the read-only JSON introspection endpoint
// configuration.
type AdminConfig struct {
	// Addr is the HTTP listen address for the admin endpoint (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// RegionConfig describes a declarative registered subtree from the
// configuration file. Each entry is registered with the session on
// startup.
type RegionConfig struct {
	// Root is the subtree's root OID in dotted-decimal form.
	Root string `koanf:"root"`
	// RefreshInterval is how often the demo updater for this region
	// refreshes its snapshot.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	// Priority is the registration priority (lower is more specific;
	// default 127 when zero).
	Priority uint8 `koanf:"priority"`
	// Writable marks the region as accepting TestSet/CommitSet against a
	// trivial in-memory handler (demo only).
	Writable bool `koanf:"writable"`
}

// RootOID parses Root as an oid.OID.
func (rc RegionConfig) RootOID() (oid.OID, error) {
	o, err := oid.Parse(rc.Root)
	if err != nil {
		return oid.OID{}, fmt.Errorf("region root %q: %w", rc.Root, err)
	}
	return o, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Master: MasterConfig{
			Network:     "tcp",
			Address:     "127.0.0.1:705",
			Description: "agentx-subagentd",
			OpenTimeout: 30,
		},
		Admin: AdminConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for agentx-subagentd
// configuration. Variables are named AGENTX_<section>_<key>, e.g.,
// AGENTX_MASTER_ADDRESS.
const envPrefix = "AGENTX_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (AGENTX_ prefix), and merges on top of
// DefaultConfig. Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	AGENTX_MASTER_NETWORK -> master.network
//	AGENTX_MASTER_ADDRESS -> master.address
//	AGENTX_ADMIN_ADDR -> admin.addr
//	AGENTX_METRICS_ADDR -> metrics.addr
//	AGENTX_LOG_LEVEL -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms AGENTX_MASTER_ADDRESS -> master.address.
// Strips the AGENTX_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"master.network":      defaults.Master.Network,
		"master.address":      defaults.Master.Address,
		"master.description":  defaults.Master.Description,
		"master.open_timeout": defaults.Master.OpenTimeout,
		"admin.addr":          defaults.Admin.Addr,
		"metrics.addr":        defaults.Metrics.Addr,
		"metrics.path":        defaults.Metrics.Path,
		"log.level":           defaults.Log.Level,
		"log.format":          defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMasterAddress indicates the master address is empty.
	ErrEmptyMasterAddress = errors.New("master.address must not be empty")

	// ErrInvalidMasterNetwork indicates master.network is neither tcp nor unix.
	ErrInvalidMasterNetwork = errors.New("master.network must be tcp or unix")

	// ErrEmptyAgentID indicates master.agent_id is set but is not a valid
	// OID; an empty agent_id is accepted.
	ErrEmptyAgentID = errors.New("master.agent_id must be a valid oid")

	// ErrInvalidRegionRoot indicates a region entry has an invalid root OID.
	ErrInvalidRegionRoot = errors.New("region root is not a valid oid")

	// ErrDuplicateRegionRoot indicates two regions share the same root OID.
	ErrDuplicateRegionRoot = errors.New("duplicate region root")
)

// validNetworks lists the recognized master.network values.
var validNetworks = map[string]bool{"tcp": true, "unix": true}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Master.Address == "" {
		return ErrEmptyMasterAddress
	}

	if !validNetworks[cfg.Master.Network] {
		return ErrInvalidMasterNetwork
	}

	if cfg.Master.AgentID != "" {
		if _, err := oid.Parse(cfg.Master.AgentID); err != nil {
			return fmt.Errorf("%w: %w", ErrEmptyAgentID, err)
		}
	}

	if err := validateRegions(cfg.Regions); err != nil {
		return err
	}

	return nil
}

// validateRegions checks each declarative region entry for correctness.
func validateRegions(regions []RegionConfig) error {
	seen := make(map[string]struct{}, len(regions))

	for i, rc := range regions {
		root, err := rc.RootOID()
		if err != nil {
			return fmt.Errorf("regions[%d]: %w: %w", i, ErrInvalidRegionRoot, err)
		}

		key := root.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("regions[%d] root %q: %w", i, key, ErrDuplicateRegionRoot)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

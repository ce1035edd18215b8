// Package config loads and validates the engine's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root engine configuration.
type Config struct {
	Engine      Engine                `toml:"engine"`
	Store       StoreConfig           `toml:"store"`
	Namespaces  map[string]Namespace  `toml:"namespaces"`
	Serializers map[string]string     `toml:"serializers"` // suffix -> serializer name
	Docker      Docker                `toml:"docker"`
}

// Engine configures the scheduler's dispatch loop and worker pool.
type Engine struct {
	Concurrency               int      `toml:"concurrency"`                 // worker pool size, default runtime.NumCPU()
	NoCache                   bool     `toml:"no_cache"`                    // route through a discarded in-memory store
	ClaimStaleAfter           Duration `toml:"claim_stale_after"`           // crash-recovery threshold for running claims
	SessionHeartbeatInterval  Duration `toml:"session_heartbeat_interval"`  // session_state heartbeat cadence
	LogLevel                  string   `toml:"log_level"`
}

// StoreConfig configures the persistent content-addressed store.
type StoreConfig struct {
	Path        string   `toml:"path"` // SQLite file path; empty is replaced by a default under the user's home directory
	BusyTimeout Duration `toml:"busy_timeout"`
	WriteQueue  int      `toml:"write_queue_depth"` // background persistence queue depth
}

// Namespace configures how a primitive namespace is loaded.
type Namespace struct {
	Kind string `toml:"kind"` // "static" or "dynamic"
	Path string `toml:"path"` // directory for static namespaces
}

// Docker configures the optional docker-backed dynamic primitive namespace.
type Docker struct {
	Enabled   bool     `toml:"enabled"`
	Image     string   `toml:"image"`
	MountRoot string   `toml:"mount_root"`
	Timeout   Duration `toml:"timeout"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Namespaces = cloneNamespaceMap(cfg.Namespaces)
	cloned.Serializers = cloneStringMap(cfg.Serializers)
	return &cloned
}

func cloneNamespaceMap(in map[string]Namespace) map[string]Namespace {
	if in == nil {
		return nil
	}
	out := make(map[string]Namespace, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "voxengine.db"
	}
	return filepath.Join(home, ".voxengine", "store.db")
}

// Load reads and validates an engine TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}

	return &cfg, nil
}

// Reload reads and validates an engine TOML configuration file.
//
// This mirrors Load but is intentionally named to reflect runtime refresh paths.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

// Default returns a Config populated entirely with defaults, for callers
// that run without a config file (e.g. the demo binary, most tests).
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	normalizePaths(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.Concurrency <= 0 {
		cfg.Engine.Concurrency = runtime.NumCPU()
	}
	if cfg.Engine.ClaimStaleAfter.Duration == 0 {
		cfg.Engine.ClaimStaleAfter.Duration = 10 * time.Minute
	}
	if cfg.Engine.SessionHeartbeatInterval.Duration == 0 {
		cfg.Engine.SessionHeartbeatInterval.Duration = 30 * time.Second
	}
	if cfg.Engine.LogLevel == "" {
		cfg.Engine.LogLevel = "info"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}
	if cfg.Store.BusyTimeout.Duration == 0 {
		cfg.Store.BusyTimeout.Duration = 5 * time.Second
	}
	if cfg.Store.WriteQueue <= 0 {
		cfg.Store.WriteQueue = 64
	}
	if cfg.Namespaces == nil {
		cfg.Namespaces = map[string]Namespace{}
	}
	if cfg.Serializers == nil {
		cfg.Serializers = map[string]string{
			".txt":     "text",
			".json":    "json",
			".nii.gz":  "nifti",
		}
	}
	if cfg.Docker.Timeout.Duration == 0 {
		cfg.Docker.Timeout.Duration = 2 * time.Minute
	}
}

func normalizePaths(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Store.Path = ExpandHome(strings.TrimSpace(cfg.Store.Path))
	for name, ns := range cfg.Namespaces {
		ns.Path = ExpandHome(strings.TrimSpace(ns.Path))
		cfg.Namespaces[name] = ns
	}
}

func validate(cfg *Config) error {
	if cfg.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be positive")
	}
	for name, ns := range cfg.Namespaces {
		switch ns.Kind {
		case "static":
			if strings.TrimSpace(ns.Path) == "" {
				return fmt.Errorf("namespace %q: static namespaces require a path", name)
			}
		case "dynamic":
			// dynamic namespaces are introspected at registration time; no path required
		case "":
			return fmt.Errorf("namespace %q: kind is required (static or dynamic)", name)
		default:
			return fmt.Errorf("namespace %q: unknown kind %q", name, ns.Kind)
		}
	}
	if cfg.Docker.Enabled && strings.TrimSpace(cfg.Docker.Image) == "" {
		return fmt.Errorf("docker.enabled requires docker.image")
	}
	return nil
}

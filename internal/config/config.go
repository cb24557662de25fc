// Package config manages meshnode daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and defaults layering.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dj3m/meshstatic/internal/mesh"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete meshnode configuration.
type Config struct {
	// Node is not named in spec.md's tunable table but is required to
	// actually run an Engine: identity and key material have to live
	// somewhere, and this is where the teacher's BFDConfig-style
	// per-domain section goes.
	Node NodeConfig `koanf:"node"`

	Mesh MeshConfig `koanf:"mesh"`

	// Link is likewise an addition: spec.md §1 treats the link driver
	// as an external collaborator, but something has to configure the
	// one this repo ships (internal/link's in-memory Bus plus its
	// simulated peer wiring).
	Link LinkConfig `koanf:"link"`

	Metrics MetricsConfig `koanf:"metrics"`
	Admin   AdminConfig   `koanf:"admin"`
	Log     LogConfig     `koanf:"log"`
}

// NodeConfig describes this node's identity and key material
// (spec.md §1, §3).
type NodeConfig struct {
	// Address is this node's mesh address, colon-separated hex
	// (e.g. "02:aa:bb:cc:dd:ee"), matching mesh.Address.String.
	Address string `koanf:"address"`

	// Role is "node" or "repeater" (spec.md §4.6).
	Role string `koanf:"role"`

	// Groups lists the group ids this node belongs to (spec.md §4.5).
	Groups []uint16 `koanf:"groups"`

	// MasterKeyHex is the 32-byte master key, hex-encoded (spec.md §3).
	// Never logged. It cannot be set from the environment: envKeyMapper
	// turns the underscore in master_key into a key separator.
	MasterKeyHex string `koanf:"master_key"`
}

// MeshConfig nests the configurable engine tunables in koanf section/key
// form: dedup and routing sizing/horizons and the timer cadences. Session
// rotation/overlap and ACK deadline/retry settings are not part of it.
type MeshConfig struct {
	// DefaultTTL is loaded but not handed to the engine: originated
	// packets always carry mesh.DefaultTTL.
	DefaultTTL uint8 `koanf:"default_ttl"`

	Dedup   DedupConfig   `koanf:"dedup"`
	Routing RoutingConfig `koanf:"routing"`

	Timers TimersConfig `koanf:"timers"`
}

// TimersConfig holds the periodic tick cadences (spec.md §4.6).
// HeartbeatNode/HeartbeatRepeater are surfaced separately because the
// two roles default to different cadences; only the cadence matching
// Node.Role is actually handed to mesh.EngineConfig.HeartbeatInterval
// (zero means "let the engine pick its role default").
type TimersConfig struct {
	HeartbeatNode     time.Duration `koanf:"heartbeat_node"`
	HeartbeatRepeater time.Duration `koanf:"heartbeat_repeater"`
	Discovery         time.Duration `koanf:"discovery"`
	RoutingSweep      time.Duration `koanf:"routing_sweep"`
	DedupPurge        time.Duration `koanf:"dedup_purge"`
	SessionCheck      time.Duration `koanf:"session_check"`
}

// LinkConfig configures internal/link's in-memory Bus wiring for
// single-process simulation (spec.md §1's link driver remains external
// in production; this is the non-production stand-in SPEC_FULL.md's
// §4.11 describes).
type LinkConfig struct {
	// Peers lists every other node address sharing this process's Bus,
	// colon-separated hex. Only meaningful under -simulate.
	Peers []string `koanf:"peers"`
}

// RoutingConfig mirrors mesh.RoutingConfig for file/env overrides.
type RoutingConfig struct {
	Capacity        int           `koanf:"capacity"`
	OnlineHorizon   time.Duration `koanf:"online_horizon"`
	EvictionHorizon time.Duration `koanf:"eviction_horizon"`
}

// DedupConfig mirrors mesh.DedupConfig for file/env overrides.
type DedupConfig struct {
	Capacity int           `koanf:"capacity"`
	Window   time.Duration `koanf:"window"`
}

// MetricsConfig holds the Prometheus metrics path, served off the
// admin HTTP server (spec.md §4.10: one server, not a second listener).
type MetricsConfig struct {
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// AdminConfig holds the administrative HTTP surface configuration
// (spec.md §4.10: GET /routes, GET /counters, POST /discover, GET
// /metrics, all on one listener).
type AdminConfig struct {
	// Addr is the HTTP listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// Address6 decodes Node.Address into a mesh.Address.
func (nc NodeConfig) Address6() (mesh.Address, error) {
	addr, err := mesh.ParseAddress(nc.Address)
	if err != nil {
		return addr, fmt.Errorf("node.address: %w", err)
	}
	return addr, nil
}

// MasterKey decodes Node.MasterKeyHex into a fixed-size mesh key.
func (nc NodeConfig) MasterKey() ([mesh.KeySize]byte, error) {
	var key [mesh.KeySize]byte
	raw, err := hex.DecodeString(nc.MasterKeyHex)
	if err != nil {
		return key, fmt.Errorf("node.master_key: %w", err)
	}
	if len(raw) != mesh.KeySize {
		return key, fmt.Errorf("node.master_key: want %d bytes, got %d", mesh.KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// MeshRole parses Node.Role into a mesh.Role.
func (nc NodeConfig) MeshRole() (mesh.Role, error) {
	switch strings.ToLower(nc.Role) {
	case "", "node":
		return mesh.RoleNode, nil
	case "repeater":
		return mesh.RoleRepeater, nil
	default:
		return 0, fmt.Errorf("node.role %q: %w", nc.Role, ErrInvalidRole)
	}
}

// GroupSet builds the map[uint16]bool form mesh.EngineConfig.Groups wants.
func (nc NodeConfig) GroupSet() map[uint16]bool {
	set := make(map[uint16]bool, len(nc.Groups))
	for _, g := range nc.Groups {
		set[g] = true
	}
	return set
}

// HeartbeatInterval picks the cadence matching role from Timers,
// returning 0 (engine role default) when unset.
func (mc MeshConfig) HeartbeatInterval(role mesh.Role) time.Duration {
	if role == mesh.RoleRepeater {
		return mc.Timers.HeartbeatRepeater
	}
	return mc.Timers.HeartbeatNode
}

// ResolvedPeers parses Link.Peers into mesh.Address values.
func (lc LinkConfig) ResolvedPeers() ([]mesh.Address, error) {
	out := make([]mesh.Address, 0, len(lc.Peers))
	for _, hexAddr := range lc.Peers {
		addr, err := mesh.ParseAddress(hexAddr)
		if err != nil {
			return nil, fmt.Errorf("link.peers[%s]: %w", hexAddr, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Mesh converts RoutingConfig to mesh.RoutingConfig.
func (rc RoutingConfig) Mesh() mesh.RoutingConfig {
	return mesh.RoutingConfig{
		Capacity:        rc.Capacity,
		OnlineHorizon:   rc.OnlineHorizon,
		EvictionHorizon: rc.EvictionHorizon,
	}
}

// Mesh converts DedupConfig to mesh.DedupConfig.
func (dc DedupConfig) Mesh() mesh.DedupConfig {
	return mesh.DedupConfig{Capacity: dc.Capacity, Window: dc.Window}
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the defaults spec.md §3's
// tunable table lists. Heartbeat cadences are left at zero so
// mesh.New's own per-role default (spec.md §4.6) applies.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{Role: "node"},
		Mesh: MeshConfig{
			DefaultTTL: mesh.DefaultTTL,
			Dedup: DedupConfig{
				Capacity: 128,
				Window:   30 * time.Second,
			},
			Routing: RoutingConfig{
				Capacity:        100,
				OnlineHorizon:   300 * time.Second,
				EvictionHorizon: time.Hour,
			},
			Timers: TimersConfig{
				Discovery:    10 * time.Minute,
				RoutingSweep: 60 * time.Second,
				DedupPurge:   30 * time.Second,
				SessionCheck: 60 * time.Second,
			},
		},
		Metrics: MetricsConfig{Path: "/metrics"},
		Admin:   AdminConfig{Addr: ":8080"},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for meshnode configuration.
// Variables are named MESHSTATIC_<section>_<key>, e.g., MESHSTATIC_NODE_ADDRESS.
const envPrefix = "MESHSTATIC_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (MESHSTATIC_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
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

// envKeyMapper transforms MESHSTATIC_NODE_ADDRESS -> node.address. Every
// underscore becomes a dot, so keys whose own names contain an underscore
// (node.master_key, mesh.default_ttl, ...) cannot be set from the
// environment.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"node.role":                   defaults.Node.Role,
		"mesh.default_ttl":            defaults.Mesh.DefaultTTL,
		"mesh.dedup.capacity":         defaults.Mesh.Dedup.Capacity,
		"mesh.dedup.window":           defaults.Mesh.Dedup.Window.String(),
		"mesh.routing.capacity":       defaults.Mesh.Routing.Capacity,
		"mesh.routing.online_horizon": defaults.Mesh.Routing.OnlineHorizon.String(),
		"mesh.routing.eviction_horizon": defaults.Mesh.Routing.EvictionHorizon.String(),
		"mesh.timers.discovery":       defaults.Mesh.Timers.Discovery.String(),
		"mesh.timers.routing_sweep":   defaults.Mesh.Timers.RoutingSweep.String(),
		"mesh.timers.dedup_purge":     defaults.Mesh.Timers.DedupPurge.String(),
		"mesh.timers.session_check":   defaults.Mesh.Timers.SessionCheck.String(),
		"metrics.path":                defaults.Metrics.Path,
		"admin.addr":                  defaults.Admin.Addr,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
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
	ErrEmptyAddress        = errors.New("node.address must not be empty")
	ErrEmptyMasterKey      = errors.New("node.master_key must not be empty")
	ErrInvalidRole         = errors.New("node.role must be node or repeater")
	ErrEmptyAdminAddr      = errors.New("admin.addr must not be empty")
	ErrInvalidPeerAddr     = errors.New("link.peers entry is not a valid mesh address")
	ErrZeroCapacity        = errors.New("capacity must be positive")
	ErrNonPositiveDuration = errors.New("duration must be positive")
	ErrNegativeDuration    = errors.New("duration must not be negative")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Node.Address == "" {
		return ErrEmptyAddress
	}
	if _, err := cfg.Node.Address6(); err != nil {
		return fmt.Errorf("node.address: %w", err)
	}

	if cfg.Node.MasterKeyHex == "" {
		return ErrEmptyMasterKey
	}
	if _, err := cfg.Node.MasterKey(); err != nil {
		return fmt.Errorf("node.master_key: %w", err)
	}

	if _, err := cfg.Node.MeshRole(); err != nil {
		return err
	}

	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if _, err := cfg.Link.ResolvedPeers(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPeerAddr, err)
	}

	if cfg.Mesh.Dedup.Capacity <= 0 {
		return fmt.Errorf("mesh.dedup.capacity: %w", ErrZeroCapacity)
	}
	if cfg.Mesh.Routing.Capacity <= 0 {
		return fmt.Errorf("mesh.routing.capacity: %w", ErrZeroCapacity)
	}
	if cfg.Mesh.Dedup.Window <= 0 {
		return fmt.Errorf("mesh.dedup.window: %w", ErrNonPositiveDuration)
	}
	if cfg.Mesh.Routing.OnlineHorizon <= 0 {
		return fmt.Errorf("mesh.routing.online_horizon: %w", ErrNonPositiveDuration)
	}
	if cfg.Mesh.Routing.EvictionHorizon <= 0 {
		return fmt.Errorf("mesh.routing.eviction_horizon: %w", ErrNonPositiveDuration)
	}
	if cfg.Mesh.Timers.Discovery <= 0 {
		return fmt.Errorf("mesh.timers.discovery: %w", ErrNonPositiveDuration)
	}
	if cfg.Mesh.Timers.RoutingSweep <= 0 {
		return fmt.Errorf("mesh.timers.routing_sweep: %w", ErrNonPositiveDuration)
	}
	if cfg.Mesh.Timers.DedupPurge <= 0 {
		return fmt.Errorf("mesh.timers.dedup_purge: %w", ErrNonPositiveDuration)
	}
	if cfg.Mesh.Timers.SessionCheck <= 0 {
		return fmt.Errorf("mesh.timers.session_check: %w", ErrNonPositiveDuration)
	}
	// Heartbeat cadences may be zero (meaning "use mesh.New's per-role
	// default"), but never negative.
	if cfg.Mesh.Timers.HeartbeatNode < 0 {
		return fmt.Errorf("mesh.timers.heartbeat_node: %w", ErrNegativeDuration)
	}
	if cfg.Mesh.Timers.HeartbeatRepeater < 0 {
		return fmt.Errorf("mesh.timers.heartbeat_repeater: %w", ErrNegativeDuration)
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
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

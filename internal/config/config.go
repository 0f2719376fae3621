// Package config loads and validates the ontoflow TOML configuration.
package config

import (
	"fmt"
	"os"
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

// Config is the root of the ontoflow configuration tree.
type Config struct {
	General   General                    `toml:"general"`
	Tiers     TiersConfig                `toml:"tiers"`
	Snapshot  SnapshotConfig             `toml:"snapshot"`
	Scheduler SchedulerConfig            `toml:"scheduler"`
	Receipt   ReceiptConfig              `toml:"receipt"`
	Patterns  map[string]PatternOverride `toml:"patterns"`
	Telemetry Telemetry                  `toml:"telemetry"`
	API       API                        `toml:"api"`
}

// General holds process-wide settings.
type General struct {
	LogLevel    string   `toml:"log_level"`
	LogFormat   string   `toml:"log_format"` // "text" or "json"
	StateDB     string   `toml:"state_db"`
	LockFile    string   `toml:"lock_file"`
	TickScaleNS float64  `toml:"tick_scale_ns"` // nanoseconds per tick, default 0.25
	SweepPeriod Duration `toml:"sweep_period"`  // cadence for the background SLO re-validation sweep
}

// TiersConfig carries the per-class tick budgets and Cold's regression workload knobs.
//
// The budgets themselves are hard invariants and are not
// configurable; what is configurable is how the engine measures and reports
// against them.
type TiersConfig struct {
	HotBudgetTicks     int64   `toml:"hot_budget_ticks"`
	WarmBudgetTicks    int64   `toml:"warm_budget_ticks"`
	ColdBudgetTicks    int64   `toml:"cold_budget_ticks"`
	RegressionBoundPct float64 `toml:"regression_bound_pct"` // default 10
	ColdWorkerPoolSize int     `toml:"cold_worker_pool_size"`
}

// SnapshotConfig configures the ontology store backend.
type SnapshotConfig struct {
	Backend          string   `toml:"backend"` // "memory" or "sqlite"
	PromoteCASRetry  int      `toml:"promote_cas_retry"`
	PromoteCASDelay  Duration `toml:"promote_cas_delay"`
}

// SchedulerConfig configures the deterministic multi-core scheduler.
type SchedulerConfig struct {
	Cores         int      `toml:"cores"`
	RingCapacity  int      `toml:"ring_capacity"` // SPSC queue capacity per core, power of two
	ReplayLogPath string   `toml:"replay_log_path"`
	WatchdogPoll  Duration `toml:"watchdog_poll"`
}

// ReceiptConfig configures receipt emission and signing.
type ReceiptConfig struct {
	SigningKeyPath  string `toml:"signing_key_path"` // empty disables signing
	HotBatchSize    int    `toml:"hot_batch_size"`
}

// PatternOverride lets a deployment tune a specific control-flow pattern
// (e.g. a non-default multi-instance threshold) without code changes.
type PatternOverride struct {
	CompletionThreshold int `toml:"completion_threshold"` // 0 = pattern default ("all")
}

// Telemetry configures the OTel exporter and schema registry.
type Telemetry struct {
	Enabled        bool   `toml:"enabled"`
	OTLPEndpoint   string `toml:"otlp_endpoint"`
	SchemaPath     string `toml:"schema_path"`
	ServiceName    string `toml:"service_name"`
}

// API configures the HTTP management surface.
type API struct {
	Bind     string      `toml:"bind"`
	Security APISecurity `toml:"security"`
}

type APISecurity struct {
	Enabled          bool     `toml:"enabled"`
	AllowedTokens    []string `toml:"allowed_tokens"`
	RequireLocalOnly bool     `toml:"require_local_only"`
	AuditLog         string   `toml:"audit_log"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}

	cloned := *cfg
	cloned.Patterns = clonePatternMap(cfg.Patterns)
	cloned.API.Security.AllowedTokens = cloneStringSlice(cfg.API.Security.AllowedTokens)
	return &cloned
}

func clonePatternMap(in map[string]PatternOverride) map[string]PatternOverride {
	if in == nil {
		return nil
	}
	out := make(map[string]PatternOverride, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads and validates an ontoflow TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Reload reads and validates an ontoflow TOML configuration file.
//
// This mirrors Load but is intentionally named to reflect runtime refresh paths.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns a thread-safe manager.
func LoadManager(path string) (*Manager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "text"
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "ontoflow.db"
	}
	if cfg.General.TickScaleNS == 0 {
		cfg.General.TickScaleNS = 0.25
	}
	if cfg.General.SweepPeriod.Duration == 0 {
		cfg.General.SweepPeriod.Duration = 10 * time.Minute
	}

	if cfg.Tiers.HotBudgetTicks == 0 {
		cfg.Tiers.HotBudgetTicks = 8
	}
	if cfg.Tiers.WarmBudgetTicks == 0 {
		cfg.Tiers.WarmBudgetTicks = 2_000_000
	}
	if cfg.Tiers.ColdBudgetTicks == 0 {
		cfg.Tiers.ColdBudgetTicks = 2_000_000_000
	}
	if cfg.Tiers.RegressionBoundPct == 0 {
		cfg.Tiers.RegressionBoundPct = 10
	}
	if cfg.Tiers.ColdWorkerPoolSize == 0 {
		cfg.Tiers.ColdWorkerPoolSize = 4
	}

	if cfg.Snapshot.Backend == "" {
		cfg.Snapshot.Backend = "sqlite"
	}
	if cfg.Snapshot.PromoteCASRetry == 0 {
		cfg.Snapshot.PromoteCASRetry = 5
	}
	if cfg.Snapshot.PromoteCASDelay.Duration == 0 {
		cfg.Snapshot.PromoteCASDelay.Duration = 2 * time.Millisecond
	}

	if cfg.Scheduler.Cores == 0 {
		cfg.Scheduler.Cores = 4
	}
	if cfg.Scheduler.RingCapacity == 0 {
		cfg.Scheduler.RingCapacity = 1024
	}
	if cfg.Scheduler.ReplayLogPath == "" {
		cfg.Scheduler.ReplayLogPath = "scheduler-replay.log"
	}
	if cfg.Scheduler.WatchdogPoll.Duration == 0 {
		cfg.Scheduler.WatchdogPoll.Duration = 100 * time.Millisecond
	}

	if cfg.Receipt.HotBatchSize == 0 {
		cfg.Receipt.HotBatchSize = 64
	}

	if cfg.Telemetry.SchemaPath == "" {
		cfg.Telemetry.SchemaPath = "telemetry-schema.json"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ontoflow"
	}

	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8787"
	}
}

func validate(cfg *Config) error {
	if cfg.Tiers.HotBudgetTicks != 8 {
		return fmt.Errorf("tiers.hot_budget_ticks is a hard invariant and must be 8, got %d", cfg.Tiers.HotBudgetTicks)
	}
	if cfg.Tiers.WarmBudgetTicks <= cfg.Tiers.HotBudgetTicks {
		return fmt.Errorf("tiers.warm_budget_ticks must exceed hot_budget_ticks")
	}
	if cfg.Tiers.ColdBudgetTicks <= cfg.Tiers.WarmBudgetTicks {
		return fmt.Errorf("tiers.cold_budget_ticks must exceed warm_budget_ticks")
	}
	if cfg.Scheduler.Cores <= 0 {
		return fmt.Errorf("scheduler.cores must be positive")
	}
	if cfg.Scheduler.RingCapacity <= 0 || cfg.Scheduler.RingCapacity&(cfg.Scheduler.RingCapacity-1) != 0 {
		return fmt.Errorf("scheduler.ring_capacity must be a positive power of two")
	}
	if cfg.API.Security.Enabled && len(cfg.API.Security.AllowedTokens) == 0 {
		return fmt.Errorf("api.security.enabled requires at least one allowed_token")
	}
	return nil
}

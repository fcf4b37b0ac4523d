// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MONITOR_PATHS_ROOT.
const EnvPrefix = "MONITOR"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Features FeaturesConfig `mapstructure:"features"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Run      RunConfig      `mapstructure:"run"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
}

// PathsConfig lays out the archive. Snapshots, Manifests and Raw are store
// keys relative to Root.
type PathsConfig struct {
	Root      string `mapstructure:"root"`
	Registry  string `mapstructure:"registry"`
	Snapshots string `mapstructure:"snapshots"`
	Manifests string `mapstructure:"manifests"`
	Raw       string `mapstructure:"raw"`
}

// FetchConfig bounds every HTTP request.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBytes       int64  `mapstructure:"max_bytes"`

	// RequestsPerSecond throttles requests per host; 0 disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// PolicyConfig holds the overwrite flags.
type PolicyConfig struct {
	Overwrite      bool `mapstructure:"overwrite"`
	OverwriteToday bool `mapstructure:"overwrite_today"`
}

// FeaturesConfig toggles optional collection steps.
type FeaturesConfig struct {
	Resolver    bool `mapstructure:"resolver"`
	RawEvidence bool `mapstructure:"raw_evidence"`
}

// SnapshotConfig controls what snapshots carry besides source records.
type SnapshotConfig struct {
	IncludePlatforms bool `mapstructure:"include_platforms"`
}

// RunConfig carries free-form labels copied into each snapshot's context.
// Viper lowercases map keys.
type RunConfig struct {
	Context map[string]string `mapstructure:"context"`
}

// BackfillConfig limits date-range runs.
type BackfillConfig struct {
	MaxDays int `mapstructure:"max_days"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig names the node-exporter textfile written after each run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LedgerConfig selects where write decisions are recorded.
type LedgerConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// MirrorConfig enables copying archive writes to a GCS bucket.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the archive API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Ledger drivers.
const (
	LedgerNone     = "none"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.root", "data")
	v.SetDefault("paths.registry", "configs/registry.yaml")
	v.SetDefault("paths.snapshots", "snapshots")
	v.SetDefault("paths.manifests", "manifests")
	v.SetDefault("paths.raw", "raw")
	v.SetDefault("fetch.user_agent", "AUTO-DZ-ACT TRIZEL Monitor/1.0 (scientific archiving)")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_bytes", 10*1024*1024)
	v.SetDefault("fetch.requests_per_second", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("policy.overwrite", false)
	v.SetDefault("policy.overwrite_today", false)
	v.SetDefault("features.resolver", true)
	v.SetDefault("features.raw_evidence", true)
	v.SetDefault("snapshot.include_platforms", true)
	v.SetDefault("run.context", map[string]string{})
	v.SetDefault("backfill.max_days", 366)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("ledger.driver", LedgerSQLite)
	v.SetDefault("ledger.dsn", "data/ledger.db")
	v.SetDefault("ledger.table", "write_ledger")
	v.SetDefault("mirror.gcs_bucket", "")
	v.SetDefault("mirror.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.Root) == "" {
		return fmt.Errorf("paths.root is required")
	}
	if strings.TrimSpace(c.Paths.Registry) == "" {
		return fmt.Errorf("paths.registry is required")
	}
	for key, val := range map[string]string{
		"paths.snapshots": c.Paths.Snapshots,
		"paths.manifests": c.Paths.Manifests,
		"paths.raw":       c.Paths.Raw,
	} {
		if err := validateKeyPrefix(key, val); err != nil {
			return err
		}
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch.max_bytes must be > 0")
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return fmt.Errorf("fetch.requests_per_second must be >= 0")
	}
	if c.Backfill.MaxDays < 0 {
		return fmt.Errorf("backfill.max_days must be >= 0")
	}
	switch c.Ledger.Driver {
	case "", LedgerNone:
	case LedgerSQLite, LedgerPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn must be set when ledger.driver is %s", c.Ledger.Driver)
		}
		if !tableNamePattern.MatchString(c.Ledger.Table) {
			return fmt.Errorf("ledger.table %q is not a valid identifier", c.Ledger.Table)
		}
	default:
		return fmt.Errorf("ledger.driver %q is not supported", c.Ledger.Driver)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func validateKeyPrefix(key, val string) error {
	clean := path.Clean(strings.TrimSpace(val))
	if clean == "." || clean == "" {
		return fmt.Errorf("%s is required", key)
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%s must be relative to paths.root", key)
	}
	return nil
}

// FetchTimeout is the default per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// LedgerEnabled reports whether write decisions are recorded.
func (c Config) LedgerEnabled() bool {
	return c.Ledger.Driver != "" && c.Ledger.Driver != LedgerNone
}

// RunContext returns the snapshot context labels as a generic map.
func (c Config) RunContext() map[string]any {
	out := make(map[string]any, len(c.Run.Context))
	for k, v := range c.Run.Context {
		out[k] = v
	}
	return out
}

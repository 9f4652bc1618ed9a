package extension

import (
	"strings"
	"time"
)

// Config holds the betledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.betledger" or "betledger" keys).
type Config struct {
	// DisableRoutes prevents the HTTP API from being provided.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration and background workers on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for betledger routes (default: "/betledger").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// DatabaseDriver selects the store: memory, postgres, sqlite or mongo.
	// When empty it is inferred from DatabaseURL.
	DatabaseDriver string `json:"database_driver" mapstructure:"database_driver" yaml:"database_driver"`

	// DatabaseURL is the connection string (or file path for sqlite).
	DatabaseURL string `json:"database_url" mapstructure:"database_url" yaml:"database_url"`

	// ReconcileInterval is how often every active account is rebuilt from
	// the ledger (default: 15m). A negative value disables the worker.
	ReconcileInterval time.Duration `json:"reconcile_interval" mapstructure:"reconcile_interval" yaml:"reconcile_interval"`

	// ReconcileTolerance is the divergence, in minor units, accepted before
	// an account is frozen (default: 0).
	ReconcileTolerance int64 `json:"reconcile_tolerance" mapstructure:"reconcile_tolerance" yaml:"reconcile_tolerance"`

	// CommissionInterval is how often the commission worker settles the
	// previous week (default: 6h). A negative value disables the worker.
	CommissionInterval time.Duration `json:"commission_interval" mapstructure:"commission_interval" yaml:"commission_interval"`

	// CommissionWeekStart names the weekday settlement weeks start on
	// (default: "monday").
	CommissionWeekStart string `json:"commission_week_start" mapstructure:"commission_week_start" yaml:"commission_week_start"`

	// ExternalTimeout bounds calls to the player directory and verifier
	// (default: 5s).
	ExternalTimeout time.Duration `json:"external_timeout" mapstructure:"external_timeout" yaml:"external_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:            "/betledger",
		ReconcileInterval:   15 * time.Minute,
		CommissionInterval:  6 * time.Hour,
		CommissionWeekStart: "monday",
		ExternalTimeout:     5 * time.Second,
	}
}

// WeekStart parses CommissionWeekStart, defaulting to Monday.
func (c Config) WeekStart() time.Weekday {
	name := strings.ToLower(strings.TrimSpace(c.CommissionWeekStart))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d
		}
	}
	return time.Monday
}

func enabled(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

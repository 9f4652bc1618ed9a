package extension

import (
	"time"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/plugin"
	"github.com/xraph/betledger/store"
)

// Option configures the betledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine. It takes precedence over
// the configured database driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a betledger.Option through to the underlying engine.
func WithLedgerOption(opt betledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, betledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents the HTTP API from being provided.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for betledger routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithDatabase selects the store driver and connection string.
func WithDatabase(driver, url string) Option {
	return func(e *Extension) {
		e.config.DatabaseDriver = driver
		e.config.DatabaseURL = url
	}
}

// WithReconcileInterval sets how often accounts are reconciled.
func WithReconcileInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.ReconcileInterval = d }
}

// WithCommissionInterval sets how often the commission worker runs.
func WithCommissionInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.CommissionInterval = d }
}

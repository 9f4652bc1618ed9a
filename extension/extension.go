// Package extension provides the Forge extension adapter for betledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with automatic store selection, DI
// registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.betledger" or
// "betledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/api"
	"github.com/xraph/betledger/internal/storeopen"
	"github.com/xraph/betledger/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "betledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Betting ledger and settlement engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts betledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *betledger.Ledger
	server     *api.Server
	store      store.Store
	ledgerOpts []betledger.Option
}

// New creates a new betledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *betledger.Ledger { return e.engine }

// API returns the HTTP adapter, or nil when routes are disabled.
func (e *Extension) API() *api.Server { return e.server }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration, opens the
// store, builds the engine and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := storeopen.Open(context.Background(), e.config.DatabaseDriver, e.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("betledger: open store: %w", err)
		}
		e.store = s
	}

	e.engine = betledger.New(e.store, e.buildLedgerOpts()...)

	if err := vessel.Provide(fapp.Container(), func() (*betledger.Ledger, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}
	e.server = api.New(e.engine, api.WithBasePath(e.config.BasePath))
	return vessel.Provide(fapp.Container(), func() (*api.Server, error) {
		return e.server, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("betledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("betledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs betledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []betledger.Option {
	opts := make([]betledger.Option, 0, len(e.ledgerOpts)+4)

	opts = append(opts,
		betledger.WithReconcileInterval(enabled(e.config.ReconcileInterval)),
		betledger.WithReconcileTolerance(e.config.ReconcileTolerance),
		betledger.WithCommissionSchedule(enabled(e.config.CommissionInterval), e.config.WeekStart()),
	)
	if e.config.ExternalTimeout > 0 {
		opts = append(opts, betledger.WithExternalTimeout(e.config.ExternalTimeout))
	}

	// Pass-through options win over config.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("betledger: configuration is required but not found in config files; " +
				"ensure 'extensions.betledger' or 'betledger' key exists in your config")
		}

		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("betledger: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("database_driver", e.config.DatabaseDriver),
		forge.F("reconcile_interval", e.config.ReconcileInterval),
		forge.F("commission_interval", e.config.CommissionInterval),
		forge.F("commission_week_start", e.config.WeekStart().String()),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.betledger", "betledger"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("betledger: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("betledger: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = defaults.ReconcileInterval
	}
	if cfg.CommissionInterval == 0 {
		cfg.CommissionInterval = defaults.CommissionInterval
	}
	if cfg.CommissionWeekStart == "" {
		cfg.CommissionWeekStart = defaults.CommissionWeekStart
	}
	if cfg.ExternalTimeout == 0 {
		cfg.ExternalTimeout = defaults.ExternalTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.DatabaseDriver == "" && yamlConfig.DatabaseURL == "" {
		yamlConfig.DatabaseDriver = programmaticConfig.DatabaseDriver
		yamlConfig.DatabaseURL = programmaticConfig.DatabaseURL
	}
	if yamlConfig.CommissionWeekStart == "" {
		yamlConfig.CommissionWeekStart = programmaticConfig.CommissionWeekStart
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.ReconcileInterval == 0 {
		yamlConfig.ReconcileInterval = programmaticConfig.ReconcileInterval
	}
	if yamlConfig.ReconcileTolerance == 0 {
		yamlConfig.ReconcileTolerance = programmaticConfig.ReconcileTolerance
	}
	if yamlConfig.CommissionInterval == 0 {
		yamlConfig.CommissionInterval = programmaticConfig.CommissionInterval
	}
	if yamlConfig.ExternalTimeout == 0 {
		yamlConfig.ExternalTimeout = programmaticConfig.ExternalTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}

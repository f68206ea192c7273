// Package extension provides the Forge extension adapter for escrow.
//
// It implements the forge.Extension interface to integrate the escrow
// engine into a Forge application with store selection, DI registration,
// the auto-refund sweep scheduler and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.escrow" or "escrow" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/store/mongo"
	"github.com/xraph/escrow/store/postgres"
	"github.com/xraph/escrow/store/sqlite"
	"github.com/xraph/escrow/sweep"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "escrow"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Marketplace order escrow and wallet ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

var _ forge.Extension = (*Extension)(nil)

// Extension adapts the escrow engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *escrow.Engine
	store      store.Store
	groveDB    *grove.DB
	scheduler  *sweep.Scheduler
	engineOpts []escrow.Option
}

// New creates a new escrow Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine. It is nil until Register is called.
func (e *Extension) Engine() *escrow.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration, builds
// the store and engine, and registers the engine in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := buildStore(e.config.Driver, e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
	}

	st := e.store
	if e.config.DisableMigrate {
		st = premigrated{st}
	}
	e.engine = escrow.New(st, e.buildEngineOpts()...)

	if !e.config.DisableSweep {
		e.scheduler = sweep.New(e.engine,
			sweep.WithSchedule(e.config.SweepSchedule),
			sweep.WithTimeout(e.config.SweepTimeout),
		)
	}

	return vessel.Provide(fapp.Container(), func() (*escrow.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("escrow: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	if e.scheduler != nil {
		if err := e.scheduler.Start(); err != nil {
			_ = e.engine.Stop()
			return err
		}
		e.Logger().Info("escrow: sweep scheduler running",
			forge.F("schedule", e.config.SweepSchedule),
		)
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	defer e.MarkStopped()

	var errs []error
	if e.scheduler != nil {
		errs = append(errs, e.scheduler.Stop(ctx))
	}
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("escrow: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildStore constructs the backend named by driver.
func buildStore(driver string, db *grove.DB) (store.Store, error) {
	if driver == "" || driver == DriverMemory {
		return memory.New(), nil
	}
	if db == nil {
		return nil, fmt.Errorf("escrow: driver %q requires a grove database (WithGroveDB)", driver)
	}
	switch driver {
	case DriverPostgres:
		return postgres.New(db), nil
	case DriverSQLite:
		return sqlite.New(db), nil
	case DriverMongo:
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("escrow: unknown store driver %q", driver)
	}
}

// premigrated skips schema migration for stores managed elsewhere.
type premigrated struct{ store.Store }

func (premigrated) Migrate(context.Context) error { return nil }

// buildEngineOpts constructs escrow.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []escrow.Option {
	opts := make([]escrow.Option, 0, len(e.engineOpts)+5)

	if e.config.Currency != "" {
		opts = append(opts, escrow.WithCurrency(e.config.Currency))
	}
	if e.config.AutoRefundWindow > 0 {
		opts = append(opts, escrow.WithAutoRefundWindow(e.config.AutoRefundWindow))
	}
	if e.config.SweepBatchSize > 0 {
		opts = append(opts, escrow.WithSweepBatchSize(e.config.SweepBatchSize))
	}
	if e.config.StallThreshold > 0 {
		opts = append(opts, escrow.WithStallThreshold(e.config.StallThreshold))
	}
	if e.config.WalletRetries > 0 {
		opts = append(opts, escrow.WithWalletRetries(e.config.WalletRetries, e.config.WalletBackoff))
	}

	// Pass-through options win over config.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("escrow: configuration is required but not found in config files; " +
				"ensure 'extensions.escrow' or 'escrow' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("escrow: configuration loaded",
		forge.F("driver", e.config.Driver),
		forge.F("currency", e.config.Currency),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_sweep", e.config.DisableSweep),
		forge.F("sweep_schedule", e.config.SweepSchedule),
		forge.F("auto_refund_window", e.config.AutoRefundWindow),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.escrow", "escrow"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("escrow: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("escrow: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.AutoRefundWindow == 0 {
		cfg.AutoRefundWindow = defaults.AutoRefundWindow
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaults.SweepSchedule
	}
	if cfg.SweepTimeout == 0 {
		cfg.SweepTimeout = defaults.SweepTimeout
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.StallThreshold == 0 {
		cfg.StallThreshold = defaults.StallThreshold
	}
	if cfg.WalletRetries == 0 {
		cfg.WalletRetries = defaults.WalletRetries
	}
	if cfg.WalletBackoff == 0 {
		cfg.WalletBackoff = defaults.WalletBackoff
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML wins for values it sets; programmatic values fill gaps and
// programmatic bool flags override when true.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableSweep {
		yamlConfig.DisableSweep = true
	}

	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.SweepSchedule == "" {
		yamlConfig.SweepSchedule = programmaticConfig.SweepSchedule
	}
	if yamlConfig.AutoRefundWindow == 0 {
		yamlConfig.AutoRefundWindow = programmaticConfig.AutoRefundWindow
	}
	if yamlConfig.SweepTimeout == 0 {
		yamlConfig.SweepTimeout = programmaticConfig.SweepTimeout
	}
	if yamlConfig.SweepBatchSize == 0 {
		yamlConfig.SweepBatchSize = programmaticConfig.SweepBatchSize
	}
	if yamlConfig.StallThreshold == 0 {
		yamlConfig.StallThreshold = programmaticConfig.StallThreshold
	}
	if yamlConfig.WalletRetries == 0 {
		yamlConfig.WalletRetries = programmaticConfig.WalletRetries
	}
	if yamlConfig.WalletBackoff == 0 {
		yamlConfig.WalletBackoff = programmaticConfig.WalletBackoff
	}

	return mergeWithDefaults(yamlConfig)
}

// Package extension provides the Forge extension adapter for the credits
// engine.
//
// It implements the forge.Extension interface to integrate the engine
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.credits" or "credits" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	credits "github.com/xraph/credits"
	stripeprovider "github.com/xraph/credits/provider/stripe"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/webhook"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "credits"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Prepaid-credit billing engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the credits engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *credits.Engine
	store      store.Store
	engineOpts []credits.Option
	webhooks   *webhook.Handler
}

// New creates a new credits Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying credits engine.
// This is nil until Register is called.
func (e *Extension) Engine() *credits.Engine { return e.engine }

// WebhookHandler returns the Stripe webhook HTTP handler, or nil when no
// webhook secret is configured.
func (e *Extension) WebhookHandler() *webhook.Handler { return e.webhooks }

// Register implements [forge.Extension]. It loads configuration,
// initializes the credits engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	// Build engine options from resolved config.
	opts := e.buildEngineOpts()

	eng := credits.New(e.store, opts...)
	e.engine = eng

	if e.config.StripeWebhookSecret != "" && !e.config.DisableRoutes {
		e.webhooks = webhook.NewHandler(e.config.StripeWebhookSecret, eng, nil)
	}

	return vessel.Provide(fapp.Container(), func() (*credits.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("credits: extension not initialized")
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
		return errors.New("credits: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs credits.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []credits.Option {
	opts := make([]credits.Option, 0, len(e.engineOpts)+4)

	if e.config.SignupBonus > 0 {
		opts = append(opts, credits.WithSignupBonus(e.config.SignupBonus))
	}
	if e.config.DownloadCost > 0 {
		opts = append(opts, credits.WithDownloadCost(e.config.DownloadCost))
	}
	if e.config.RefinementCost > 0 {
		opts = append(opts, credits.WithRefinementCost(e.config.RefinementCost))
	}
	if e.config.StripeAPIKey != "" {
		opts = append(opts, credits.WithProvider(
			stripeprovider.New(e.config.StripeAPIKey, e.config.StripeWebhookSecret),
		))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

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
			return errors.New("credits: configuration is required but not found in config files; " +
				"ensure 'extensions.credits' or 'credits' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("credits: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("signup_bonus", e.config.SignupBonus),
		forge.F("download_cost", e.config.DownloadCost),
		forge.F("stripe_configured", e.config.StripeAPIKey != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.credits" first (namespaced pattern).
	if cm.IsSet("extensions.credits") {
		if err := cm.Bind("extensions.credits", &cfg); err == nil {
			e.Logger().Debug("credits: loaded config from file",
				forge.F("key", "extensions.credits"),
			)
			return cfg, true
		}
		e.Logger().Warn("credits: failed to bind extensions.credits config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "credits" key.
	if cm.IsSet("credits") {
		if err := cm.Bind("credits", &cfg); err == nil {
			e.Logger().Debug("credits: loaded config from file",
				forge.F("key", "credits"),
			)
			return cfg, true
		}
		e.Logger().Warn("credits: failed to bind credits config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.SignupBonus == 0 {
		cfg.SignupBonus = defaults.SignupBonus
	}
	if cfg.DownloadCost == 0 {
		cfg.DownloadCost = defaults.DownloadCost
	}
	if cfg.RefinementCost == 0 {
		cfg.RefinementCost = defaults.RefinementCost
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.StripeAPIKey == "" && programmaticConfig.StripeAPIKey != "" {
		yamlConfig.StripeAPIKey = programmaticConfig.StripeAPIKey
	}
	if yamlConfig.StripeWebhookSecret == "" && programmaticConfig.StripeWebhookSecret != "" {
		yamlConfig.StripeWebhookSecret = programmaticConfig.StripeWebhookSecret
	}

	// Numeric fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.SignupBonus == 0 && programmaticConfig.SignupBonus != 0 {
		yamlConfig.SignupBonus = programmaticConfig.SignupBonus
	}
	if yamlConfig.DownloadCost == 0 && programmaticConfig.DownloadCost != 0 {
		yamlConfig.DownloadCost = programmaticConfig.DownloadCost
	}
	if yamlConfig.RefinementCost == 0 && programmaticConfig.RefinementCost != 0 {
		yamlConfig.RefinementCost = programmaticConfig.RefinementCost
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}

package extension

import (
	credits "github.com/xraph/credits"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
)

// Option configures the credits Forge extension.
type Option func(*Extension)

// WithStore sets the store for the credits engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a credits.Option through to the underlying engine.
func WithEngineOption(opt credits.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a credits plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for billing routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSignupBonus sets the credit grant on account creation.
func WithSignupBonus(credits int64) Option {
	return func(e *Extension) { e.config.SignupBonus = credits }
}

// WithDownloadCost sets the per-download debit.
func WithDownloadCost(credits int64) Option {
	return func(e *Extension) { e.config.DownloadCost = credits }
}

// WithRefinementCost sets the per-refinement debit.
func WithRefinementCost(credits int64) Option {
	return func(e *Extension) { e.config.RefinementCost = credits }
}

// WithStripe configures the built-in Stripe provider.
func WithStripe(apiKey, webhookSecret string) Option {
	return func(e *Extension) {
		e.config.StripeAPIKey = apiKey
		e.config.StripeWebhookSecret = webhookSecret
	}
}

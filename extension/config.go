package extension

// Config holds the credits extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credits" or "credits" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for billing routes (default: "/billing").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// SignupBonus is the credit grant on account creation (default: 3).
	SignupBonus int64 `json:"signup_bonus" mapstructure:"signup_bonus" yaml:"signup_bonus"`

	// DownloadCost is the per-download debit (default: 1).
	DownloadCost int64 `json:"download_cost" mapstructure:"download_cost" yaml:"download_cost"`

	// RefinementCost is the per-refinement debit (default: 1).
	RefinementCost int64 `json:"refinement_cost" mapstructure:"refinement_cost" yaml:"refinement_cost"`

	// StripeAPIKey enables the built-in Stripe provider when set.
	StripeAPIKey string `json:"stripe_api_key" mapstructure:"stripe_api_key" yaml:"stripe_api_key"`

	// StripeWebhookSecret is the endpoint signing secret for webhook
	// verification.
	StripeWebhookSecret string `json:"stripe_webhook_secret" mapstructure:"stripe_webhook_secret" yaml:"stripe_webhook_secret"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:       "/billing",
		SignupBonus:    3,
		DownloadCost:   1,
		RefinementCost: 1,
	}
}

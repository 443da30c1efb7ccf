package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                  []OnInit
	onShutdown              []OnShutdown
	onAccountCreated        []OnAccountCreated
	onEntryAppended         []OnEntryAppended
	onInsufficientCredits   []OnInsufficientCredits
	onDriftDetected         []OnDriftDetected
	onSubscriptionActivated []OnSubscriptionActivated
	onSubscriptionCanceled  []OnSubscriptionCanceled
	onDowngradeScheduled    []OnDowngradeScheduled
	onEventProcessed        []OnEventProcessed
	paymentProviders        []PaymentProviderPlugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
	}
	if v, ok := p.(OnEntryAppended); ok {
		r.onEntryAppended = append(r.onEntryAppended, v)
	}
	if v, ok := p.(OnInsufficientCredits); ok {
		r.onInsufficientCredits = append(r.onInsufficientCredits, v)
	}
	if v, ok := p.(OnDriftDetected); ok {
		r.onDriftDetected = append(r.onDriftDetected, v)
	}
	if v, ok := p.(OnSubscriptionActivated); ok {
		r.onSubscriptionActivated = append(r.onSubscriptionActivated, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnDowngradeScheduled); ok {
		r.onDowngradeScheduled = append(r.onDowngradeScheduled, v)
	}
	if v, ok := p.(OnEventProcessed); ok {
		r.onEventProcessed = append(r.onEventProcessed, v)
	}
	if v, ok := p.(PaymentProviderPlugin); ok {
		r.paymentProviders = append(r.paymentProviders, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnAccountCreated)(nil)).Elem(), "OnAccountCreated")
	checkInterface(reflect.TypeOf((*OnEntryAppended)(nil)).Elem(), "OnEntryAppended")
	checkInterface(reflect.TypeOf((*OnInsufficientCredits)(nil)).Elem(), "OnInsufficientCredits")
	checkInterface(reflect.TypeOf((*OnDriftDetected)(nil)).Elem(), "OnDriftDetected")
	checkInterface(reflect.TypeOf((*OnSubscriptionActivated)(nil)).Elem(), "OnSubscriptionActivated")
	checkInterface(reflect.TypeOf((*OnSubscriptionCanceled)(nil)).Elem(), "OnSubscriptionCanceled")
	checkInterface(reflect.TypeOf((*OnDowngradeScheduled)(nil)).Elem(), "OnDowngradeScheduled")
	checkInterface(reflect.TypeOf((*OnEventProcessed)(nil)).Elem(), "OnEventProcessed")
	checkInterface(reflect.TypeOf((*PaymentProviderPlugin)(nil)).Elem(), "PaymentProvider")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitAccountCreated emits an account created event.
func (r *Registry) EmitAccountCreated(ctx context.Context, acct interface{}) {
	r.mu.RLock()
	plugins := r.onAccountCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnAccountCreated(ctx, acct)
		}); err != nil {
			r.logger.Warn("plugin OnAccountCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEntryAppended emits a ledger entry applied event.
func (r *Registry) EmitEntryAppended(ctx context.Context, e interface{}, balanceAfter int64) {
	r.mu.RLock()
	plugins := r.onEntryAppended
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEntryAppended(ctx, e, balanceAfter)
		}); err != nil {
			r.logger.Warn("plugin OnEntryAppended failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInsufficientCredits emits a rejected debit event.
func (r *Registry) EmitInsufficientCredits(ctx context.Context, accountID string, needed, balance int64) {
	r.mu.RLock()
	plugins := r.onInsufficientCredits
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInsufficientCredits(ctx, accountID, needed, balance)
		}); err != nil {
			r.logger.Warn("plugin OnInsufficientCredits failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDriftDetected emits a balance drift event.
func (r *Registry) EmitDriftDetected(ctx context.Context, accountID string, cached, actual int64) {
	r.mu.RLock()
	plugins := r.onDriftDetected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDriftDetected(ctx, accountID, cached, actual)
		}); err != nil {
			r.logger.Warn("plugin OnDriftDetected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionActivated emits a subscription activated event.
func (r *Registry) EmitSubscriptionActivated(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionActivated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionActivated(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionActivated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionCanceled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCanceled(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCanceled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDowngradeScheduled emits a downgrade scheduled event.
func (r *Registry) EmitDowngradeScheduled(ctx context.Context, sub interface{}, pendingPlan string) {
	r.mu.RLock()
	plugins := r.onDowngradeScheduled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDowngradeScheduled(ctx, sub, pendingPlan)
		}); err != nil {
			r.logger.Warn("plugin OnDowngradeScheduled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventProcessed emits a webhook reconciliation outcome.
func (r *Registry) EmitEventProcessed(ctx context.Context, result interface{}) {
	r.mu.RLock()
	plugins := r.onEventProcessed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventProcessed(ctx, result)
		}); err != nil {
			r.logger.Warn("plugin OnEventProcessed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// GetPaymentProviders returns all registered payment provider plugins.
func (r *Registry) GetPaymentProviders() []PaymentProviderPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PaymentProviderPlugin, len(r.paymentProviders))
	copy(result, r.paymentProviders)
	return result
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

package credits

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/plan"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/provider"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/types"
)

// Engine is the main credits billing engine.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	catalog  *plan.Catalog
	provider provider.Provider

	// Configuration
	signupBonus    int64
	downloadCost   int64
	refinementCost int64
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		catalog:        plan.DefaultCatalog(),
		signupBonus:    3,
		downloadCost:   1,
		refinementCost: 1,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog replaces the default plan catalog.
func WithCatalog(c *plan.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithProvider sets the payment provider.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) {
		e.provider = p
	}
}

// WithSignupBonus sets the credits granted on account creation.
func WithSignupBonus(credits int64) Option {
	return func(e *Engine) {
		e.signupBonus = credits
	}
}

// WithDownloadCost sets the per-download debit.
func WithDownloadCost(credits int64) Option {
	return func(e *Engine) {
		e.downloadCost = credits
	}
}

// WithRefinementCost sets the per-refinement debit.
func WithRefinementCost(credits int64) Option {
	return func(e *Engine) {
		e.refinementCost = credits
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	// Migrate database
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	// Adopt a provider plugin when none was configured directly
	if e.provider == nil {
		for _, pp := range e.plugins.GetPaymentProviders() {
			if p, ok := pp.Provider().(provider.Provider); ok {
				e.provider = p
				break
			}
		}
	}

	// Initialize plugins
	e.plugins.EmitInit(ctx, e)

	providerName := "none"
	if e.provider != nil {
		providerName = e.provider.Name()
	}
	e.logger.Info("credits engine started",
		"provider", providerName,
		"signup_bonus", e.signupBonus,
		"download_cost", e.downloadCost,
		"plans", e.catalog.Names(),
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Catalog returns the plan catalog.
func (e *Engine) Catalog() *plan.Catalog {
	return e.catalog
}

// ──────────────────────────────────────────────────
// Account Management
// ──────────────────────────────────────────────────

// CreateAccount provisions a new account and grants the signup bonus.
func (e *Engine) CreateAccount(ctx context.Context, a *account.Account) error {
	if a.ID.IsNil() {
		a.ID = id.NewAccountID()
	}
	a.Entity = types.NewEntity()

	if err := e.store.CreateAccount(ctx, a); err != nil {
		return err
	}

	if e.signupBonus > 0 {
		res, err := e.append(ctx, &entry.Entry{
			ID:             id.NewEntryID(),
			AccountID:      a.ID,
			Delta:          e.signupBonus,
			Reason:         entry.ReasonTrial,
			IdempotencyKey: "signup:" + a.ID.String(),
		}, false)
		if err != nil {
			return err
		}
		a.CreditBalance = res.BalanceAfter
	}

	e.plugins.EmitAccountCreated(ctx, a)
	e.logger.Info("account created",
		"account_id", a.ID,
		"signup_bonus", e.signupBonus,
	)
	return nil
}

// GetAccount retrieves an account by ID.
func (e *Engine) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

// Balance returns the cached credit balance for an account.
func (e *Engine) Balance(ctx context.Context, accountID id.AccountID) (int64, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return a.CreditBalance, nil
}

// History lists ledger entries for an account, newest first.
func (e *Engine) History(ctx context.Context, accountID id.AccountID, opts entry.ListOpts) ([]*entry.Entry, error) {
	return e.store.ListEntries(ctx, accountID, opts)
}

// ──────────────────────────────────────────────────
// Ledger Operations
// ──────────────────────────────────────────────────

// AdminGrant credits an account outside the normal purchase flows. Every
// grant is an audited ledger entry, never a direct balance edit.
func (e *Engine) AdminGrant(ctx context.Context, accountID id.AccountID, amount int64, key string, meta map[string]string) (*entry.AppendResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	return e.append(ctx, &entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      accountID,
		Delta:          amount,
		Reason:         entry.ReasonAdminGrant,
		IdempotencyKey: key,
		Meta:           meta,
	}, false)
}

// Refund credits an account to offset an earlier debit.
func (e *Engine) Refund(ctx context.Context, accountID id.AccountID, amount int64, key string, meta map[string]string) (*entry.AppendResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	return e.append(ctx, &entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      accountID,
		Delta:          amount,
		Reason:         entry.ReasonRefund,
		IdempotencyKey: key,
		Meta:           meta,
	}, false)
}

// Transfer moves credits between two accounts as a paired debit and grant,
// atomically. The pair shares one idempotency key.
func (e *Engine) Transfer(ctx context.Context, fromID, toID id.AccountID, amount int64, key string) (*store.TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if fromID.String() == toID.String() {
		return nil, ErrInvalidInput
	}

	res, err := e.store.TransferEntries(ctx, store.TransferParams{
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Amount:         amount,
		IdempotencyKey: key,
		Meta: map[string]string{
			"from_account": fromID.String(),
			"to_account":   toID.String(),
		},
	})
	if err != nil {
		if IsInsufficient(err) {
			e.plugins.EmitInsufficientCredits(ctx, fromID.String(), amount, 0)
		}
		return nil, err
	}

	if res.Applied {
		e.logger.Info("credits transferred",
			"from_account", fromID,
			"to_account", toID,
			"amount", amount,
		)
	}
	return res, nil
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// DriftReport is the result of a reconciliation pass over one account.
type DriftReport struct {
	AccountID id.AccountID
	Cached    int64
	Actual    int64
	Drift     int64
	Adjusted  bool
}

// Reconcile recomputes the entry sum for an account and compares it to the
// cached balance. On drift it resets the cache to the sum and appends a
// zero-delta adjustment entry recording the incident. Drift is never
// corrected silently.
func (e *Engine) Reconcile(ctx context.Context, accountID id.AccountID) (*DriftReport, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	actual, err := e.store.SumEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{
		AccountID: accountID,
		Cached:    a.CreditBalance,
		Actual:    actual,
		Drift:     a.CreditBalance - actual,
	}
	if report.Drift == 0 {
		return report, nil
	}

	e.logger.Error("balance drift detected",
		"account_id", accountID,
		"cached", report.Cached,
		"actual", report.Actual,
		"drift", report.Drift,
	)
	e.plugins.EmitDriftDetected(ctx, accountID.String(), report.Cached, report.Actual)

	audit := &entry.Entry{
		ID:        id.NewEntryID(),
		AccountID: accountID,
		Delta:     0,
		Reason:    entry.ReasonAdjustment,
		Meta: map[string]string{
			"cached": strconv.FormatInt(report.Cached, 10),
			"actual": strconv.FormatInt(report.Actual, 10),
			"drift":  strconv.FormatInt(report.Drift, 10),
		},
	}
	if err := e.store.ResetBalance(ctx, accountID, actual, audit); err != nil {
		return nil, err
	}
	report.Adjusted = true

	return report, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// append routes an entry through the store and emits plugin hooks.
func (e *Engine) append(ctx context.Context, ent *entry.Entry, requireFunds bool) (*entry.AppendResult, error) {
	var (
		res *entry.AppendResult
		err error
	)
	if requireFunds {
		res, err = e.store.DebitEntry(ctx, ent)
	} else {
		res, err = e.store.AppendEntry(ctx, ent)
	}
	if err != nil {
		return nil, err
	}

	if res.Applied {
		e.plugins.EmitEntryAppended(ctx, res.Entry, res.BalanceAfter)
	}
	return res, nil
}

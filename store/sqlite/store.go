// Package sqlite implements the Credits store on SQLite via Grove ORM.
//
// SQLite has no multi-statement server-side atomicity to lean on, so the
// driver serializes mutating operations behind a mutex and orders the
// statements so that an interrupted operation is either invisible or
// healed by the next attempt (the ledger entry lands first; balance and
// flag updates follow). The driver is for embedded, single-process use.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/artifact"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	creditsstore "github.com/xraph/credits/store"
	"github.com/xraph/credits/subscription"
)

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB

	// mu serializes mutating operations. SQLite is single-writer anyway;
	// the mutex extends that to our multi-statement sequences.
	mu sync.Mutex
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("credits/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("credits/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := toAccountModel(a)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", accountID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) GetAccountByCustomerRef(ctx context.Context, customerRef string) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("customer_ref = ?", customerRef).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := toAccountModel(a)
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

// ==================== Entry Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *entry.Entry) (*entry.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(ctx, e, false)
}

func (s *Store) DebitEntry(ctx context.Context, e *entry.Entry) (*entry.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(ctx, e, true)
}

// appendLocked performs the shared append/debit sequence. Callers hold mu.
func (s *Store) appendLocked(ctx context.Context, e *entry.Entry, requireFunds bool) (*entry.AppendResult, error) {
	balance, err := s.balance(ctx, e.AccountID)
	if err != nil {
		return nil, err
	}

	if e.IdempotencyKey != "" {
		settled, err := s.entryKeyExists(ctx, e.AccountID, e.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if settled {
			return &entry.AppendResult{Entry: e, Applied: false, BalanceAfter: balance}, nil
		}
	}

	if requireFunds && balance+e.Delta < 0 {
		return nil, credits.ErrInsufficientCredits
	}

	t := now()
	e.CreatedAt = t
	m := toEntryModel(e)
	if _, err := s.sdb.NewInsert(m).
		OnConflict("(account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING").
		Exec(ctx); err != nil {
		return nil, err
	}

	if err := s.applyDelta(ctx, e.AccountID, e.Delta, t); err != nil {
		return nil, err
	}

	return &entry.AppendResult{Entry: e, Applied: true, BalanceAfter: balance + e.Delta}, nil
}

func (s *Store) ListEntries(ctx context.Context, accountID id.AccountID, opts entry.ListOpts) ([]*entry.Entry, error) {
	var models []entryModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID.String())

	if !opts.Cursor.IsNil() {
		q = q.Where("id < ?", opts.Cursor.String())
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q = q.OrderExpr("id DESC").Limit(limit)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*entry.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) SumEntries(ctx context.Context, accountID id.AccountID) (int64, error) {
	var total int64
	err := s.sdb.NewRaw(`
		SELECT COALESCE(SUM(delta), 0) FROM credits_entries WHERE account_id = ?
	`, accountID.String()).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) TransferEntries(ctx context.Context, p creditsstore.TransferParams) (*creditsstore.TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromBalance, err := s.balance(ctx, p.FromAccountID)
	if err != nil {
		return nil, err
	}
	toBalance, err := s.balance(ctx, p.ToAccountID)
	if err != nil {
		return nil, err
	}

	debitKey, grantKey := transferKeys(p.IdempotencyKey)
	if debitKey != "" {
		settled, err := s.entryKeyExists(ctx, p.FromAccountID, debitKey)
		if err != nil {
			return nil, err
		}
		if settled {
			return &creditsstore.TransferResult{
				Applied:          false,
				FromBalanceAfter: fromBalance,
				ToBalanceAfter:   toBalance,
			}, nil
		}
	}

	if fromBalance-p.Amount < 0 {
		return nil, credits.ErrInsufficientCredits
	}

	t := now()
	debit := &entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      p.FromAccountID,
		Delta:          -p.Amount,
		Reason:         entry.ReasonTransfer,
		IdempotencyKey: debitKey,
		Meta:           p.Meta,
		CreatedAt:      t,
	}
	grant := &entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      p.ToAccountID,
		Delta:          p.Amount,
		Reason:         entry.ReasonTransfer,
		IdempotencyKey: grantKey,
		Meta:           p.Meta,
		CreatedAt:      t,
	}

	for _, e := range []*entry.Entry{debit, grant} {
		if _, err := s.sdb.NewInsert(toEntryModel(e)).
			OnConflict("(account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING").
			Exec(ctx); err != nil {
			return nil, err
		}
	}
	if err := s.applyDelta(ctx, p.FromAccountID, -p.Amount, t); err != nil {
		return nil, err
	}
	if err := s.applyDelta(ctx, p.ToAccountID, p.Amount, t); err != nil {
		return nil, err
	}

	return &creditsstore.TransferResult{
		Applied:          true,
		FromBalanceAfter: fromBalance - p.Amount,
		ToBalanceAfter:   toBalance + p.Amount,
	}, nil
}

func (s *Store) ResetBalance(ctx context.Context, accountID id.AccountID, balance int64, audit *entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.balance(ctx, accountID); err != nil {
		return err
	}

	t := now()
	audit.CreatedAt = t
	if _, err := s.sdb.NewInsert(toEntryModel(audit)).
		OnConflict("(account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING").
		Exec(ctx); err != nil {
		return err
	}

	_, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("credit_balance = ?", balance).
		Set("updated_at = ?", t).
		Where("id = ?", accountID.String()).
		Exec(ctx)
	return err
}

// ==================== Artifact Store ====================

func (s *Store) CreateArtifact(ctx context.Context, a *artifact.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := toArtifactModel(a)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetArtifact(ctx context.Context, artifactID id.ArtifactID) (*artifact.Artifact, error) {
	m := new(artifactModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", artifactID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrArtifactNotFound
		}
		return nil, err
	}
	return fromArtifactModel(m)
}

func (s *Store) ChargeArtifact(ctx context.Context, accountID id.AccountID, artifactID id.ArtifactID, cost int64) (*artifact.ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	art, err := s.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if art.AccountID.String() != accountID.String() {
		return nil, credits.ErrNotOwner
	}

	balance, err := s.balance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	t := now()
	if art.Downloaded {
		return &artifact.ChargeResult{Charged: false, BalanceAfter: balance}, nil
	}

	// A keyed debit without the flag means a previous attempt was
	// interrupted after the entry landed. Heal the flag and report settled.
	key := "download:" + artifactID.String()
	settled, err := s.entryKeyExists(ctx, accountID, key)
	if err != nil {
		return nil, err
	}
	if settled {
		if err := s.markDownloaded(ctx, artifactID, t); err != nil {
			return nil, err
		}
		return &artifact.ChargeResult{Charged: false, BalanceAfter: balance}, nil
	}

	if balance-cost < 0 {
		return nil, credits.ErrInsufficientCredits
	}

	debit := &entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      accountID,
		Delta:          -cost,
		Reason:         entry.ReasonDownload,
		IdempotencyKey: key,
		Meta:           map[string]string{"artifact_id": artifactID.String()},
		CreatedAt:      t,
	}
	if _, err := s.sdb.NewInsert(toEntryModel(debit)).
		OnConflict("(account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING").
		Exec(ctx); err != nil {
		return nil, err
	}
	if err := s.applyDelta(ctx, accountID, -cost, t); err != nil {
		return nil, err
	}
	if err := s.markDownloaded(ctx, artifactID, t); err != nil {
		return nil, err
	}

	return &artifact.ChargeResult{Charged: true, BalanceAfter: balance - cost}, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := toSubscriptionModel(sub)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, accountID id.AccountID, planName string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("plan_name = ?", planName).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByProviderRef(ctx context.Context, providerRef string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("provider_ref = ?", providerRef).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, accountID id.AccountID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("status IN (?, ?)", string(subscription.StatusActive), string(subscription.StatusPendingDowngrade)).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrNoActiveSubscription
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, accountID id.AccountID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID.String())

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) SyncSubscription(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credits.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) MarkSubscriptionCanceled(ctx context.Context, providerRef string, canceledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := now()
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCanceled)).
		Set("canceled_at = ?", canceledAt).
		Set("pending_plan = ?", "").
		Set("updated_at = ?", t).
		Where("provider_ref = ?", providerRef).
		Where("status != ?", string(subscription.StatusCanceled)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetSubscriptionByProviderRef(ctx, providerRef); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ScheduleDowngrade(ctx context.Context, accountID id.AccountID, pendingPlan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusPendingDowngrade)).
		Set("pending_plan = ?", pendingPlan).
		Set("updated_at = ?", now()).
		Where("account_id = ?", accountID.String()).
		Where("status IN (?, ?)", string(subscription.StatusActive), string(subscription.StatusPendingDowngrade)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credits.ErrNoActiveSubscription
	}
	return nil
}

func (s *Store) CancelScheduledDowngrade(ctx context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusActive)).
		Set("pending_plan = ?", "").
		Set("updated_at = ?", now()).
		Where("account_id = ?", accountID.String()).
		Where("status = ?", string(subscription.StatusPendingDowngrade)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credits.ErrNoPendingDowngrade
	}
	return nil
}

func (s *Store) ActivateSubscriptionPeriod(ctx context.Context, p creditsstore.ActivatePeriodParams) (*creditsstore.ActivatePeriodResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.balance(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	existing, err := s.GetSubscription(ctx, p.AccountID, p.PlanName)
	if err != nil && !errors.Is(err, credits.ErrSubscriptionNotFound) {
		return nil, err
	}

	t := now()
	if existing != nil {
		stale := !p.Reactivate && !existing.CurrentPeriodStart.Before(p.PeriodStart)
		if stale {
			return &creditsstore.ActivatePeriodResult{Stale: true, BalanceAfter: balance}, nil
		}
	}

	// Demote any other live plan record on the account first, releasing its
	// provider ref so the activated row can carry it without tripping the
	// unique ref index.
	if _, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCanceled)).
		Set("canceled_at = ?", t).
		Set("pending_plan = ?", "").
		Set("provider_ref = ?", "").
		Set("updated_at = ?", t).
		Where("account_id = ?", p.AccountID.String()).
		Where("plan_name != ?", p.PlanName).
		Where("status IN (?, ?)", string(subscription.StatusActive), string(subscription.StatusPendingDowngrade)).
		Exec(ctx); err != nil {
		return nil, err
	}

	if existing != nil {
		existing.Status = subscription.StatusActive
		existing.ProviderRef = p.ProviderRef
		existing.CurrentPeriodStart = p.PeriodStart
		existing.CurrentPeriodEnd = p.PeriodEnd
		existing.PendingPlan = ""
		m := toSubscriptionModel(existing)
		m.UpdatedAt = t
		if _, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx); err != nil {
			return nil, err
		}
	} else {
		sub := &subscription.Subscription{
			ID:                 id.NewSubscriptionID(),
			AccountID:          p.AccountID,
			PlanName:           p.PlanName,
			Status:             subscription.StatusActive,
			ProviderRef:        p.ProviderRef,
			CurrentPeriodStart: p.PeriodStart,
			CurrentPeriodEnd:   p.PeriodEnd,
		}
		m := toSubscriptionModel(sub)
		m.CreatedAt = t
		m.UpdatedAt = t
		if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
			return nil, err
		}
	}

	if p.GrantCredits <= 0 {
		return &creditsstore.ActivatePeriodResult{BalanceAfter: balance}, nil
	}

	if p.GrantKey != "" {
		settled, err := s.entryKeyExists(ctx, p.AccountID, p.GrantKey)
		if err != nil {
			return nil, err
		}
		if settled {
			return &creditsstore.ActivatePeriodResult{BalanceAfter: balance}, nil
		}
	}

	grant := &entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      p.AccountID,
		Delta:          p.GrantCredits,
		Reason:         p.GrantReason,
		IdempotencyKey: p.GrantKey,
		Meta:           p.GrantMeta,
		CreatedAt:      t,
	}
	if _, err := s.sdb.NewInsert(toEntryModel(grant)).
		OnConflict("(account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING").
		Exec(ctx); err != nil {
		return nil, err
	}
	if err := s.applyDelta(ctx, p.AccountID, p.GrantCredits, t); err != nil {
		return nil, err
	}

	return &creditsstore.ActivatePeriodResult{
		Granted:      true,
		BalanceAfter: balance + p.GrantCredits,
	}, nil
}

// ==================== Helpers ====================

// balance reads the cached balance, mapping missing rows to the sentinel.
func (s *Store) balance(ctx context.Context, accountID id.AccountID) (int64, error) {
	var balance int64
	err := s.sdb.NewRaw(`
		SELECT credit_balance FROM credits_accounts WHERE id = ?
	`, accountID.String()).Scan(ctx, &balance)
	if err != nil {
		if isNoRows(err) {
			return 0, credits.ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (s *Store) entryKeyExists(ctx context.Context, accountID id.AccountID, key string) (bool, error) {
	var n int64
	err := s.sdb.NewRaw(`
		SELECT count(*) FROM credits_entries WHERE account_id = ? AND idempotency_key = ?
	`, accountID.String(), key).Scan(ctx, &n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) applyDelta(ctx context.Context, accountID id.AccountID, delta int64, t time.Time) error {
	_, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("credit_balance = credit_balance + ?", delta).
		Set("updated_at = ?", t).
		Where("id = ?", accountID.String()).
		Exec(ctx)
	return err
}

func (s *Store) markDownloaded(ctx context.Context, artifactID id.ArtifactID, t time.Time) error {
	_, err := s.sdb.NewUpdate((*artifactModel)(nil)).
		Set("downloaded = ?", true).
		Set("downloaded_at = ?", t).
		Set("updated_at = ?", t).
		Where("id = ?", artifactID.String()).
		Exec(ctx)
	return err
}

// transferKeys derives the per-side idempotency keys of a transfer.
func transferKeys(key string) (debitKey, grantKey string) {
	if key == "" {
		return "", ""
	}
	return key + ":out", key + ":in"
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

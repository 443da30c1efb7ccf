// Package postgres implements the Credits store on PostgreSQL via Grove ORM.
//
// Multi-entity operations (append+balance, artifact charge, period
// activation, transfer) are single data-modifying CTE statements with
// FOR UPDATE row locks, so the both-or-neither contract holds without
// any client-side transaction management.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("credits/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("credits/postgres: migration failed: %w", err)
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
	m := toAccountModel(a)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", accountID.String()).
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
	err := s.pg.NewSelect(m).
		Where("customer_ref = $1", customerRef).
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
	m := toAccountModel(a)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
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

// appendEntrySQL inserts the entry and applies its delta to the cached
// balance in one statement. The account row lock serializes concurrent
// appends; the partial unique index turns keyed replays into no-ops.
const appendEntrySQL = `
WITH acct AS (
    SELECT id, credit_balance FROM credits_accounts WHERE id = $2 FOR UPDATE
),
ins AS (
    INSERT INTO credits_entries (id, account_id, delta, reason, idempotency_key, meta, created_at)
    SELECT $1, $2, $3, $4, $5, $6::jsonb, $7 FROM acct
    ON CONFLICT (account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING
    RETURNING delta
),
upd AS (
    UPDATE credits_accounts a
    SET credit_balance = a.credit_balance + i.delta, updated_at = $7
    FROM ins i
    WHERE a.id = $2
    RETURNING a.credit_balance
)
SELECT
    (SELECT count(*) FROM acct),
    (SELECT count(*) FROM ins),
    COALESCE((SELECT credit_balance FROM upd), (SELECT credit_balance FROM acct), 0)
`

func (s *Store) AppendEntry(ctx context.Context, e *entry.Entry) (*entry.AppendResult, error) {
	t := now()
	var found, applied, balanceAfter int64
	err := s.pg.NewRaw(appendEntrySQL,
		e.ID.String(), e.AccountID.String(), e.Delta, string(e.Reason),
		e.IdempotencyKey, metaJSON(e.Meta), t,
	).Scan(ctx, &found, &applied, &balanceAfter)
	if err != nil {
		return nil, err
	}
	if found == 0 {
		return nil, credits.ErrAccountNotFound
	}

	e.CreatedAt = t
	return &entry.AppendResult{
		Entry:        e,
		Applied:      applied == 1,
		BalanceAfter: balanceAfter,
	}, nil
}

// debitEntrySQL is appendEntrySQL with the insert gated on the balance
// staying non-negative. The trailing settled count distinguishes a keyed
// replay from a genuinely unaffordable debit.
const debitEntrySQL = `
WITH acct AS (
    SELECT id, credit_balance FROM credits_accounts WHERE id = $2 FOR UPDATE
),
ins AS (
    INSERT INTO credits_entries (id, account_id, delta, reason, idempotency_key, meta, created_at)
    SELECT $1, $2, $3, $4, $5, $6::jsonb, $7 FROM acct
    WHERE acct.credit_balance + $3 >= 0
    ON CONFLICT (account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING
    RETURNING delta
),
upd AS (
    UPDATE credits_accounts a
    SET credit_balance = a.credit_balance + i.delta, updated_at = $7
    FROM ins i
    WHERE a.id = $2
    RETURNING a.credit_balance
)
SELECT
    (SELECT count(*) FROM acct),
    (SELECT count(*) FROM ins),
    (SELECT count(*) FROM credits_entries WHERE account_id = $2 AND idempotency_key = $5 AND $5 != ''),
    COALESCE((SELECT credit_balance FROM upd), (SELECT credit_balance FROM acct), 0)
`

func (s *Store) DebitEntry(ctx context.Context, e *entry.Entry) (*entry.AppendResult, error) {
	t := now()
	var found, applied, settled, balanceAfter int64
	err := s.pg.NewRaw(debitEntrySQL,
		e.ID.String(), e.AccountID.String(), e.Delta, string(e.Reason),
		e.IdempotencyKey, metaJSON(e.Meta), t,
	).Scan(ctx, &found, &applied, &settled, &balanceAfter)
	if err != nil {
		return nil, err
	}
	if found == 0 {
		return nil, credits.ErrAccountNotFound
	}
	if applied == 0 && settled == 0 {
		return nil, credits.ErrInsufficientCredits
	}

	e.CreatedAt = t
	return &entry.AppendResult{
		Entry:        e,
		Applied:      applied == 1,
		BalanceAfter: balanceAfter,
	}, nil
}

func (s *Store) ListEntries(ctx context.Context, accountID id.AccountID, opts entry.ListOpts) ([]*entry.Entry, error) {
	var models []entryModel
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID.String())

	if !opts.Cursor.IsNil() {
		q = q.Where("id < $2", opts.Cursor.String())
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
	err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(delta), 0) FROM credits_entries WHERE account_id = $1
	`, accountID.String()).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// transferSQL moves credits between two accounts as a paired debit/grant.
// Both account rows are locked in id order so concurrent opposing
// transfers cannot deadlock.
const transferSQL = `
WITH locked AS (
    SELECT id, credit_balance FROM credits_accounts
    WHERE id IN ($1, $2)
    ORDER BY id
    FOR UPDATE
),
src AS (SELECT credit_balance FROM locked WHERE id = $1),
dst AS (SELECT credit_balance FROM locked WHERE id = $2),
debit AS (
    INSERT INTO credits_entries (id, account_id, delta, reason, idempotency_key, meta, created_at)
    SELECT $3, $1, -$5, 'transfer', $6, $8::jsonb, $9 FROM src, dst
    WHERE src.credit_balance - $5 >= 0
    ON CONFLICT (account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING
    RETURNING id
),
grant_side AS (
    INSERT INTO credits_entries (id, account_id, delta, reason, idempotency_key, meta, created_at)
    SELECT $4, $2, $5, 'transfer', $7, $8::jsonb, $9 FROM debit
    ON CONFLICT (account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING
    RETURNING id
),
upd_src AS (
    UPDATE credits_accounts a
    SET credit_balance = a.credit_balance - $5, updated_at = $9
    FROM debit WHERE a.id = $1
    RETURNING a.credit_balance
),
upd_dst AS (
    UPDATE credits_accounts a
    SET credit_balance = a.credit_balance + $5, updated_at = $9
    FROM grant_side WHERE a.id = $2
    RETURNING a.credit_balance
)
SELECT
    (SELECT count(*) FROM src),
    (SELECT count(*) FROM dst),
    (SELECT count(*) FROM debit),
    (SELECT count(*) FROM credits_entries WHERE account_id = $1 AND idempotency_key = $6 AND $6 != ''),
    COALESCE((SELECT credit_balance FROM upd_src), (SELECT credit_balance FROM src), 0),
    COALESCE((SELECT credit_balance FROM upd_dst), (SELECT credit_balance FROM dst), 0)
`

func (s *Store) TransferEntries(ctx context.Context, p creditsstore.TransferParams) (*creditsstore.TransferResult, error) {
	debitKey, grantKey := transferKeys(p.IdempotencyKey)

	var srcFound, dstFound, applied, settled, fromBalance, toBalance int64
	err := s.pg.NewRaw(transferSQL,
		p.FromAccountID.String(), p.ToAccountID.String(),
		id.NewEntryID().String(), id.NewEntryID().String(),
		p.Amount, debitKey, grantKey, metaJSON(p.Meta), now(),
	).Scan(ctx, &srcFound, &dstFound, &applied, &settled, &fromBalance, &toBalance)
	if err != nil {
		return nil, err
	}
	if srcFound == 0 || dstFound == 0 {
		return nil, credits.ErrAccountNotFound
	}
	if applied == 0 && settled == 0 {
		return nil, credits.ErrInsufficientCredits
	}

	return &creditsstore.TransferResult{
		Applied:          applied == 1,
		FromBalanceAfter: fromBalance,
		ToBalanceAfter:   toBalance,
	}, nil
}

// resetBalanceSQL overwrites the cached balance and records the zero-delta
// audit entry in the same statement.
const resetBalanceSQL = `
WITH acct AS (
    SELECT id FROM credits_accounts WHERE id = $2 FOR UPDATE
),
ins AS (
    INSERT INTO credits_entries (id, account_id, delta, reason, idempotency_key, meta, created_at)
    SELECT $1, $2, 0, $3, $4, $5::jsonb, $6 FROM acct
    ON CONFLICT (account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING
    RETURNING id
),
upd AS (
    UPDATE credits_accounts a
    SET credit_balance = $7, updated_at = $6
    FROM ins WHERE a.id = $2
    RETURNING a.id
)
SELECT (SELECT count(*) FROM acct), (SELECT count(*) FROM upd)
`

func (s *Store) ResetBalance(ctx context.Context, accountID id.AccountID, balance int64, audit *entry.Entry) error {
	var found, updated int64
	err := s.pg.NewRaw(resetBalanceSQL,
		audit.ID.String(), accountID.String(), string(audit.Reason),
		audit.IdempotencyKey, metaJSON(audit.Meta), now(), balance,
	).Scan(ctx, &found, &updated)
	if err != nil {
		return err
	}
	if found == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

// ==================== Artifact Store ====================

func (s *Store) CreateArtifact(ctx context.Context, a *artifact.Artifact) error {
	m := toArtifactModel(a)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetArtifact(ctx context.Context, artifactID id.ArtifactID) (*artifact.Artifact, error) {
	m := new(artifactModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", artifactID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrArtifactNotFound
		}
		return nil, err
	}
	return fromArtifactModel(m)
}

// chargeArtifactSQL performs the at-most-once download charge. Lock order
// is artifact then account; the debit requires the flag unset and a
// sufficient balance, the flag flip requires the debit, so no path sets
// the flag without moving credits.
const chargeArtifactSQL = `
WITH art AS (
    SELECT id, account_id, downloaded FROM credits_artifacts WHERE id = $1 FOR UPDATE
),
acct AS (
    SELECT a.id, a.credit_balance FROM credits_accounts a, art
    WHERE a.id = $2 AND art.account_id = $2
    FOR UPDATE OF a
),
debit AS (
    INSERT INTO credits_entries (id, account_id, delta, reason, idempotency_key, meta, created_at)
    SELECT $3, $2, -$4, 'download', $5, $6::jsonb, $7 FROM art, acct
    WHERE art.downloaded = FALSE AND acct.credit_balance - $4 >= 0
    ON CONFLICT (account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING
    RETURNING delta
),
claim AS (
    UPDATE credits_artifacts f
    SET downloaded = TRUE, downloaded_at = $7, updated_at = $7
    FROM debit
    WHERE f.id = $1
    RETURNING f.id
),
upd AS (
    UPDATE credits_accounts a
    SET credit_balance = a.credit_balance + d.delta, updated_at = $7
    FROM debit d
    WHERE a.id = $2
    RETURNING a.credit_balance
)
SELECT
    (SELECT count(*) FROM art),
    (SELECT count(*) FROM art WHERE account_id = $2),
    (SELECT count(*) FROM art WHERE downloaded),
    (SELECT count(*) FROM debit),
    COALESCE((SELECT credit_balance FROM upd), (SELECT credit_balance FROM acct), 0)
`

func (s *Store) ChargeArtifact(ctx context.Context, accountID id.AccountID, artifactID id.ArtifactID, cost int64) (*artifact.ChargeResult, error) {
	key := "download:" + artifactID.String()
	meta := map[string]string{"artifact_id": artifactID.String()}

	var found, owned, settled, charged, balanceAfter int64
	err := s.pg.NewRaw(chargeArtifactSQL,
		artifactID.String(), accountID.String(), id.NewEntryID().String(),
		cost, key, metaJSON(meta), now(),
	).Scan(ctx, &found, &owned, &settled, &charged, &balanceAfter)
	if err != nil {
		return nil, err
	}

	switch {
	case found == 0:
		return nil, credits.ErrArtifactNotFound
	case owned == 0:
		return nil, credits.ErrNotOwner
	case charged == 1:
		return &artifact.ChargeResult{Charged: true, BalanceAfter: balanceAfter}, nil
	case settled > 0:
		return &artifact.ChargeResult{Charged: false, BalanceAfter: balanceAfter}, nil
	default:
		return nil, credits.ErrInsufficientCredits
	}
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, accountID id.AccountID, planName string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID.String()).
		Where("plan_name = $2", planName).
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
	err := s.pg.NewSelect(m).
		Where("provider_ref = $1", providerRef).
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
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID.String()).
		Where("status IN ($2, $3)", string(subscription.StatusActive), string(subscription.StatusPendingDowngrade)).
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
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID.String())

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
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
	t := now()
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusCanceled)).
		Set("canceled_at = $2", canceledAt).
		Set("pending_plan = $3", "").
		Set("updated_at = $4", t).
		Where("provider_ref = $5", providerRef).
		Where("status != $6", string(subscription.StatusCanceled)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either missing or already canceled; canceled is a terminal
		// state so a repeat is a no-op.
		if _, err := s.GetSubscriptionByProviderRef(ctx, providerRef); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ScheduleDowngrade(ctx context.Context, accountID id.AccountID, pendingPlan string) error {
	t := now()
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusPendingDowngrade)).
		Set("pending_plan = $2", pendingPlan).
		Set("updated_at = $3", t).
		Where("account_id = $4", accountID.String()).
		Where("status IN ($5, $6)", string(subscription.StatusActive), string(subscription.StatusPendingDowngrade)).
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
	t := now()
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusActive)).
		Set("pending_plan = $2", "").
		Set("updated_at = $3", t).
		Where("account_id = $4", accountID.String()).
		Where("status = $5", string(subscription.StatusPendingDowngrade)).
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

// activatePeriodSQL upserts the (account, plan) record into active state,
// demotes any other live plan record on the account, and appends the
// period's grant entry. The fresh guard makes stale or replayed provider
// events no-ops: an existing row with an equal or newer period start blocks
// the whole write unless the caller asked to reactivate ($13). The demote
// runs before the upsert and releases the demoted row's provider ref, so
// the activated row can carry the ref without tripping the unique index;
// the upsert reads the demote count to sequence after it.
const activatePeriodSQL = `
WITH acct AS (
    SELECT id FROM credits_accounts WHERE id = $2 FOR UPDATE
),
existing AS (
    SELECT id, current_period_start FROM credits_subscriptions
    WHERE account_id = $2 AND plan_name = $3
    FOR UPDATE
),
fresh AS (
    SELECT 1 AS ok WHERE $13 OR NOT EXISTS (
        SELECT 1 FROM existing WHERE current_period_start >= $5
    )
),
demote AS (
    UPDATE credits_subscriptions s
    SET status = 'canceled', canceled_at = $11, pending_plan = '', provider_ref = '', updated_at = $11
    WHERE s.account_id = $2 AND s.plan_name != $3
      AND s.status IN ('active', 'pending_downgrade')
      AND EXISTS (SELECT 1 FROM fresh)
    RETURNING s.id
),
ups AS (
    INSERT INTO credits_subscriptions
        (id, account_id, plan_name, status, provider_ref, current_period_start, current_period_end, pending_plan, metadata, created_at, updated_at)
    SELECT $1, $2, $3, 'active', $4, $5, $6, '', '{}'::jsonb, $11, $11
    FROM acct, fresh
    WHERE (SELECT count(*) FROM demote) >= 0
    ON CONFLICT (account_id, plan_name) DO UPDATE
    SET status = 'active',
        provider_ref = EXCLUDED.provider_ref,
        current_period_start = EXCLUDED.current_period_start,
        current_period_end = EXCLUDED.current_period_end,
        pending_plan = '',
        updated_at = EXCLUDED.updated_at
    RETURNING id
),
g_ins AS (
    INSERT INTO credits_entries (id, account_id, delta, reason, idempotency_key, meta, created_at)
    SELECT $7, $2, $8, $9, $10, $12::jsonb, $11 FROM ups
    WHERE $8 > 0
    ON CONFLICT (account_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING
    RETURNING delta
),
upd AS (
    UPDATE credits_accounts a
    SET credit_balance = a.credit_balance + g.delta, updated_at = $11
    FROM g_ins g
    WHERE a.id = $2
    RETURNING a.credit_balance
)
SELECT
    (SELECT count(*) FROM acct),
    (SELECT count(*) FROM fresh),
    (SELECT count(*) FROM g_ins),
    COALESCE((SELECT credit_balance FROM upd),
             (SELECT credit_balance FROM credits_accounts WHERE id = $2), 0)
`

func (s *Store) ActivateSubscriptionPeriod(ctx context.Context, p creditsstore.ActivatePeriodParams) (*creditsstore.ActivatePeriodResult, error) {
	var found, fresh, granted, balanceAfter int64
	err := s.pg.NewRaw(activatePeriodSQL,
		id.NewSubscriptionID().String(), p.AccountID.String(), p.PlanName,
		p.ProviderRef, p.PeriodStart, p.PeriodEnd,
		id.NewEntryID().String(), p.GrantCredits, string(p.GrantReason),
		p.GrantKey, now(), metaJSON(p.GrantMeta), p.Reactivate,
	).Scan(ctx, &found, &fresh, &granted, &balanceAfter)
	if err != nil {
		return nil, err
	}
	if found == 0 {
		return nil, credits.ErrAccountNotFound
	}

	return &creditsstore.ActivatePeriodResult{
		Granted:      granted == 1,
		Stale:        fresh == 0,
		BalanceAfter: balanceAfter,
	}, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// metaJSON serializes entry metadata for a jsonb column.
func metaJSON(meta map[string]string) string {
	if len(meta) == 0 {
		return "{}"
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// transferKeys derives the per-side idempotency keys of a transfer.
func transferKeys(key string) (debitKey, grantKey string) {
	if key == "" {
		return "", ""
	}
	return key + ":out", key + ":in"
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Package memory implements the Credits store in process memory. It is
// the reference implementation used by tests and documentation examples.
package memory

import (
	"context"
	"time"

	"sync"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/artifact"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	creditsstore "github.com/xraph/credits/store"
	"github.com/xraph/credits/subscription"
)

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Account storage
	accounts map[string]*account.Account

	// Ledger storage: entries per account in append order, plus the set
	// of settled idempotency keys.
	entries   map[string][]*entry.Entry
	entryKeys map[string]struct{}

	// Artifact storage
	artifacts map[string]*artifact.Artifact

	// Subscription storage
	subscriptions map[string]*subscription.Subscription
}

func New() *Store {
	return &Store{
		accounts:      make(map[string]*account.Account),
		entries:       make(map[string][]*entry.Entry),
		entryKeys:     make(map[string]struct{}),
		artifacts:     make(map[string]*artifact.Artifact),
		subscriptions: make(map[string]*subscription.Subscription),
	}
}

// Account Store implementation
func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.accounts[a.ID.String()] = a
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		return a, nil
	}
	return nil, credits.ErrAccountNotFound
}

func (s *Store) GetAccountByCustomerRef(_ context.Context, customerRef string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.CustomerRef != "" && a.CustomerRef == customerRef {
			return a, nil
		}
	}
	return nil, credits.ErrAccountNotFound
}

func (s *Store) UpdateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID.String()]; !exists {
		return credits.ErrAccountNotFound
	}
	s.accounts[a.ID.String()] = a
	return nil
}

// Entry Store implementation
func (s *Store) AppendEntry(_ context.Context, e *entry.Entry) (*entry.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(e, false)
}

func (s *Store) DebitEntry(_ context.Context, e *entry.Entry) (*entry.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(e, true)
}

// appendLocked applies the entry and the balance change together. Callers
// hold the write lock, which is what makes the pair atomic here.
func (s *Store) appendLocked(e *entry.Entry, requireFunds bool) (*entry.AppendResult, error) {
	a, ok := s.accounts[e.AccountID.String()]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}

	if e.IdempotencyKey != "" {
		if _, settled := s.entryKeys[keyOf(e.AccountID, e.IdempotencyKey)]; settled {
			return &entry.AppendResult{Entry: e, Applied: false, BalanceAfter: a.CreditBalance}, nil
		}
	}

	if requireFunds && a.CreditBalance+e.Delta < 0 {
		return nil, credits.ErrInsufficientCredits
	}

	e.CreatedAt = time.Now().UTC()
	s.entries[e.AccountID.String()] = append(s.entries[e.AccountID.String()], e)
	if e.IdempotencyKey != "" {
		s.entryKeys[keyOf(e.AccountID, e.IdempotencyKey)] = struct{}{}
	}
	a.CreditBalance += e.Delta
	a.Touch()

	return &entry.AppendResult{Entry: e, Applied: true, BalanceAfter: a.CreditBalance}, nil
}

func (s *Store) ListEntries(_ context.Context, accountID id.AccountID, opts entry.ListOpts) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[accountID.String()]
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	result := make([]*entry.Entry, 0, limit)
	skipping := !opts.Cursor.IsNil()
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if skipping {
			if all[i].ID.String() == opts.Cursor.String() {
				skipping = false
			}
			continue
		}
		result = append(result, all[i])
	}
	return result, nil
}

func (s *Store) SumEntries(_ context.Context, accountID id.AccountID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, e := range s.entries[accountID.String()] {
		total += e.Delta
	}
	return total, nil
}

func (s *Store) TransferEntries(_ context.Context, p creditsstore.TransferParams) (*creditsstore.TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.accounts[p.FromAccountID.String()]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}
	to, ok := s.accounts[p.ToAccountID.String()]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}

	debitKey, grantKey := transferKeys(p.IdempotencyKey)
	if debitKey != "" {
		if _, settled := s.entryKeys[keyOf(p.FromAccountID, debitKey)]; settled {
			return &creditsstore.TransferResult{
				Applied:          false,
				FromBalanceAfter: from.CreditBalance,
				ToBalanceAfter:   to.CreditBalance,
			}, nil
		}
	}

	if from.CreditBalance-p.Amount < 0 {
		return nil, credits.ErrInsufficientCredits
	}

	if _, err := s.appendLocked(&entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      p.FromAccountID,
		Delta:          -p.Amount,
		Reason:         entry.ReasonTransfer,
		IdempotencyKey: debitKey,
		Meta:           p.Meta,
	}, true); err != nil {
		return nil, err
	}
	if _, err := s.appendLocked(&entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      p.ToAccountID,
		Delta:          p.Amount,
		Reason:         entry.ReasonTransfer,
		IdempotencyKey: grantKey,
		Meta:           p.Meta,
	}, false); err != nil {
		return nil, err
	}

	return &creditsstore.TransferResult{
		Applied:          true,
		FromBalanceAfter: from.CreditBalance,
		ToBalanceAfter:   to.CreditBalance,
	}, nil
}

func (s *Store) ResetBalance(_ context.Context, accountID id.AccountID, balance int64, audit *entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return credits.ErrAccountNotFound
	}

	audit.CreatedAt = time.Now().UTC()
	s.entries[accountID.String()] = append(s.entries[accountID.String()], audit)
	if audit.IdempotencyKey != "" {
		s.entryKeys[keyOf(accountID, audit.IdempotencyKey)] = struct{}{}
	}
	a.CreditBalance = balance
	a.Touch()
	return nil
}

// Artifact Store implementation
func (s *Store) CreateArtifact(_ context.Context, a *artifact.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.artifacts[a.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.artifacts[a.ID.String()] = a
	return nil
}

func (s *Store) GetArtifact(_ context.Context, artifactID id.ArtifactID) (*artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.artifacts[artifactID.String()]; ok {
		return a, nil
	}
	return nil, credits.ErrArtifactNotFound
}

func (s *Store) ChargeArtifact(_ context.Context, accountID id.AccountID, artifactID id.ArtifactID, cost int64) (*artifact.ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	art, ok := s.artifacts[artifactID.String()]
	if !ok {
		return nil, credits.ErrArtifactNotFound
	}
	if art.AccountID.String() != accountID.String() {
		return nil, credits.ErrNotOwner
	}

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}

	if art.Downloaded {
		return &artifact.ChargeResult{Charged: false, BalanceAfter: a.CreditBalance}, nil
	}
	if a.CreditBalance-cost < 0 {
		return nil, credits.ErrInsufficientCredits
	}

	if _, err := s.appendLocked(&entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      accountID,
		Delta:          -cost,
		Reason:         entry.ReasonDownload,
		IdempotencyKey: "download:" + artifactID.String(),
		Meta:           map[string]string{"artifact_id": artifactID.String()},
	}, true); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	art.Downloaded = true
	art.DownloadedAt = &now
	art.Touch()

	return &artifact.ChargeResult{Charged: true, BalanceAfter: a.CreditBalance}, nil
}

// Subscription Store implementation
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

func (s *Store) GetSubscription(_ context.Context, accountID id.AccountID, planName string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.findByPlan(accountID, planName); sub != nil {
		return sub, nil
	}
	return nil, credits.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByProviderRef(_ context.Context, providerRef string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ProviderRef != "" && sub.ProviderRef == providerRef {
			return sub, nil
		}
	}
	return nil, credits.ErrSubscriptionNotFound
}

func (s *Store) GetActiveSubscription(_ context.Context, accountID id.AccountID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.findLive(accountID); sub != nil {
		return sub, nil
	}
	return nil, credits.ErrNoActiveSubscription
}

func (s *Store) ListSubscriptions(_ context.Context, accountID id.AccountID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.AccountID.String() == accountID.String() {
			if opts.Status == "" || sub.Status == opts.Status {
				result = append(result, sub)
			}
		}
	}
	return result, nil
}

func (s *Store) SyncSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; !exists {
		return credits.ErrSubscriptionNotFound
	}
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

func (s *Store) MarkSubscriptionCanceled(_ context.Context, providerRef string, canceledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.ProviderRef == providerRef {
			if sub.Status != subscription.StatusCanceled {
				sub.Status = subscription.StatusCanceled
				sub.CanceledAt = &canceledAt
				sub.PendingPlan = ""
				sub.Touch()
			}
			return nil
		}
	}
	return credits.ErrSubscriptionNotFound
}

func (s *Store) ScheduleDowngrade(_ context.Context, accountID id.AccountID, pendingPlan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.findLive(accountID)
	if sub == nil {
		return credits.ErrNoActiveSubscription
	}
	sub.Status = subscription.StatusPendingDowngrade
	sub.PendingPlan = pendingPlan
	sub.Touch()
	return nil
}

func (s *Store) CancelScheduledDowngrade(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.AccountID.String() == accountID.String() && sub.Status == subscription.StatusPendingDowngrade {
			sub.Status = subscription.StatusActive
			sub.PendingPlan = ""
			sub.Touch()
			return nil
		}
	}
	return credits.ErrNoPendingDowngrade
}

func (s *Store) ActivateSubscriptionPeriod(_ context.Context, p creditsstore.ActivatePeriodParams) (*creditsstore.ActivatePeriodResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[p.AccountID.String()]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}

	existing := s.findByPlan(p.AccountID, p.PlanName)
	if existing != nil {
		stale := !p.Reactivate && !existing.CurrentPeriodStart.Before(p.PeriodStart)
		if stale {
			return &creditsstore.ActivatePeriodResult{Stale: true, BalanceAfter: a.CreditBalance}, nil
		}

		existing.Status = subscription.StatusActive
		existing.ProviderRef = p.ProviderRef
		existing.CurrentPeriodStart = p.PeriodStart
		existing.CurrentPeriodEnd = p.PeriodEnd
		existing.PendingPlan = ""
		existing.Touch()
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
		s.subscriptions[sub.ID.String()] = sub
	}

	// Demote any other live plan record on the account. The demoted row
	// releases its provider ref so the activated plan can carry it; the
	// ref is unique per provider subscription across the table.
	now := time.Now().UTC()
	for _, sub := range s.subscriptions {
		if sub.AccountID.String() == p.AccountID.String() && sub.PlanName != p.PlanName &&
			(sub.Status == subscription.StatusActive || sub.Status == subscription.StatusPendingDowngrade) {
			sub.Status = subscription.StatusCanceled
			sub.CanceledAt = &now
			sub.PendingPlan = ""
			sub.ProviderRef = ""
			sub.Touch()
		}
	}

	if p.GrantCredits <= 0 {
		return &creditsstore.ActivatePeriodResult{BalanceAfter: a.CreditBalance}, nil
	}

	res, err := s.appendLocked(&entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      p.AccountID,
		Delta:          p.GrantCredits,
		Reason:         p.GrantReason,
		IdempotencyKey: p.GrantKey,
		Meta:           p.GrantMeta,
	}, false)
	if err != nil {
		return nil, err
	}

	return &creditsstore.ActivatePeriodResult{
		Granted:      res.Applied,
		BalanceAfter: res.BalanceAfter,
	}, nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

// Helper functions

// findByPlan returns the (account, plan) record or nil. Callers hold a lock.
func (s *Store) findByPlan(accountID id.AccountID, planName string) *subscription.Subscription {
	for _, sub := range s.subscriptions {
		if sub.AccountID.String() == accountID.String() && sub.PlanName == planName {
			return sub
		}
	}
	return nil
}

// findLive returns the account's active or pending_downgrade record, or nil.
func (s *Store) findLive(accountID id.AccountID) *subscription.Subscription {
	for _, sub := range s.subscriptions {
		if sub.AccountID.String() == accountID.String() &&
			(sub.Status == subscription.StatusActive || sub.Status == subscription.StatusPendingDowngrade) {
			return sub
		}
	}
	return nil
}

func keyOf(accountID id.AccountID, key string) string {
	return accountID.String() + "\x00" + key
}

func transferKeys(key string) (debitKey, grantKey string) {
	if key == "" {
		return "", ""
	}
	return key + ":out", key + ":in"
}

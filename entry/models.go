// Package entry defines the immutable credit ledger entry.
//
// Entries are append-only: they are never updated or deleted, and the
// cached account balance is only ever changed together with the entry
// that explains the change.
package entry

import (
	"time"

	"github.com/xraph/credits/id"
)

// Reason classifies why credits moved. Every entry carries exactly one.
type Reason string

const (
	ReasonTrial               Reason = "trial"                // signup bonus
	ReasonSubscription        Reason = "subscription"         // periodic plan grant
	ReasonPurchase            Reason = "purchase"             // one-time credit pack
	ReasonDownload            Reason = "download"             // artifact download debit
	ReasonAdminGrant          Reason = "admin_grant"          // manual support grant
	ReasonTransfer            Reason = "transfer"             // paired cross-account move
	ReasonRefund              Reason = "refund"               // offsetting correction
	ReasonSubscriptionUpgrade Reason = "subscription_upgrade" // immediate upgrade difference
	ReasonAdjustment          Reason = "adjustment"           // zero-delta reconciliation marker
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonTrial, ReasonSubscription, ReasonPurchase, ReasonDownload,
		ReasonAdminGrant, ReasonTransfer, ReasonRefund,
		ReasonSubscriptionUpgrade, ReasonAdjustment:
		return true
	}
	return false
}

// Entry is a single immutable ledger record. Delta is positive for grants
// and negative for debits. IdempotencyKey, when non-empty, is unique per
// account and makes re-appends of the same logical operation no-ops.
type Entry struct {
	ID             id.EntryID        `json:"id"`
	AccountID      id.AccountID      `json:"account_id"`
	Delta          int64             `json:"delta"`
	Reason         Reason            `json:"reason"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Credit reports whether the entry adds credits.
func (e *Entry) Credit() bool { return e.Delta > 0 }

// Debit reports whether the entry spends credits.
func (e *Entry) Debit() bool { return e.Delta < 0 }

// ListOpts controls History pagination. Cursor is the ID of the last entry
// from the previous page; entry IDs are K-sortable so newest-first paging
// is a simple comparison.
type ListOpts struct {
	Limit  int
	Cursor id.EntryID
}

// AppendResult reports the outcome of an append. Applied is false when the
// entry's idempotency key had already been settled; BalanceAfter is the
// cached balance after the operation either way.
type AppendResult struct {
	Entry        *Entry
	Applied      bool
	BalanceAfter int64
}

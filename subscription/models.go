// Package subscription defines per-account plan subscription records.
package subscription

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Status is the local lifecycle state of a subscription record.
type Status string

const (
	// StatusIncomplete is the initial state: checkout started but the
	// provider has not confirmed payment yet.
	StatusIncomplete Status = "incomplete"

	// StatusActive means the subscription is paid up for the current period.
	StatusActive Status = "active"

	// StatusPendingDowngrade is active with a scheduled switch to a lower
	// tier at the end of the current period. PendingPlan names the target.
	StatusPendingDowngrade Status = "pending_downgrade"

	// StatusCanceled is terminal for billing purposes. The record is kept
	// for audit; it is never hard-deleted.
	StatusCanceled Status = "canceled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusActive, StatusPendingDowngrade, StatusCanceled:
		return true
	}
	return false
}

// Subscription is one account's relationship to one plan. There is at most
// one record per (account, plan) pair; plan changes activate a new record
// and demote the old one rather than rewriting history.
type Subscription struct {
	types.Entity
	ID                 id.SubscriptionID `json:"id"`
	AccountID          id.AccountID      `json:"account_id"`
	PlanName           string            `json:"plan_name"`
	Status             Status            `json:"status"`
	ProviderRef        string            `json:"provider_ref,omitempty"` // provider subscription id
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	PendingPlan        string            `json:"pending_plan,omitempty"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ListOpts filters ListSubscriptions.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}

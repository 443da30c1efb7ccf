// Package account defines the billable account and its cached credit balance.
package account

import (
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Account is a billable customer account. CreditBalance is a cached
// aggregate of the account's ledger entries; every mutation of it happens
// atomically with the entry that explains it, so the cache and the ledger
// sum never diverge under normal operation.
type Account struct {
	types.Entity
	ID            id.AccountID      `json:"id"`
	Email         string            `json:"email"`
	Name          string            `json:"name,omitempty"`
	CreditBalance int64             `json:"credit_balance"`
	ReferralCode  string            `json:"referral_code,omitempty"`
	ReferredBy    string            `json:"referred_by,omitempty"`
	AuthMethod    string            `json:"auth_method,omitempty"`
	CustomerRef   string            `json:"customer_ref,omitempty"` // payment provider customer id
	Metadata      map[string]string `json:"metadata,omitempty"`
}

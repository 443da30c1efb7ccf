package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/artifact"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/subscription"
	"github.com/xraph/credits/types"
)

// Metadata columns are stored as JSON text: database/sql cannot bind Go
// maps, so the mapping functions serialize both ways.

func encodeMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return "{}"
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeMeta(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil
	}
	return meta
}

type accountModel struct {
	grove.BaseModel `grove:"table:credits_accounts"`

	ID            string    `grove:"id,pk"`
	Email         string    `grove:"email"`
	Name          string    `grove:"name"`
	CreditBalance int64     `grove:"credit_balance"`
	ReferralCode  string    `grove:"referral_code"`
	ReferredBy    string    `grove:"referred_by"`
	AuthMethod    string    `grove:"auth_method"`
	CustomerRef   string    `grove:"customer_ref"`
	Metadata      string    `grove:"metadata"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:            a.ID.String(),
		Email:         a.Email,
		Name:          a.Name,
		CreditBalance: a.CreditBalance,
		ReferralCode:  a.ReferralCode,
		ReferredBy:    a.ReferredBy,
		AuthMethod:    a.AuthMethod,
		CustomerRef:   a.CustomerRef,
		Metadata:      encodeMeta(a.Metadata),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}

	return &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            accountID,
		Email:         m.Email,
		Name:          m.Name,
		CreditBalance: m.CreditBalance,
		ReferralCode:  m.ReferralCode,
		ReferredBy:    m.ReferredBy,
		AuthMethod:    m.AuthMethod,
		CustomerRef:   m.CustomerRef,
		Metadata:      decodeMeta(m.Metadata),
	}, nil
}

type entryModel struct {
	grove.BaseModel `grove:"table:credits_entries"`

	ID             string    `grove:"id,pk"`
	AccountID      string    `grove:"account_id"`
	Delta          int64     `grove:"delta"`
	Reason         string    `grove:"reason"`
	IdempotencyKey string    `grove:"idempotency_key"`
	Meta           string    `grove:"meta"`
	CreatedAt      time.Time `grove:"created_at"`
}

func toEntryModel(e *entry.Entry) *entryModel {
	return &entryModel{
		ID:             e.ID.String(),
		AccountID:      e.AccountID.String(),
		Delta:          e.Delta,
		Reason:         string(e.Reason),
		IdempotencyKey: e.IdempotencyKey,
		Meta:           encodeMeta(e.Meta),
		CreatedAt:      e.CreatedAt,
	}
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}

	return &entry.Entry{
		ID:             entryID,
		AccountID:      accountID,
		Delta:          m.Delta,
		Reason:         entry.Reason(m.Reason),
		IdempotencyKey: m.IdempotencyKey,
		Meta:           decodeMeta(m.Meta),
		CreatedAt:      m.CreatedAt,
	}, nil
}

type artifactModel struct {
	grove.BaseModel `grove:"table:credits_artifacts"`

	ID           string     `grove:"id,pk"`
	AccountID    string     `grove:"account_id"`
	WorkflowID   string     `grove:"workflow_id"`
	Kind         string     `grove:"kind"`
	StorageKey   string     `grove:"storage_key"`
	Downloaded   bool       `grove:"downloaded"`
	DownloadedAt *time.Time `grove:"downloaded_at"`
	Metadata     string     `grove:"metadata"`
	CreatedAt    time.Time  `grove:"created_at"`
	UpdatedAt    time.Time  `grove:"updated_at"`
}

func toArtifactModel(a *artifact.Artifact) *artifactModel {
	m := &artifactModel{
		ID:           a.ID.String(),
		AccountID:    a.AccountID.String(),
		Kind:         a.Kind,
		StorageKey:   a.StorageKey,
		Downloaded:   a.Downloaded,
		DownloadedAt: a.DownloadedAt,
		Metadata:     encodeMeta(a.Metadata),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if !a.WorkflowID.IsNil() {
		m.WorkflowID = a.WorkflowID.String()
	}
	return m
}

func fromArtifactModel(m *artifactModel) (*artifact.Artifact, error) {
	artifactID, err := id.ParseArtifactID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}

	a := &artifact.Artifact{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           artifactID,
		AccountID:    accountID,
		Kind:         m.Kind,
		StorageKey:   m.StorageKey,
		Downloaded:   m.Downloaded,
		DownloadedAt: m.DownloadedAt,
		Metadata:     decodeMeta(m.Metadata),
	}
	if m.WorkflowID != "" {
		workflowID, err := id.ParseWorkflowID(m.WorkflowID)
		if err != nil {
			return nil, err
		}
		a.WorkflowID = workflowID
	}
	return a, nil
}

type subscriptionModel struct {
	grove.BaseModel `grove:"table:credits_subscriptions"`

	ID                 string     `grove:"id,pk"`
	AccountID          string     `grove:"account_id"`
	PlanName           string     `grove:"plan_name"`
	Status             string     `grove:"status"`
	ProviderRef        string     `grove:"provider_ref"`
	CurrentPeriodStart time.Time  `grove:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"`
	PendingPlan        string     `grove:"pending_plan"`
	CanceledAt         *time.Time `grove:"canceled_at"`
	Metadata           string     `grove:"metadata"`
	CreatedAt          time.Time  `grove:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		AccountID:          s.AccountID.String(),
		PlanName:           s.PlanName,
		Status:             string(s.Status),
		ProviderRef:        s.ProviderRef,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		PendingPlan:        s.PendingPlan,
		CanceledAt:         s.CanceledAt,
		Metadata:           encodeMeta(s.Metadata),
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 subID,
		AccountID:          accountID,
		PlanName:           m.PlanName,
		Status:             subscription.Status(m.Status),
		ProviderRef:        m.ProviderRef,
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		PendingPlan:        m.PendingPlan,
		CanceledAt:         m.CanceledAt,
		Metadata:           decodeMeta(m.Metadata),
	}, nil
}

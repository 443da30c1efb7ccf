// Package artifact defines chargeable generated results.
package artifact

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Artifact is a generated result (a staged image) that costs credits to
// download. Downloaded is a one-shot flag: it flips to true exactly once,
// atomically with the debit entry that paid for it, and never flips back.
type Artifact struct {
	types.Entity
	ID           id.ArtifactID     `json:"id"`
	AccountID    id.AccountID      `json:"account_id"`
	WorkflowID   id.WorkflowID     `json:"workflow_id,omitempty"`
	Kind         string            `json:"kind,omitempty"`
	StorageKey   string            `json:"storage_key,omitempty"`
	Downloaded   bool              `json:"downloaded"`
	DownloadedAt *time.Time        `json:"downloaded_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

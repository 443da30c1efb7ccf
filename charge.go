package credits

import (
	"context"
	"strconv"

	"github.com/xraph/credits/artifact"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// CreateArtifact registers a generated result as chargeable. Generation is
// free; the debit happens on first download.
func (e *Engine) CreateArtifact(ctx context.Context, a *artifact.Artifact) error {
	if a.ID.IsNil() {
		a.ID = id.NewArtifactID()
	}
	a.Entity = types.NewEntity()

	return e.store.CreateArtifact(ctx, a)
}

// GetArtifact retrieves an artifact by ID.
func (e *Engine) GetArtifact(ctx context.Context, artifactID id.ArtifactID) (*artifact.Artifact, error) {
	return e.store.GetArtifact(ctx, artifactID)
}

// ChargeDownload debits the download cost for an artifact at most once.
// Repeat calls, including concurrent ones, observe the settled state with
// Charged=false and no further ledger movement. ErrInsufficientCredits
// leaves the artifact unchanged.
func (e *Engine) ChargeDownload(ctx context.Context, accountID id.AccountID, artifactID id.ArtifactID) (*artifact.ChargeResult, error) {
	res, err := e.store.ChargeArtifact(ctx, accountID, artifactID, e.downloadCost)
	if err != nil {
		if IsInsufficient(err) {
			e.plugins.EmitInsufficientCredits(ctx, accountID.String(), e.downloadCost, 0)
		}
		return nil, err
	}

	if res.Charged {
		e.logger.Info("download charged",
			"account_id", accountID,
			"artifact_id", artifactID,
			"cost", e.downloadCost,
			"balance_after", res.BalanceAfter,
		)
	}
	return res, nil
}

// ChargeRefinement debits the refinement cost for one edit round of a
// workflow. The (workflowID, editIndex) pair keys the debit, so retries of
// the same round settle without a second charge.
func (e *Engine) ChargeRefinement(ctx context.Context, accountID id.AccountID, workflowID id.WorkflowID, editIndex int) (*entry.AppendResult, error) {
	if editIndex < 0 {
		return nil, ErrInvalidInput
	}

	key := "refine:" + workflowID.String() + ":" + strconv.Itoa(editIndex)
	res, err := e.append(ctx, &entry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      accountID,
		Delta:          -e.refinementCost,
		Reason:         entry.ReasonDownload,
		IdempotencyKey: key,
		Meta: map[string]string{
			"workflow_id": workflowID.String(),
			"edit_index":  strconv.Itoa(editIndex),
		},
	}, true)
	if err != nil {
		if IsInsufficient(err) {
			e.plugins.EmitInsufficientCredits(ctx, accountID.String(), e.refinementCost, 0)
		}
		return nil, err
	}

	if res.Applied {
		e.logger.Info("refinement charged",
			"account_id", accountID,
			"workflow_id", workflowID,
			"edit_index", editIndex,
			"balance_after", res.BalanceAfter,
		)
	}
	return res, nil
}

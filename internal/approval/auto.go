package approval

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/expenseflow/internal/shared"
	"github.com/odyssey-erp/expenseflow/internal/workflows"
)

// AutoApprover returns the designated approver of a workflow configured to auto-approve.
// Submitters never auto-approve their own expense.
func AutoApprover(wf *workflows.Workflow, state State) (uuid.UUID, bool) {
	if wf == nil || !wf.IsActive || state.Status.Terminal() {
		return uuid.Nil, false
	}
	if wf.PrimaryRule() != workflows.RuleSpecificApprover {
		return uuid.Nil, false
	}
	rule := wf.Rules.SpecificApprover
	if rule == nil || !rule.AutoApprove || rule.Approver == uuid.Nil {
		return uuid.Nil, false
	}
	if rule.Approver == state.SubmittedBy {
		return uuid.Nil, false
	}
	return rule.Approver, true
}

// ShouldAutoApprove reports whether actorID is the designated approver of an
// auto-approving workflow for this expense.
func ShouldAutoApprove(wf *workflows.Workflow, state State, actorID uuid.UUID) bool {
	approver, ok := AutoApprover(wf, state)
	return ok && approver == actorID
}

// AutoApprove marks the expense approved on behalf of approverID.
// The dual-approval slots are left untouched.
func AutoApprove(state State, approverID uuid.UUID, role shared.Role, at time.Time) (State, HistoryEntry) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next := state
	next.Approvals = state.Approvals.clone()
	next.Status = StatusApproved
	next.AutoApproved = true
	return next, HistoryEntry{
		ActorID: approverID,
		Role:    role,
		Action:  shared.ApprovalAuto,
		Note:    "auto-approved by workflow",
		At:      at,
	}
}

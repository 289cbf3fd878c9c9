package approval

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/expenseflow/internal/shared"
	"github.com/odyssey-erp/expenseflow/internal/workflows"
)

// PercentageResult reports progress against a percentage rule.
type PercentageResult struct {
	Eligible           int  `json:"eligible"`
	Approved           int  `json:"approved"`
	RequiredPercentage int  `json:"required_percentage"`
	Met                bool `json:"met"`
}

// EvaluatePercentage counts distinct eligible approvers with an approval in history.
func EvaluatePercentage(rule *workflows.PercentageRule, history []HistoryEntry) PercentageResult {
	if rule == nil {
		return PercentageResult{}
	}
	eligible := make(map[uuid.UUID]struct{}, len(rule.EligibleApprovers))
	for _, id := range rule.EligibleApprovers {
		eligible[id] = struct{}{}
	}
	approved := make(map[uuid.UUID]struct{})
	for _, entry := range history {
		if entry.Action != shared.ApprovalApprove && entry.Action != shared.ApprovalAuto {
			continue
		}
		if _, ok := eligible[entry.ActorID]; ok {
			approved[entry.ActorID] = struct{}{}
		}
	}
	result := PercentageResult{
		Eligible:           len(eligible),
		Approved:           len(approved),
		RequiredPercentage: rule.RequiredPercentage,
	}
	result.Met = result.Eligible > 0 && result.Approved*100 >= rule.RequiredPercentage*result.Eligible
	return result
}

// RequiredApprovers lists everyone a workflow names as an approver, without duplicates.
func RequiredApprovers(wf *workflows.Workflow) []uuid.UUID {
	if wf == nil {
		return nil
	}
	return wf.Approvers()
}

// Summary is the approval progress reported with an expense.
type Summary struct {
	Status            Status            `json:"status"`
	ManagerApproved   bool              `json:"manager_approved"`
	FinanceApproved   bool              `json:"finance_approved"`
	FullyApproved     bool              `json:"fully_approved"`
	PartiallyApproved bool              `json:"partially_approved"`
	AutoApproved      bool              `json:"auto_approved"`
	Percentage        *PercentageResult `json:"percentage,omitempty"`
}

// Summarize derives the approval summary. wf may be nil.
func Summarize(state State, wf *workflows.Workflow, history []HistoryEntry) Summary {
	manager := state.Approvals.Manager.Approved
	finance := state.Approvals.Finance.Approved
	summary := Summary{
		Status:            state.Status,
		ManagerApproved:   manager,
		FinanceApproved:   finance,
		FullyApproved:     (manager && finance) || (state.AutoApproved && state.Status == StatusApproved),
		PartiallyApproved: manager != finance && state.Status == StatusProcessing,
		AutoApproved:      state.AutoApproved,
	}
	if wf != nil && wf.Rules.Percentage != nil && (wf.Type == workflows.TypePercentage || wf.Type == workflows.TypeHybrid) {
		result := EvaluatePercentage(wf.Rules.Percentage, history)
		summary.Percentage = &result
	}
	return summary
}

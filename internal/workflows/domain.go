package workflows

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Type selects which rule block drives a workflow.
type Type string

const (
	TypePercentage       Type = "percentage"
	TypeSpecificApprover Type = "specific_approver"
	TypeHybrid           Type = "hybrid"
)

// RuleKind names a rule block referenced by hybrid workflows.
type RuleKind string

const (
	RulePercentage       RuleKind = "percentage"
	RuleSpecificApprover RuleKind = "specific_approver"
)

// Conditions are a conjunction; empty sets and nil bounds match anything.
type Conditions struct {
	MinAmount  *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount  *decimal.Decimal `json:"max_amount,omitempty"`
	Categories []string         `json:"categories,omitempty"`
	Roles      []shared.Role    `json:"roles,omitempty"`
}

// PercentageRule requires a share of eligible approvers to approve.
type PercentageRule struct {
	RequiredPercentage int         `json:"required_percentage"`
	EligibleApprovers  []uuid.UUID `json:"eligible_approvers"`
}

// SpecificApproverRule designates a single approver, optionally auto-approving.
type SpecificApproverRule struct {
	Approver    uuid.UUID `json:"approver"`
	AutoApprove bool      `json:"auto_approve"`
}

// HybridRule combines the two other rule kinds.
type HybridRule struct {
	PrimaryRule  RuleKind `json:"primary_rule"`
	FallbackRule RuleKind `json:"fallback_rule"`
}

// Rules holds the type-specific configuration.
type Rules struct {
	Percentage       *PercentageRule       `json:"percentage,omitempty"`
	SpecificApprover *SpecificApproverRule `json:"specific_approver,omitempty"`
	Hybrid           *HybridRule           `json:"hybrid,omitempty"`
}

// Level is one step of a multi-level approval chain.
type Level struct {
	Level             int         `json:"level"`
	Approvers         []uuid.UUID `json:"approvers"`
	RequiredApprovals int         `json:"required_approvals"`
	IsOptional        bool        `json:"is_optional"`
}

// Workflow is a company-scoped approval policy.
type Workflow struct {
	ID         uuid.UUID  `json:"id"`
	CompanyID  uuid.UUID  `json:"company_id"`
	Name       string     `json:"name"`
	Type       Type       `json:"type"`
	Conditions Conditions `json:"conditions"`
	Rules      Rules      `json:"rules"`
	Levels     []Level    `json:"levels"`
	IsActive   bool       `json:"is_active"`
	Priority   int        `json:"priority"`
	Seq        int64      `json:"-"`
	CreatedBy  uuid.UUID  `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PrimaryRule returns the rule kind that decides the workflow.
func (w Workflow) PrimaryRule() RuleKind {
	switch w.Type {
	case TypePercentage:
		return RulePercentage
	case TypeSpecificApprover:
		return RuleSpecificApprover
	case TypeHybrid:
		if w.Rules.Hybrid != nil {
			return w.Rules.Hybrid.PrimaryRule
		}
	}
	return ""
}

// Subject is what the matcher needs to know about an expense and its submitter.
type Subject struct {
	ConvertedAmount decimal.Decimal
	Category        string
	Role            shared.Role
}

var (
	// ErrNotFound indicates the workflow does not exist in the caller's company.
	ErrNotFound = shared.NewError(shared.KindNotFound, "workflow not found")
	// ErrAdminOnly guards workflow mutation.
	ErrAdminOnly = shared.NewError(shared.KindForbidden, "only company admins can manage workflows")
	// ErrInUse blocks deleting a workflow that expenses were routed through. Deactivate it instead.
	ErrInUse = shared.NewError(shared.KindConflict, "workflow is referenced by expenses, deactivate it instead")
)

// Approvers lists every user the workflow names, in rule then level order, without duplicates.
func (w Workflow) Approvers() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	add := func(id uuid.UUID) {
		if id == uuid.Nil {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if w.Rules.SpecificApprover != nil {
		add(w.Rules.SpecificApprover.Approver)
	}
	if w.Rules.Percentage != nil {
		for _, id := range w.Rules.Percentage.EligibleApprovers {
			add(id)
		}
	}
	for _, lvl := range w.Levels {
		for _, id := range lvl.Approvers {
			add(id)
		}
	}
	return out
}

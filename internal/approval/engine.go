// Package approval holds the dual-approval state machine. Every function is pure:
// inputs are never mutated and results are returned as new values.
package approval

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Status is the approval status of an expense.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether no further approval action may apply.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Decision is the outcome an approver records.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Slot is one half of the dual approval.
type Slot struct {
	Approved bool       `json:"approved"`
	Approver *uuid.UUID `json:"approver,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Comment  string     `json:"comment,omitempty"`
}

// Slots holds the manager and finance approvals.
type Slots struct {
	Manager Slot `json:"manager"`
	Finance Slot `json:"finance"`
}

func (s Slots) clone() Slots {
	return Slots{Manager: s.Manager.clone(), Finance: s.Finance.clone()}
}

func (s Slot) clone() Slot {
	out := s
	if s.Approver != nil {
		id := *s.Approver
		out.Approver = &id
	}
	if s.At != nil {
		at := *s.At
		out.At = &at
	}
	return out
}

// slot returns the slot for role; ok is false for roles without one.
func (s *Slots) slot(role shared.Role) (*Slot, bool) {
	switch role {
	case shared.RoleManager:
		return &s.Manager, true
	case shared.RoleFinance:
		return &s.Finance, true
	}
	return nil, false
}

// State is the slice of an expense the engine reasons about.
type State struct {
	ExpenseID    uuid.UUID
	SubmittedBy  uuid.UUID
	Status       Status
	Approvals    Slots
	AutoApproved bool
}

// Action is one approval decision by an approver acting in a role.
type Action struct {
	ApproverID uuid.UUID
	Role       shared.Role
	Decision   Decision
	Comment    string
	At         time.Time
}

// HistoryEntry is the audit record an action produces.
type HistoryEntry struct {
	ActorID uuid.UUID
	Role    shared.Role
	Action  shared.ApprovalAction
	Note    string
	At      time.Time
}

var (
	// ErrSelfApproval blocks submitters from acting on their own expense.
	ErrSelfApproval = shared.NewError(shared.KindForbidden, "you cannot approve your own expense")
	// ErrFinalized blocks actions on approved or rejected expenses.
	ErrFinalized = shared.NewError(shared.KindConflict, "expense is already finalized")
	// ErrRoleNotAllowed blocks roles other than manager and finance.
	ErrRoleNotAllowed = shared.NewError(shared.KindForbidden, "only manager or finance can approve expenses")
	// ErrDuplicateApproval is returned when the same user approves the same slot twice.
	ErrDuplicateApproval = shared.NewError(shared.KindConflict, "you have already approved this expense")
	// ErrSlotFilled is returned when another user of the role already approved.
	ErrSlotFilled = shared.NewError(shared.KindConflict, "this approval step is already completed")
	// ErrInvalidDecision rejects decisions other than approved and rejected.
	ErrInvalidDecision = shared.NewError(shared.KindValidation, "decision must be approved or rejected")
)

// CanBeApprovedBy checks that userID may act on the expense at all.
func CanBeApprovedBy(state State, userID uuid.UUID) error {
	if state.SubmittedBy == userID {
		return ErrSelfApproval
	}
	if state.Status.Terminal() {
		return ErrFinalized
	}
	return nil
}

// HasUserApproved reports whether userID already filled the role's slot.
func HasUserApproved(state State, userID uuid.UUID, role shared.Role) bool {
	slots := state.Approvals
	slot, ok := slots.slot(role)
	if !ok || !slot.Approved || slot.Approver == nil {
		return false
	}
	return *slot.Approver == userID
}

// CheckAction runs every guard for action without changing anything.
func CheckAction(state State, action Action) error {
	if !action.Role.CanApprove() {
		return ErrRoleNotAllowed
	}
	if err := CanBeApprovedBy(state, action.ApproverID); err != nil {
		return err
	}
	switch action.Decision {
	case DecisionApproved:
	case DecisionRejected:
		return nil
	default:
		return ErrInvalidDecision
	}
	if HasUserApproved(state, action.ApproverID, action.Role) {
		return ErrDuplicateApproval
	}
	slots := state.Approvals
	if slot, _ := slots.slot(action.Role); slot.Approved {
		return ErrSlotFilled
	}
	return nil
}

// Apply returns the state after action and the history entry to append.
// A rejection is final; an approval fills the role's slot and the expense
// becomes approved once both slots are filled.
func Apply(state State, action Action) (State, HistoryEntry, error) {
	if err := CheckAction(state, action); err != nil {
		return state, HistoryEntry{}, err
	}
	at := action.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next := state
	next.Approvals = state.Approvals.clone()
	entry := HistoryEntry{ActorID: action.ApproverID, Role: action.Role, Note: action.Comment, At: at}

	if action.Decision == DecisionRejected {
		next.Status = StatusRejected
		entry.Action = shared.ApprovalReject
		return next, entry, nil
	}

	slot, _ := next.Approvals.slot(action.Role)
	approver := action.ApproverID
	slot.Approved = true
	slot.Approver = &approver
	slot.At = &at
	slot.Comment = action.Comment
	next.Status = DeriveStatus(next.Approvals)
	entry.Action = shared.ApprovalApprove
	return next, entry, nil
}

// DeriveStatus maps the slots of a non-rejected expense to its status.
func DeriveStatus(slots Slots) Status {
	switch {
	case slots.Manager.Approved && slots.Finance.Approved:
		return StatusApproved
	case slots.Manager.Approved || slots.Finance.Approved:
		return StatusProcessing
	default:
		return StatusPending
	}
}

package expenses

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/approval"
	"github.com/odyssey-erp/expenseflow/internal/currency"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Module is the approvals/idempotency namespace for expenses.
const Module = "EXPENSE"

// Expense is one claimed cost.
type Expense struct {
	ID              uuid.UUID         `json:"id"`
	CompanyID       uuid.UUID         `json:"company_id"`
	SubmittedBy     uuid.UUID         `json:"submitted_by"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        currency.Currency `json:"currency"`
	ExchangeRate    decimal.Decimal   `json:"exchange_rate"`
	ConvertedAmount decimal.Decimal   `json:"converted_amount"`
	Category        string            `json:"category"`
	ExpenseDate     time.Time         `json:"expense_date"`
	SubmittedAt     time.Time         `json:"submitted_at"`
	Status          approval.Status   `json:"status"`
	Approvals       approval.Slots    `json:"approvals"`
	WorkflowID      *uuid.UUID        `json:"workflow_id,omitempty"`
	AutoApproved    bool              `json:"auto_approved"`
	Receipt         *ReceiptMeta      `json:"receipt,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// State projects the expense into the approval engine's view.
func (e Expense) State() approval.State {
	return approval.State{
		ExpenseID:    e.ID,
		SubmittedBy:  e.SubmittedBy,
		Status:       e.Status,
		Approvals:    e.Approvals,
		AutoApproved: e.AutoApproved,
	}
}

// WithState returns a copy carrying the engine's result.
func (e Expense) WithState(s approval.State) Expense {
	e.Status = s.Status
	e.Approvals = s.Approvals
	e.AutoApproved = s.AutoApproved
	return e
}

// Reprice returns a copy with amount and rate set and the converted amount recomputed.
func (e Expense) Reprice(amount, rate decimal.Decimal) Expense {
	e.Amount = amount.Round(2)
	e.ExchangeRate = rate
	e.ConvertedAmount = e.Amount.Mul(rate).Round(2)
	return e
}

// ReceiptMeta describes a stored receipt without its content.
type ReceiptMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Receipt is a stored receipt with its content.
type Receipt struct {
	ReceiptMeta
	Data []byte
}

// ReceiptUpload is a raw receipt as received from a client.
type ReceiptUpload struct {
	Filename string
	Data     []byte
}

// Draft is a submission request.
type Draft struct {
	Title        string
	Description  string
	Amount       decimal.Decimal
	CurrencyCode string
	Country      string
	Category     string
	ExpenseDate  time.Time
	Receipt      *ReceiptUpload
}

// Patch edits a pending expense; nil fields are left unchanged.
type Patch struct {
	Title        *string
	Description  *string
	Amount       *decimal.Decimal
	CurrencyCode *string
	Category     *string
	ExpenseDate  *time.Time
	Receipt      *ReceiptUpload
}

// Filter narrows expense listings.
type Filter struct {
	CompanyID   uuid.UUID
	SubmittedBy *uuid.UUID
	Status      approval.Status
	Category    string
	Limit       int
	Offset      int
}

// ListResult is a page of expenses.
type ListResult struct {
	Items      []Expense         `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// Result is returned by approval actions.
type Result struct {
	Expense Expense          `json:"expense"`
	Summary approval.Summary `json:"summary"`
}

var (
	// ErrNotFound indicates the expense does not exist in the caller's company.
	ErrNotFound = shared.NewError(shared.KindNotFound, "expense not found")
	// ErrViewForbidden blocks employees from reading other people's expenses.
	ErrViewForbidden = shared.NewError(shared.KindForbidden, "you cannot view this expense")
	// ErrOwnerOnly blocks edits by anyone but the submitter.
	ErrOwnerOnly = shared.NewError(shared.KindForbidden, "only the submitter can change this expense")
	// ErrNotEditable blocks edits once an expense has left pending.
	ErrNotEditable = shared.NewError(shared.KindConflict, "only pending expenses can be changed")
	// ErrNoReceipt is returned when an expense carries no receipt.
	ErrNoReceipt = shared.NewError(shared.KindNotFound, "expense has no receipt")
	// ErrInactiveUser blocks deactivated accounts.
	ErrInactiveUser = shared.NewError(shared.KindForbidden, "account is deactivated")
	// ErrLimitExceeded is returned when the converted amount is above the company limit.
	ErrLimitExceeded = shared.NewError(shared.KindValidation, "amount exceeds the company expense limit")
)

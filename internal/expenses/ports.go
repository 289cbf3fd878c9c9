package expenses

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/approval"
	"github.com/odyssey-erp/expenseflow/internal/currency"
	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/shared"
	"github.com/odyssey-erp/expenseflow/internal/workflows"
)

// Repository describes expense persistence used by Service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Expense, error)
	List(ctx context.Context, filter Filter) ([]Expense, int, error)
	History(ctx context.Context, id uuid.UUID) ([]approval.HistoryEntry, error)
	Receipt(ctx context.Context, id uuid.UUID) (Receipt, error)
}

// TxRepository exposes transactional writes.
type TxRepository interface {
	Insert(ctx context.Context, e Expense, receipt *Receipt) error
	// Update writes e if the stored version still equals e.Version and bumps it.
	Update(ctx context.Context, e Expense, receipt *Receipt) (Expense, error)
	Delete(ctx context.Context, id uuid.UUID, version int64) error
	AppendHistory(ctx context.Context, expenseID uuid.UUID, entry approval.HistoryEntry) error
}

// CurrencyConverter converts amounts into the company base currency.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (currency.Conversion, error)
	ResolveCountryCurrency(country string) (currency.Currency, bool)
	Lookup(code string) (currency.Currency, error)
}

// Directory resolves companies and users.
type Directory interface {
	GetCompany(ctx context.Context, id uuid.UUID) (directory.Company, error)
	GetUser(ctx context.Context, id uuid.UUID) (directory.User, error)
	FindUsersByRoleInCompany(ctx context.Context, companyID uuid.UUID, role shared.Role) ([]directory.User, error)
	FindUsersByIDs(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]directory.User, error)
}

// WorkflowSource reads workflows for matching and summaries.
type WorkflowSource interface {
	workflows.ActiveLister
	Get(ctx context.Context, companyID, id uuid.UUID) (workflows.Workflow, error)
}

// Notifier is told about submissions and decisions. Failures never fail the caller.
type Notifier interface {
	NotifySubmission(ctx context.Context, e Expense, submitter directory.User) error
	NotifyDecision(ctx context.Context, e Expense, submitter, approver directory.User, decision approval.Decision, comment string) error
	NotifyReviewNeeded(ctx context.Context, e Expense, recipients []directory.User, approvedBy directory.User) error
}

// Locker serialises approval actions per expense.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// IdempotencyPort records processed submission keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives domain counters.
type Metrics interface {
	ExpenseSubmitted(status approval.Status, autoApproved bool)
	ApprovalDecided(decision approval.Decision, status approval.Status)
	ConversionFailed()
}

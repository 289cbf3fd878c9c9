package directory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/currency"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Company is a tenant. Every user, workflow and expense belongs to exactly one.
type Company struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	Country      string            `json:"country"`
	BaseCurrency currency.Currency `json:"base_currency"`
	ExpenseLimit *decimal.Decimal  `json:"expense_limit,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// User is a member of a company with a single role.
type User struct {
	ID           uuid.UUID   `json:"id"`
	CompanyID    uuid.UUID   `json:"company_id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	Role         shared.Role `json:"role"`
	ManagerID    *uuid.UUID  `json:"manager_id,omitempty"`
	PasswordHash string      `json:"-"`
	IsActive     bool        `json:"is_active"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Actor projects the user into the request principal.
func (u User) Actor() shared.Actor {
	return shared.Actor{ID: u.ID, CompanyID: u.CompanyID, Role: u.Role, Name: u.Name, Email: u.Email}
}

var (
	// ErrCompanyNotFound indicates the company does not exist.
	ErrCompanyNotFound = shared.NewError(shared.KindNotFound, "company not found")
	// ErrUserNotFound indicates the user does not exist in the caller's company.
	ErrUserNotFound = shared.NewError(shared.KindNotFound, "user not found")
	// ErrEmailTaken is returned when registering an email already in use.
	ErrEmailTaken = shared.NewError(shared.KindConflict, "email already registered")
	// ErrAdminOnly guards user and company administration.
	ErrAdminOnly = shared.NewError(shared.KindForbidden, "only company admins can manage users")
	// ErrLastAdmin prevents demoting or deactivating the last admin of a company.
	ErrLastAdmin = shared.NewError(shared.KindConflict, "company must keep at least one active admin")
)

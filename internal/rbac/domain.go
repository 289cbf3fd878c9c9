package rbac

import (
	"sort"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Permission names an atomic capability granted through a role.
type Permission string

// Permissions recognised by the API.
const (
	PermExpenseSubmit  Permission = "expenses.submit"
	PermExpenseViewAll Permission = "expenses.view_all"
	PermExpenseApprove Permission = "expenses.approve"
	PermWorkflowView   Permission = "workflows.view"
	PermWorkflowManage Permission = "workflows.manage"
	PermUserManage     Permission = "users.manage"
	PermCompanyManage  Permission = "company.manage"
	PermMetricsView    Permission = "metrics.view"
)

var rolePermissions = map[shared.Role][]Permission{
	shared.RoleEmployee: {PermExpenseSubmit},
	shared.RoleManager:  {PermExpenseSubmit, PermExpenseViewAll, PermExpenseApprove, PermWorkflowView},
	shared.RoleFinance:  {PermExpenseSubmit, PermExpenseViewAll, PermExpenseApprove, PermWorkflowView},
	shared.RoleAdmin: {
		PermExpenseSubmit, PermExpenseViewAll, PermWorkflowView, PermWorkflowManage,
		PermUserManage, PermCompanyManage, PermMetricsView,
	},
}

// PermissionsFor returns the sorted permission set of a role.
func PermissionsFor(role shared.Role) []Permission {
	perms := append([]Permission(nil), rolePermissions[role]...)
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// Grants reports whether the role carries the permission.
func Grants(role shared.Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Principal is the resolved actor together with its effective permissions.
type Principal struct {
	ID          string       `json:"id"`
	CompanyID   string       `json:"company_id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Role        shared.Role  `json:"role"`
	Permissions []Permission `json:"permissions"`
}

var (
	// ErrInactive rejects sessions owned by deactivated users.
	ErrInactive = shared.NewError(shared.KindUnauthorized, "user is inactive")
	// ErrForbidden is returned when the actor lacks a required permission.
	ErrForbidden = shared.NewError(shared.KindForbidden, "insufficient permissions")
)

package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// ExpenseLockKey builds redis keys for the per-expense approval critical section.
func ExpenseLockKey(expenseID uuid.UUID) string {
	return fmt.Sprintf("expense:%s:lock", expenseID)
}

// WorkflowSetLockKey guards priority reshuffles of a company's workflow set.
func WorkflowSetLockKey(companyID uuid.UUID) string {
	return fmt.Sprintf("company:%s:workflows:lock", companyID)
}

// Package guard flips the binaries into test mode when imported by tests.
package guard

import (
	"os"

	"github.com/odyssey-erp/expenseflow/internal/app"
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
	app.RefreshTestMode()
}

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/expenseflow/internal/app"
	_ "github.com/odyssey-erp/expenseflow/internal/testing/guard"
)

func TestMainSkipsRuntimeInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}

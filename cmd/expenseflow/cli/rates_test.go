package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/expenseflow/internal/currency"
)

func newTestRatesCLI(t *testing.T) *RatesCLI {
	t.Helper()
	fallback, err := currency.LoadFallback("")
	require.NoError(t, err)
	cli, err := NewRatesCLI(currency.NewService(nil, nil, fallback, time.Second, nil))
	require.NoError(t, err)
	return cli
}

func TestConvertCommandJSON(t *testing.T) {
	cli := newTestRatesCLI(t)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	exitCode := cli.ConvertCommand(context.Background(), ConvertOptions{
		Amount: "92", From: "eur", To: "USD", JSONOutput: true, Stdout: stdout, Stderr: stderr,
	})
	require.Equal(t, 0, exitCode, stderr.String())

	var summary ConvertSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, "EUR", summary.From)
	require.Equal(t, "100.00", summary.ConvertedAmount)
	require.Equal(t, "1.0869565217", summary.Rate)
	require.Equal(t, currency.SourceFallback, summary.Source)
}

func TestConvertCommandUnavailableRate(t *testing.T) {
	cli := newTestRatesCLI(t)
	stderr := new(bytes.Buffer)
	exitCode := cli.ConvertCommand(context.Background(), ConvertOptions{
		Amount: "10", From: "MNT", To: "USD", Stdout: new(bytes.Buffer), Stderr: stderr,
	})
	require.Equal(t, 10, exitCode)
	require.Contains(t, stderr.String(), "conversion unavailable")
}

func TestConvertCommandRejectsBadInput(t *testing.T) {
	cli := newTestRatesCLI(t)
	require.Equal(t, 1, cli.ConvertCommand(context.Background(), ConvertOptions{Amount: "ten", From: "USD", To: "EUR", Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
	require.Equal(t, 1, cli.ConvertCommand(context.Background(), ConvertOptions{Amount: "10", To: "EUR", Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
}

func TestCoverageCommandReportsGaps(t *testing.T) {
	cli := newTestRatesCLI(t)
	stdout := new(bytes.Buffer)
	exitCode := cli.CoverageCommand(context.Background(), CoverageOptions{
		Base: "EUR", Codes: []string{"usd", "JPY", "MNT"}, JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer),
	})
	require.Equal(t, 10, exitCode)

	var summary CoverageSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Equal(t, []string{"JPY", "USD"}, summary.Covered)
	require.Equal(t, []string{"MNT"}, summary.Missing)
}

func TestCoverageCommandWholeTable(t *testing.T) {
	cli := newTestRatesCLI(t)
	stdout := new(bytes.Buffer)
	exitCode := cli.CoverageCommand(context.Background(), CoverageOptions{Base: "USD", Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "0 missing")
}

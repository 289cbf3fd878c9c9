package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/expenseflow/internal/currency"
)

// Converter is the slice of the currency service the rate tooling needs.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (currency.Conversion, error)
	Fallback() currency.RateTable
}

// RatesCLI offers operator helpers around exchange rates.
type RatesCLI struct {
	converter Converter
}

// NewRatesCLI constructs a new helper instance.
func NewRatesCLI(converter Converter) (*RatesCLI, error) {
	if converter == nil {
		return nil, errors.New("rates cli: converter required")
	}
	return &RatesCLI{converter: converter}, nil
}

// ConvertOptions defines flags for the rates convert command.
type ConvertOptions struct {
	Amount     string
	From       string
	To         string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ConvertSummary is the JSON output of rates convert.
type ConvertSummary struct {
	Amount          string `json:"amount"`
	From            string `json:"from"`
	To              string `json:"to"`
	Rate            string `json:"rate"`
	ConvertedAmount string `json:"converted_amount"`
	Source          string `json:"source"`
}

// ConvertCommand converts one amount using the live chain and prints the outcome.
func (c *RatesCLI) ConvertCommand(ctx context.Context, opts ConvertOptions) int {
	opts.Stdout, opts.Stderr = writers(opts.Stdout, opts.Stderr)
	amount, err := decimal.NewFromString(strings.TrimSpace(opts.Amount))
	if err != nil || amount.IsNegative() {
		_, _ = fmt.Fprintf(opts.Stderr, "rates convert: invalid amount %q\n", opts.Amount)
		return 1
	}
	if opts.From == "" || opts.To == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "rates convert: --from and --to are required")
		return 1
	}
	conv, err := c.converter.Convert(ctx, amount, opts.From, opts.To)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rates convert: %v\n", err)
		if errors.Is(err, currency.ErrConversionUnavailable) {
			return 10
		}
		return 1
	}
	summary := ConvertSummary{
		Amount:          amount.String(),
		From:            currency.NormalizeCode(opts.From),
		To:              currency.NormalizeCode(opts.To),
		Rate:            conv.Rate.String(),
		ConvertedAmount: conv.ConvertedAmount.StringFixed(2),
		Source:          conv.Source,
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates convert: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s %s = %s %s (rate %s, %s)\n",
		summary.Amount, summary.From, summary.ConvertedAmount, summary.To, summary.Rate, summary.Source)
	return 0
}

// CoverageOptions defines flags for the rates coverage command.
type CoverageOptions struct {
	Base       string
	Codes      []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CoverageSummary is the JSON output of rates coverage.
type CoverageSummary struct {
	OK      bool     `json:"ok"`
	Base    string   `json:"base"`
	Covered []string `json:"covered"`
	Missing []string `json:"missing"`
}

// CoverageCommand checks that the static fallback table can price every code
// against the base. Missing pairs exit with code 10.
func (c *RatesCLI) CoverageCommand(_ context.Context, opts CoverageOptions) int {
	opts.Stdout, opts.Stderr = writers(opts.Stdout, opts.Stderr)
	base := currency.NormalizeCode(opts.Base)
	if _, err := currency.Lookup(base); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rates coverage: invalid base %q\n", opts.Base)
		return 1
	}
	table := c.converter.Fallback()
	codes := opts.Codes
	if len(codes) == 0 {
		for code := range table.Rates {
			codes = append(codes, code)
		}
	}
	summary := CoverageSummary{Base: base, Covered: []string{}, Missing: []string{}}
	for _, raw := range codes {
		code := currency.NormalizeCode(raw)
		if code == "" {
			continue
		}
		if _, ok := table.Cross(code, base); ok {
			summary.Covered = append(summary.Covered, code)
		} else {
			summary.Missing = append(summary.Missing, code)
		}
	}
	sort.Strings(summary.Covered)
	sort.Strings(summary.Missing)
	summary.OK = len(summary.Missing) == 0

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates coverage: encode json: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "fallback coverage against %s: %d covered, %d missing\n", base, len(summary.Covered), len(summary.Missing))
		for _, code := range summary.Missing {
			_, _ = fmt.Fprintf(opts.Stdout, "  missing %s\n", code)
		}
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

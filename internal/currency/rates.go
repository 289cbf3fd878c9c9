package currency

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateTable holds quotes for one base currency: 1 Base = Rates[code] code.
type RateTable struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                  `json:"fetched_at"`
}

// Rate returns the direct quote from the table's base to code.
func (t RateTable) Rate(code string) (decimal.Decimal, bool) {
	if code == t.Base {
		return decimal.NewFromInt(1), true
	}
	r, ok := t.Rates[code]
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}

// Cross derives from→to through the table's base.
func (t RateTable) Cross(from, to string) (decimal.Decimal, bool) {
	fromRate, ok := t.Rate(from)
	if !ok {
		return decimal.Zero, false
	}
	toRate, ok := t.Rate(to)
	if !ok {
		return decimal.Zero, false
	}
	return toRate.Div(fromRate), true
}

// Empty reports whether the table has no quotes.
func (t RateTable) Empty() bool {
	return len(t.Rates) == 0
}

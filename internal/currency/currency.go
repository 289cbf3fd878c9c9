// Package currency resolves ISO-4217 currencies and converts amounts between them.
package currency

import (
	"strings"

	xcurrency "golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Currency describes an ISO-4217 currency as stored on expenses and companies.
type Currency struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

var (
	// ErrConversionUnavailable is returned when neither the live source, the cache nor the fallback table has a rate.
	ErrConversionUnavailable = shared.NewError(shared.KindConversionUnavailable, "currency conversion unavailable")
	// ErrUnknownCurrency rejects codes that are not ISO-4217.
	ErrUnknownCurrency = shared.NewError(shared.KindValidation, "unknown currency code")
)

type meta struct {
	name   string
	symbol string
}

var known = map[string]meta{
	"AUD": {"Australian Dollar", "A$"},
	"BRL": {"Brazilian Real", "R$"},
	"CAD": {"Canadian Dollar", "CA$"},
	"CHF": {"Swiss Franc", "CHF"},
	"CNY": {"Chinese Yuan", "¥"},
	"EUR": {"Euro", "€"},
	"GBP": {"British Pound", "£"},
	"HKD": {"Hong Kong Dollar", "HK$"},
	"IDR": {"Indonesian Rupiah", "Rp"},
	"INR": {"Indian Rupee", "₹"},
	"JPY": {"Japanese Yen", "¥"},
	"KRW": {"South Korean Won", "₩"},
	"MXN": {"Mexican Peso", "MX$"},
	"MYR": {"Malaysian Ringgit", "RM"},
	"NZD": {"New Zealand Dollar", "NZ$"},
	"PHP": {"Philippine Peso", "₱"},
	"RUB": {"Russian Ruble", "₽"},
	"SEK": {"Swedish Krona", "kr"},
	"SGD": {"Singapore Dollar", "S$"},
	"THB": {"Thai Baht", "฿"},
	"USD": {"US Dollar", "$"},
	"VND": {"Vietnamese Dong", "₫"},
	"ZAR": {"South African Rand", "R"},
}

// Lookup validates code and returns its display metadata.
// Valid ISO codes without local metadata use the code as name and symbol.
func Lookup(code string) (Currency, error) {
	unit, err := xcurrency.ParseISO(NormalizeCode(code))
	if err != nil {
		return Currency{}, ErrUnknownCurrency
	}
	iso := unit.String()
	if m, ok := known[iso]; ok {
		return Currency{Code: iso, Name: m.name, Symbol: m.symbol}, nil
	}
	return Currency{Code: iso, Name: iso, Symbol: iso}, nil
}

// ResolveCountryCurrency maps an ISO-3166 region code to its tender.
// It is best-effort: unknown regions report false.
func ResolveCountryCurrency(country string) (Currency, bool) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return Currency{}, false
	}
	region, err := language.ParseRegion(country)
	if err != nil {
		return Currency{}, false
	}
	unit, ok := xcurrency.FromRegion(region)
	if !ok {
		return Currency{}, false
	}
	cur, err := Lookup(unit.String())
	if err != nil {
		return Currency{}, false
	}
	return cur, true
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

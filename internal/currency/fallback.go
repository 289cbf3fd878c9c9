package currency

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed data/fallback_rates.yaml
var defaultFallback []byte

type yamlDecimal decimal.Decimal

func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("currency: invalid rate %q: %w", node.Value, err)
	}
	*d = yamlDecimal(parsed)
	return nil
}

type fallbackFile struct {
	Base  string                 `yaml:"base"`
	Rates map[string]yamlDecimal `yaml:"rates"`
}

// ParseFallback decodes a YAML rate table.
func ParseFallback(raw []byte) (RateTable, error) {
	var file fallbackFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return RateTable{}, fmt.Errorf("currency: parse fallback: %w", err)
	}
	base := NormalizeCode(file.Base)
	if base == "" {
		return RateTable{}, fmt.Errorf("currency: fallback base required")
	}
	table := RateTable{Base: base, Rates: make(map[string]decimal.Decimal, len(file.Rates))}
	for code, rate := range file.Rates {
		value := decimal.Decimal(rate)
		if !value.IsPositive() {
			return RateTable{}, fmt.Errorf("currency: fallback rate for %s must be positive", code)
		}
		table.Rates[NormalizeCode(code)] = value
	}
	return table, nil
}

// LoadFallback reads the table at path, or the embedded default when path is empty.
func LoadFallback(path string) (RateTable, error) {
	if path == "" {
		return ParseFallback(defaultFallback)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return RateTable{}, fmt.Errorf("currency: read fallback: %w", err)
	}
	return ParseFallback(raw)
}

package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal holds a YAML scalar as an exact decimal so notional thresholds
// never pass through float64. Digit separators ("250_000") are accepted.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a decimal scalar", node.Line)
	}
	raw := strings.ReplaceAll(strings.TrimSpace(node.Value), "_", "")
	if raw == "" || node.Tag == "!!null" {
		d.Decimal = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid decimal %q", node.Line, node.Value)
	}
	d.Decimal = v
	return nil
}

func (d Decimal) MarshalYAML() (any, error) {
	return d.String(), nil
}

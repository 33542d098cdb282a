package core

import "github.com/shopspring/decimal"

// Rules are the trading filters published in exchange info. A zero field
// means the symbol carries no such filter.
type Rules struct {
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	PriceTick   decimal.Decimal
	QtyStep     decimal.Decimal
}

package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Order is an open order as reported by the account endpoints.
type Order struct {
	ID          string
	ClientID    string
	Symbol      string
	Side        Side
	Type        OrderType
	Status      OrderStatus
	Price       decimal.Decimal
	OrigQty     decimal.Decimal
	ExecutedQty decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Remaining is the unfilled part of the order.
func (o Order) Remaining() decimal.Decimal {
	if o.ExecutedQty.Cmp(o.OrigQty) >= 0 {
		return decimal.Zero
	}
	return o.OrigQty.Sub(o.ExecutedQty)
}

type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

type AccountInfo struct {
	MakerCommission int64
	TakerCommission int64
	CanTrade        bool
	CanWithdraw     bool
	CanDeposit      bool
	UpdateTime      time.Time
	Balances        []Balance
}

// Balance returns the entry for asset, or a zero balance.
func (a AccountInfo) Balance(asset string) Balance {
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b
		}
	}
	return Balance{Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}
}

// NonZeroBalances drops assets with nothing free or locked.
func (a AccountInfo) NonZeroBalances() []Balance {
	out := make([]Balance, 0, len(a.Balances))
	for _, b := range a.Balances {
		if b.Total().Cmp(decimal.Zero) > 0 {
			out = append(out, b)
		}
	}
	return out
}

type Deposit struct {
	Asset      string
	Amount     decimal.Decimal
	Address    string
	TxID       string
	Status     int
	InsertTime time.Time
}

type Withdrawal struct {
	ID        string
	Asset     string
	Amount    decimal.Decimal
	Address   string
	TxID      string
	Status    int
	ApplyTime time.Time
}

type RateLimit struct {
	Type        string
	Interval    string
	IntervalNum int
	Limit       int
}

type SymbolInfo struct {
	Symbol     string
	Status     string
	BaseAsset  string
	QuoteAsset string
	Rules      Rules
}

type ExchangeInfo struct {
	Timezone   string
	ServerTime time.Time
	RateLimits []RateLimit
	Symbols    []SymbolInfo
}

// Symbol looks up a symbol by name.
func (e ExchangeInfo) Symbol(name string) (SymbolInfo, bool) {
	for _, s := range e.Symbols {
		if s.Symbol == name {
			return s, true
		}
	}
	return SymbolInfo{}, false
}

// RequestWeightPerMinute returns the REQUEST_WEIGHT limit for a one minute
// window, or 0 when the exchange did not publish one.
func (e ExchangeInfo) RequestWeightPerMinute() int {
	for _, rl := range e.RateLimits {
		if rl.Type != "REQUEST_WEIGHT" {
			continue
		}
		if rl.Interval == "MINUTE" && (rl.IntervalNum == 0 || rl.IntervalNum == 1) {
			return rl.Limit
		}
	}
	return 0
}

type ServerTime struct {
	Server time.Time
	Local  time.Time
	// Offset is local minus server.
	Offset time.Duration
}

package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type OrderBookSnapshot struct {
	Symbol       string
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// BestBid returns the highest bid, if any. Bids must be sorted descending.
func (s OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any. Asks must be sorted ascending.
func (s OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// LevelChange replaces the quantity at a price. Zero quantity removes the level.
type LevelChange struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type OrderBookDelta struct {
	Symbol        string
	FirstUpdateID int64
	FinalUpdateID int64
	EventTime     time.Time
	Changes       []LevelChange
}

type PublicTrade struct {
	Symbol       string
	ID           int64
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Time         time.Time
	BuyerIsMaker bool
}

// TakerSide is the aggressor side of the trade.
func (t PublicTrade) TakerSide() Side {
	if t.BuyerIsMaker {
		return Sell
	}
	return Buy
}

type PriceTicker struct {
	Symbol string
	Price  decimal.Decimal
}

type Ticker24h struct {
	Symbol             string
	PriceChange        decimal.Decimal
	PriceChangePercent decimal.Decimal
	WeightedAvgPrice   decimal.Decimal
	PrevClosePrice     decimal.Decimal
	LastPrice          decimal.Decimal
	LastQty            decimal.Decimal
	BidPrice           decimal.Decimal
	AskPrice           decimal.Decimal
	OpenPrice          decimal.Decimal
	HighPrice          decimal.Decimal
	LowPrice           decimal.Decimal
	Volume             decimal.Decimal
	QuoteVolume        decimal.Decimal
	OpenTime           time.Time
	CloseTime          time.Time
	FirstTradeID       int64
	LastTradeID        int64
	TradeCount         int64
}

type Kline struct {
	Symbol      string
	Interval    string
	OpenTime    time.Time
	CloseTime   time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	TradeCount  int64
	Closed      bool
}

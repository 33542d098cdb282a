// Package exchange is the surface collaborators program against: pull calls
// returning core.Result values, live feeds, and a status readout.
package exchange

import (
	"context"
	"time"

	"exchange-core/internal/core"
	"exchange-core/internal/orderbook"
	"exchange-core/internal/tradededup"
)

// Feed is a live sequence of updates. C is closed after Close; a closed
// feed is restarted by subscribing again.
type Feed[T any] interface {
	C() <-chan T
	Close()
}

// BookUpdate is emitted whenever the reconciled book changes state or
// content. When Stale is true Book is the last consistent view and a fresh
// snapshot is on its way.
type BookUpdate struct {
	Book  core.OrderBookSnapshot
	State orderbook.State
	Stale bool
}

// TradeUpdate carries trades not delivered before, oldest first. Gap is set
// when trade ids were skipped.
type TradeUpdate = tradededup.Result

type MarketData interface {
	GetServerTime(ctx context.Context) core.Result[core.ServerTime]
	GetExchangeInfo(ctx context.Context) core.Result[core.ExchangeInfo]
	GetRecentTrades(ctx context.Context, symbol string, limit int) core.Result[[]core.PublicTrade]
	GetDepth(ctx context.Context, symbol string, limit int) core.Result[core.OrderBookSnapshot]
	// GetPriceTicker and Get24hPriceTicker return every symbol when symbol is empty.
	GetPriceTicker(ctx context.Context, symbol string) core.Result[[]core.PriceTicker]
	Get24hPriceTicker(ctx context.Context, symbol string) core.Result[[]core.Ticker24h]
	GetKlines(ctx context.Context, symbol, interval string, limit int) core.Result[[]core.Kline]
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time, limit int) core.Result[[]core.Kline]
}

// Account calls are signed. Without credentials they fail with
// core.ErrCredentialsMissing and never reach the network.
type Account interface {
	GetAccountInfo(ctx context.Context) core.Result[core.AccountInfo]
	GetOpenOrders(ctx context.Context, symbol string) core.Result[[]core.Order]
	GetDepositHistory(ctx context.Context, asset string) core.Result[[]core.Deposit]
	GetWithdrawHistory(ctx context.Context, asset string) core.Result[[]core.Withdrawal]
}

type Streams interface {
	// SubscribeMarketSummaries follows 24h tickers for symbols, or the whole
	// market when symbols is empty.
	SubscribeMarketSummaries(ctx context.Context, symbols []string) Feed[core.Ticker24h]
	SubscribeTrades(ctx context.Context, symbol string) Feed[TradeUpdate]
	SubscribeOrderBook(ctx context.Context, symbol string) Feed[BookUpdate]
	SubscribeKlines(ctx context.Context, symbol, interval string) Feed[core.Kline]
}

type Client interface {
	MarketData
	Account
	Streams
	Name() string
	// Status renders rate limit usage, stream health and the last error.
	Status() string
	Close() error
}

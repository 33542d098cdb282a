package binance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"exchange-core/internal/core"
)

type exchangeInfoResponse struct {
	Timezone   string `json:"timezone"`
	ServerTime int64  `json:"serverTime"`
	RateLimits []struct {
		RateLimitType string `json:"rateLimitType"`
		Interval      string `json:"interval"`
		IntervalNum   int    `json:"intervalNum"`
		Limit         int    `json:"limit"`
	} `json:"rateLimits"`
	Symbols []symbolInfoResponse `json:"symbols"`
}

type symbolInfoResponse struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Filters    []struct {
		FilterType  string `json:"filterType"`
		MinQty      string `json:"minQty"`
		StepSize    string `json:"stepSize"`
		MinNotional string `json:"minNotional"`
		TickSize    string `json:"tickSize"`
	} `json:"filters"`
}

func parseSymbolInfo(src symbolInfoResponse) core.SymbolInfo {
	info := core.SymbolInfo{
		Symbol:     src.Symbol,
		Status:     src.Status,
		BaseAsset:  src.BaseAsset,
		QuoteAsset: src.QuoteAsset,
		Rules:      core.Rules{MinQty: decimal.Zero, MinNotional: decimal.Zero, PriceTick: decimal.Zero, QtyStep: decimal.Zero},
	}
	for _, f := range src.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if v, ok := parseDecimal(f.MinQty); ok {
				info.Rules.MinQty = v
			}
			if v, ok := parseDecimal(f.StepSize); ok {
				info.Rules.QtyStep = v
			}
		case "PRICE_FILTER":
			if v, ok := parseDecimal(f.TickSize); ok {
				info.Rules.PriceTick = v
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			// Keep the stricter minimum when both filters are published.
			if v, ok := parseDecimal(f.MinNotional); ok && v.Cmp(info.Rules.MinNotional) > 0 {
				info.Rules.MinNotional = v
			}
		}
	}
	return info
}

func parseExchangeInfo(body []byte) (core.ExchangeInfo, error) {
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.ExchangeInfo{}, err
	}
	info := core.ExchangeInfo{
		Timezone:   resp.Timezone,
		ServerTime: msTime(resp.ServerTime),
		RateLimits: make([]core.RateLimit, 0, len(resp.RateLimits)),
		Symbols:    make([]core.SymbolInfo, 0, len(resp.Symbols)),
	}
	for _, rl := range resp.RateLimits {
		info.RateLimits = append(info.RateLimits, core.RateLimit{
			Type:        rl.RateLimitType,
			Interval:    rl.Interval,
			IntervalNum: rl.IntervalNum,
			Limit:       rl.Limit,
		})
	}
	for _, s := range resp.Symbols {
		info.Symbols = append(info.Symbols, parseSymbolInfo(s))
	}
	return info, nil
}

type tradeResponse struct {
	ID           int64           `json:"id"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	Time         int64           `json:"time"`
	IsBuyerMaker bool            `json:"isBuyerMaker"`
}

// wireLevel is one ["price","qty"] pair. Extra elements are ignored.
type wireLevel core.PriceLevel

func (l *wireLevel) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) < 2 {
		return fmt.Errorf("price level has %d elements", len(parts))
	}
	if err := l.Price.UnmarshalJSON(parts[0]); err != nil {
		return fmt.Errorf("price level price: %w", err)
	}
	if err := l.Quantity.UnmarshalJSON(parts[1]); err != nil {
		return fmt.Errorf("price level qty: %w", err)
	}
	return nil
}

func levels(src []wireLevel) []core.PriceLevel {
	out := make([]core.PriceLevel, len(src))
	for i, l := range src {
		out[i] = core.PriceLevel(l)
	}
	return out
}

type depthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         []wireLevel `json:"bids"`
	Asks         []wireLevel `json:"asks"`
}

type tickerPriceResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type ticker24hResponse struct {
	Symbol             string          `json:"symbol"`
	PriceChange        decimal.Decimal `json:"priceChange"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	WeightedAvgPrice   decimal.Decimal `json:"weightedAvgPrice"`
	PrevClosePrice     decimal.Decimal `json:"prevClosePrice"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	LastQty            decimal.Decimal `json:"lastQty"`
	BidPrice           decimal.Decimal `json:"bidPrice"`
	AskPrice           decimal.Decimal `json:"askPrice"`
	OpenPrice          decimal.Decimal `json:"openPrice"`
	HighPrice          decimal.Decimal `json:"highPrice"`
	LowPrice           decimal.Decimal `json:"lowPrice"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
	OpenTime           int64           `json:"openTime"`
	CloseTime          int64           `json:"closeTime"`
	FirstID            int64           `json:"firstId"`
	LastID             int64           `json:"lastId"`
	Count              int64           `json:"count"`
}

func (t ticker24hResponse) toCore() core.Ticker24h {
	return core.Ticker24h{
		Symbol:             t.Symbol,
		PriceChange:        t.PriceChange,
		PriceChangePercent: t.PriceChangePercent,
		WeightedAvgPrice:   t.WeightedAvgPrice,
		PrevClosePrice:     t.PrevClosePrice,
		LastPrice:          t.LastPrice,
		LastQty:            t.LastQty,
		BidPrice:           t.BidPrice,
		AskPrice:           t.AskPrice,
		OpenPrice:          t.OpenPrice,
		HighPrice:          t.HighPrice,
		LowPrice:           t.LowPrice,
		Volume:             t.Volume,
		QuoteVolume:        t.QuoteVolume,
		OpenTime:           msTime(t.OpenTime),
		CloseTime:          msTime(t.CloseTime),
		FirstTradeID:       t.FirstID,
		LastTradeID:        t.LastID,
		TradeCount:         t.Count,
	}
}

// decodeOneOrMany accepts the single object the exchange returns when a
// symbol was given and the array it returns otherwise.
func decodeOneOrMany[T any](body []byte) ([]T, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var out []T
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var one T
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

func parseKlines(symbol, interval string, body []byte) ([]core.Kline, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	out := make([]core.Kline, 0, len(rows))
	for i, row := range rows {
		if len(row) < 9 {
			return nil, fmt.Errorf("kline row %d has %d fields", i, len(row))
		}
		openTime, err := parseInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("kline row %d open time: %w", i, err)
		}
		closeTime, err := parseInt64(row[6])
		if err != nil {
			return nil, fmt.Errorf("kline row %d close time: %w", i, err)
		}
		trades, err := parseInt64(row[8])
		if err != nil {
			return nil, fmt.Errorf("kline row %d trade count: %w", i, err)
		}
		k := core.Kline{
			Symbol:     symbol,
			Interval:   interval,
			OpenTime:   msTime(openTime),
			CloseTime:  msTime(closeTime),
			TradeCount: trades,
			Closed:     true,
		}
		fields := []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
		for j, dst := range fields {
			if err := dst.UnmarshalJSON(row[j+1]); err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j+1, err)
			}
		}
		if err := k.QuoteVolume.UnmarshalJSON(row[7]); err != nil {
			return nil, fmt.Errorf("kline row %d quote volume: %w", i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

type accountResponse struct {
	MakerCommission int64 `json:"makerCommission"`
	TakerCommission int64 `json:"takerCommission"`
	CanTrade        bool  `json:"canTrade"`
	CanWithdraw     bool  `json:"canWithdraw"`
	CanDeposit      bool  `json:"canDeposit"`
	UpdateTime      int64 `json:"updateTime"`
	Balances        []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

type openOrderResponse struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	Side          string          `json:"side"`
	Time          int64           `json:"time"`
	UpdateTime    int64           `json:"updateTime"`
}

type depositHistoryResponse struct {
	DepositList []struct {
		InsertTime int64           `json:"insertTime"`
		Amount     decimal.Decimal `json:"amount"`
		Asset      string          `json:"asset"`
		Address    string          `json:"address"`
		TxID       string          `json:"txId"`
		Status     int             `json:"status"`
	} `json:"depositList"`
}

type withdrawHistoryResponse struct {
	WithdrawList []struct {
		ID        string          `json:"id"`
		Amount    decimal.Decimal `json:"amount"`
		Address   string          `json:"address"`
		Asset     string          `json:"asset"`
		TxID      string          `json:"txId"`
		ApplyTime int64           `json:"applyTime"`
		Status    int             `json:"status"`
	} `json:"withdrawList"`
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func parseInt64(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	return 0, errors.New("invalid int64")
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

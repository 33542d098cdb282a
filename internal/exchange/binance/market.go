package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"exchange-core/internal/core"
)

// GetExchangeInfo fetches symbols and rate limits. The published request
// weight limit and each symbol's trading rules are cached on the client.
func (c *Client) GetExchangeInfo(ctx context.Context) core.Result[core.ExchangeInfo] {
	res := execute(ctx, c, request{method: http.MethodGet, path: "/api/v1/exchangeInfo", weight: weightExchangeInfo}, parseExchangeInfo)
	if !res.Succeeded() {
		return res
	}
	if limit := res.Data.RequestWeightPerMinute(); limit > 0 {
		c.weights.SetLimit(limit)
	}
	c.mu.Lock()
	for _, s := range res.Data.Symbols {
		c.symbolRules[s.Symbol] = s.Rules
	}
	c.mu.Unlock()
	return res
}

func (c *Client) GetRecentTrades(ctx context.Context, symbol string, limit int) core.Result[[]core.PublicTrade] {
	symbol = normalizeSymbol(symbol)
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return execute(ctx, c, request{method: http.MethodGet, path: "/api/v1/trades", params: params, weight: weightRecentTrades},
		func(body []byte) ([]core.PublicTrade, error) {
			var rows []tradeResponse
			if err := json.Unmarshal(body, &rows); err != nil {
				return nil, err
			}
			out := make([]core.PublicTrade, 0, len(rows))
			for _, r := range rows {
				out = append(out, core.PublicTrade{
					Symbol:       symbol,
					ID:           r.ID,
					Price:        r.Price,
					Quantity:     r.Qty,
					Time:         msTime(r.Time),
					BuyerIsMaker: r.IsBuyerMaker,
				})
			}
			return out, nil
		})
}

// GetDepth fetches a depth snapshot. A non-positive limit uses the
// configured depth limit.
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int) core.Result[core.OrderBookSnapshot] {
	symbol = normalizeSymbol(symbol)
	if limit <= 0 {
		limit = c.depthLimit
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	return execute(ctx, c, request{method: http.MethodGet, path: "/api/v1/depth", params: params, weight: depthWeight(limit)},
		func(body []byte) (core.OrderBookSnapshot, error) {
			var resp depthResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return core.OrderBookSnapshot{}, err
			}
			return core.OrderBookSnapshot{
				Symbol:       symbol,
				LastUpdateID: resp.LastUpdateID,
				Bids:         levels(resp.Bids),
				Asks:         levels(resp.Asks),
			}, nil
		})
}

// GetPriceTicker returns the last price for symbol, or for every symbol
// when symbol is empty.
func (c *Client) GetPriceTicker(ctx context.Context, symbol string) core.Result[[]core.PriceTicker] {
	symbol = normalizeSymbol(symbol)
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	return execute(ctx, c, request{method: http.MethodGet, path: "/api/v3/ticker/price", params: params, weight: symbolWeight(symbol, weightAllPrices)},
		func(body []byte) ([]core.PriceTicker, error) {
			rows, err := decodeOneOrMany[tickerPriceResponse](body)
			if err != nil {
				return nil, err
			}
			out := make([]core.PriceTicker, 0, len(rows))
			for _, r := range rows {
				out = append(out, core.PriceTicker{Symbol: r.Symbol, Price: r.Price})
			}
			return out, nil
		})
}

// Get24hPriceTicker returns rolling 24h statistics for symbol, or for every
// symbol when symbol is empty.
func (c *Client) Get24hPriceTicker(ctx context.Context, symbol string) core.Result[[]core.Ticker24h] {
	symbol = normalizeSymbol(symbol)
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	return execute(ctx, c, request{method: http.MethodGet, path: "/api/v1/ticker/24hr", params: params, weight: symbolWeight(symbol, weightAll24hTickers)},
		func(body []byte) ([]core.Ticker24h, error) {
			rows, err := decodeOneOrMany[ticker24hResponse](body)
			if err != nil {
				return nil, err
			}
			out := make([]core.Ticker24h, 0, len(rows))
			for _, r := range rows {
				out = append(out, r.toCore())
			}
			return out, nil
		})
}

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) core.Result[[]core.Kline] {
	return c.GetKlinesRange(ctx, symbol, interval, time.Time{}, time.Time{}, limit)
}

// GetKlinesRange returns candles opening within [start, end]. Zero times
// leave that bound to the exchange.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time, limit int) core.Result[[]core.Kline] {
	symbol = normalizeSymbol(symbol)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return execute(ctx, c, request{method: http.MethodGet, path: "/api/v1/klines", params: params, weight: weightKlines},
		func(body []byte) ([]core.Kline, error) {
			return parseKlines(symbol, interval, body)
		})
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

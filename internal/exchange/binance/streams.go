package binance

import (
	"bytes"
	"context"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"exchange-core/internal/core"
	"exchange-core/internal/exchange"
	"exchange-core/internal/stream"
)

const allMarketTickers = "!ticker@arr"

type wsTicker struct {
	Event              string          `json:"e"`
	Symbol             string          `json:"s"`
	PriceChange        decimal.Decimal `json:"p"`
	PriceChangePercent decimal.Decimal `json:"P"`
	WeightedAvgPrice   decimal.Decimal `json:"w"`
	PrevClosePrice     decimal.Decimal `json:"x"`
	LastPrice          decimal.Decimal `json:"c"`
	LastQty            decimal.Decimal `json:"Q"`
	BidPrice           decimal.Decimal `json:"b"`
	AskPrice           decimal.Decimal `json:"a"`
	OpenPrice          decimal.Decimal `json:"o"`
	HighPrice          decimal.Decimal `json:"h"`
	LowPrice           decimal.Decimal `json:"l"`
	Volume             decimal.Decimal `json:"v"`
	QuoteVolume        decimal.Decimal `json:"q"`
	OpenTime           int64           `json:"O"`
	CloseTime          int64           `json:"C"`
	FirstID            int64           `json:"F"`
	LastID             int64           `json:"L"`
	Count              int64           `json:"n"`
}

func (t wsTicker) toCore() core.Ticker24h {
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

type wsTrade struct {
	Event        string          `json:"e"`
	Symbol       string          `json:"s"`
	TradeID      int64           `json:"t"`
	Price        decimal.Decimal `json:"p"`
	Qty          decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	BuyerIsMaker bool            `json:"m"`
}

type wsDepth struct {
	Event         string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          []wireLevel `json:"b"`
	Asks          []wireLevel `json:"a"`
}

type wsKline struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	K      struct {
		OpenTime    int64           `json:"t"`
		CloseTime   int64           `json:"T"`
		Symbol      string          `json:"s"`
		Interval    string          `json:"i"`
		Open        decimal.Decimal `json:"o"`
		Close       decimal.Decimal `json:"c"`
		High        decimal.Decimal `json:"h"`
		Low         decimal.Decimal `json:"l"`
		Volume      decimal.Decimal `json:"v"`
		TradeCount  int64           `json:"n"`
		Closed      bool            `json:"x"`
		QuoteVolume decimal.Decimal `json:"q"`
	} `json:"k"`
}

func streamName(symbol, suffix string) string {
	return strings.ToLower(normalizeSymbol(symbol)) + suffix
}

// payload strips the combined stream envelope and skips control replies
// such as {"result":null,"id":1}.
func payload(frame []byte) ([]byte, bool, error) {
	_, data, err := stream.Unwrap(frame)
	if err != nil {
		return nil, false, err
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte(`{"result"`)) || bytes.HasPrefix(trimmed, []byte(`{"id"`)) {
		return nil, false, nil
	}
	return trimmed, true, nil
}

func decodeTickers(frame []byte) ([]core.Ticker24h, error) {
	data, ok, err := payload(frame)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := decodeOneOrMany[wsTicker](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.Ticker24h, 0, len(rows))
	for _, r := range rows {
		if r.Event != "24hrTicker" {
			continue
		}
		out = append(out, r.toCore())
	}
	return out, nil
}

func decodeTrade(frame []byte) ([]core.PublicTrade, error) {
	data, ok, err := payload(frame)
	if err != nil || !ok {
		return nil, err
	}
	var t wsTrade
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t.Event != "trade" {
		return nil, nil
	}
	return []core.PublicTrade{{
		Symbol:       t.Symbol,
		ID:           t.TradeID,
		Price:        t.Price,
		Quantity:     t.Qty,
		Time:         msTime(t.TradeTime),
		BuyerIsMaker: t.BuyerIsMaker,
	}}, nil
}

func decodeDepth(frame []byte) ([]core.OrderBookDelta, error) {
	data, ok, err := payload(frame)
	if err != nil || !ok {
		return nil, err
	}
	var d wsDepth
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if d.Event != "depthUpdate" {
		return nil, nil
	}
	delta := core.OrderBookDelta{
		Symbol:        d.Symbol,
		FirstUpdateID: d.FirstUpdateID,
		FinalUpdateID: d.FinalUpdateID,
		EventTime:     msTime(d.EventTime),
		Changes:       make([]core.LevelChange, 0, len(d.Bids)+len(d.Asks)),
	}
	for _, l := range d.Bids {
		delta.Changes = append(delta.Changes, core.LevelChange{Side: core.Buy, Price: l.Price, Quantity: l.Quantity})
	}
	for _, l := range d.Asks {
		delta.Changes = append(delta.Changes, core.LevelChange{Side: core.Sell, Price: l.Price, Quantity: l.Quantity})
	}
	return []core.OrderBookDelta{delta}, nil
}

func decodeKline(frame []byte) ([]core.Kline, error) {
	data, ok, err := payload(frame)
	if err != nil || !ok {
		return nil, err
	}
	var k wsKline
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, err
	}
	if k.Event != "kline" {
		return nil, nil
	}
	return []core.Kline{{
		Symbol:      k.K.Symbol,
		Interval:    k.K.Interval,
		OpenTime:    msTime(k.K.OpenTime),
		CloseTime:   msTime(k.K.CloseTime),
		Open:        k.K.Open,
		High:        k.K.High,
		Low:         k.K.Low,
		Close:       k.K.Close,
		Volume:      k.K.Volume,
		QuoteVolume: k.K.QuoteVolume,
		TradeCount:  k.K.TradeCount,
		Closed:      k.K.Closed,
	}}, nil
}

// SubscribeMarketSummaries follows 24h tickers for symbols, or every symbol
// through the all-market stream when symbols is empty.
func (c *Client) SubscribeMarketSummaries(ctx context.Context, symbols []string) exchange.Feed[core.Ticker24h] {
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		names = append(names, streamName(s, "@ticker"))
	}
	if len(names) == 0 {
		names = append(names, allMarketTickers)
	}
	return stream.Subscribe(ctx, c.streams, stream.Topic[core.Ticker24h]{
		Key:    strings.Join(names, "/"),
		URL:    stream.URL(c.wsBaseURL, names...),
		Decode: decodeTickers,
	})
}

func (c *Client) SubscribeKlines(ctx context.Context, symbol, interval string) exchange.Feed[core.Kline] {
	name := streamName(symbol, "@kline_"+interval)
	return stream.Subscribe(ctx, c.streams, stream.Topic[core.Kline]{
		Key:    name,
		URL:    stream.URL(c.wsBaseURL, name),
		Decode: decodeKline,
	})
}

func (c *Client) subscribeTradeStream(ctx context.Context, symbol string) *stream.Subscription[core.PublicTrade] {
	name := streamName(symbol, "@trade")
	return stream.Subscribe(ctx, c.streams, stream.Topic[core.PublicTrade]{
		Key:    name,
		URL:    stream.URL(c.wsBaseURL, name),
		Decode: decodeTrade,
	})
}

func (c *Client) subscribeDepthStream(ctx context.Context, symbol string) *stream.Subscription[core.OrderBookDelta] {
	name := streamName(symbol, "@depth")
	return stream.Subscribe(ctx, c.streams, stream.Topic[core.OrderBookDelta]{
		Key:    name,
		URL:    stream.URL(c.wsBaseURL, name),
		Decode: decodeDepth,
	})
}

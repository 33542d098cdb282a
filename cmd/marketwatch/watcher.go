package main

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"exchange-core/internal/alert"
	"exchange-core/internal/core"
	"exchange-core/internal/exchange"
	"exchange-core/internal/logger"
	"exchange-core/internal/store"
)

type tradeLine struct {
	Time      string `json:"time"`
	Timestamp int64  `json:"timestamp"`
	Symbol    string `json:"symbol"`
	ID        int64  `json:"id"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	Side      string `json:"side"`
}

type gapLine struct {
	Time    string `json:"time"`
	Symbol  string `json:"symbol"`
	Kind    string `json:"kind"`
	AfterID int64  `json:"after_id,omitempty"`
	NextID  int64  `json:"next_id,omitempty"`
	Missing int64  `json:"missing,omitempty"`
}

type bookLine struct {
	Time         string `json:"time"`
	Symbol       string `json:"symbol"`
	LastUpdateID int64  `json:"last_update_id"`
	State        string `json:"state"`
	BidPrice     string `json:"bid_price,omitempty"`
	BidQty       string `json:"bid_qty,omitempty"`
	AskPrice     string `json:"ask_price,omitempty"`
	AskQty       string `json:"ask_qty,omitempty"`
}

type klineLine struct {
	Time      string `json:"time"`
	Timestamp int64  `json:"timestamp"`
	Symbol    string `json:"symbol"`
	Interval  string `json:"interval"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	Trades    int64  `json:"trades"`
}

type tickerLine struct {
	Time           string `json:"time"`
	Symbol         string `json:"symbol"`
	LastPrice      string `json:"last_price"`
	ChangePercent  string `json:"change_percent"`
	QuoteVolume24h string `json:"quote_volume_24h"`
}

// watcher persists feed updates as per-day JSONL files and raises alerts
// for large trades.
type watcher struct {
	store         *store.Store
	alerts        alert.Alerter
	log           *logger.Entry
	largeNotional decimal.Decimal
	now           func() time.Time

	mu sync.Mutex
	// last book line written per symbol; unchanged tops are skipped
	lastTop map[string]bookLine
}

func newWatcher(st *store.Store, alerts alert.Alerter, log *logger.Log, largeNotional decimal.Decimal) *watcher {
	return &watcher{
		store:         st,
		alerts:        alerts,
		log:           logger.OrNop(log).WithComponent("marketwatch"),
		largeNotional: largeNotional,
		now:           time.Now,
		lastTop:       make(map[string]bookLine),
	}
}

func (w *watcher) append(kind string, at time.Time, v any) {
	if err := w.store.AppendEvent(kind, at, v); err != nil {
		w.log.WithEvent("event_append_failed").WithError(err).WithField("kind", kind).Error("append failed")
	}
}

func (w *watcher) handleTrades(u exchange.TradeUpdate) {
	now := w.now().UTC()
	if u.Gap != nil {
		w.append("gaps", now, gapLine{
			Time:    now.Format(time.RFC3339Nano),
			Symbol:  u.Symbol,
			Kind:    "trade",
			AfterID: u.Gap.AfterID,
			NextID:  u.Gap.NextID,
			Missing: u.Gap.Missing(),
		})
	}
	for _, t := range u.Trades {
		w.append("trades", t.Time, tradeLine{
			Time:      t.Time.UTC().Format(time.RFC3339Nano),
			Timestamp: t.Time.UnixMilli(),
			Symbol:    t.Symbol,
			ID:        t.ID,
			Price:     t.Price.String(),
			Qty:       t.Quantity.String(),
			Side:      string(t.TakerSide()),
		})
		if w.alerts == nil || !w.largeNotional.IsPositive() {
			continue
		}
		if notional := t.Price.Mul(t.Quantity); notional.Cmp(w.largeNotional) >= 0 {
			w.alerts.Important("large_trade", map[string]string{
				"symbol":   t.Symbol,
				"id":       strconv.FormatInt(t.ID, 10),
				"side":     string(t.TakerSide()),
				"price":    t.Price.String(),
				"qty":      t.Quantity.String(),
				"notional": notional.StringFixed(2),
			})
		}
	}
}

func (w *watcher) handleBook(u exchange.BookUpdate) {
	now := w.now().UTC()
	line := bookLine{
		Time:         now.Format(time.RFC3339Nano),
		Symbol:       u.Book.Symbol,
		LastUpdateID: u.Book.LastUpdateID,
		State:        string(u.State),
	}
	if u.Stale {
		w.append("gaps", now, gapLine{Time: line.Time, Symbol: u.Book.Symbol, Kind: "orderbook"})
	}
	if bid, ok := u.Book.BestBid(); ok {
		line.BidPrice, line.BidQty = bid.Price.String(), bid.Quantity.String()
	}
	if ask, ok := u.Book.BestAsk(); ok {
		line.AskPrice, line.AskQty = ask.Price.String(), ask.Quantity.String()
	}
	w.mu.Lock()
	prev, seen := w.lastTop[line.Symbol]
	unchanged := seen && prev.State == line.State && prev.BidPrice == line.BidPrice && prev.BidQty == line.BidQty &&
		prev.AskPrice == line.AskPrice && prev.AskQty == line.AskQty
	w.lastTop[line.Symbol] = line
	w.mu.Unlock()
	if unchanged {
		return
	}
	w.append("book", now, line)
}

// handleKline records closed candles only.
func (w *watcher) handleKline(k core.Kline) {
	if !k.Closed {
		return
	}
	w.append("klines", k.OpenTime, klineLine{
		Time:      k.OpenTime.UTC().Format(time.RFC3339),
		Timestamp: k.OpenTime.UnixMilli(),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      k.Open.String(),
		High:      k.High.String(),
		Low:       k.Low.String(),
		Close:     k.Close.String(),
		Volume:    k.Volume.String(),
		Trades:    k.TradeCount,
	})
}

func (w *watcher) handleTicker(t core.Ticker24h) {
	now := w.now().UTC()
	w.append("tickers", now, tickerLine{
		Time:           now.Format(time.RFC3339Nano),
		Symbol:         t.Symbol,
		LastPrice:      t.LastPrice.String(),
		ChangePercent:  t.PriceChangePercent.String(),
		QuoteVolume24h: t.QuoteVolume.String(),
	})
}

// consume drains feed into handle until ctx is done or the feed closes.
func consume[T any](ctx context.Context, wg *conc.WaitGroup, feed exchange.Feed[T], handle func(T)) {
	wg.Go(func() {
		defer feed.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-feed.C():
				if !ok {
					return
				}
				handle(v)
			}
		}
	})
}

type statusSource interface {
	Status() string
}

func (w *watcher) saveStatus(status store.RuntimeStatus, src statusSource) {
	status.PID = os.Getpid()
	status.UpdatedAt = w.now().UTC()
	status.Summary = src.Status()
	if err := w.store.SaveRuntimeStatus(status); err != nil {
		w.log.WithEvent("runtime_status_save_failed").WithError(err).Warn("status not saved")
		return
	}
	w.log.WithEvent("status").WithField("summary", status.Summary).Info("market watch status")
}

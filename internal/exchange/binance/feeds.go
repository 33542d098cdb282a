package binance

import (
	"context"
	"errors"
	"time"

	"exchange-core/internal/core"
	"exchange-core/internal/exchange"
	"exchange-core/internal/orderbook"
	"exchange-core/internal/tradededup"
)

const tradeBaselineLimit = 500

// feed runs a goroutine that turns raw stream events into consumer updates.
type feed[T any] struct {
	ch     chan T
	cancel context.CancelFunc
	done   chan struct{}
}

func newFeed[T any](ctx context.Context, size int, run func(ctx context.Context, out chan<- T)) *feed[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &feed[T]{ch: make(chan T, size), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer close(f.ch)
		defer cancel()
		run(ctx, f.ch)
	}()
	return f
}

func (f *feed[T]) C() <-chan T { return f.ch }

func (f *feed[T]) Close() {
	f.cancel()
	<-f.done
}

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// SubscribeTrades emits the most recent REST trades first and then every
// streamed trade not already delivered.
func (c *Client) SubscribeTrades(ctx context.Context, symbol string) exchange.Feed[exchange.TradeUpdate] {
	symbol = normalizeSymbol(symbol)
	return newFeed(ctx, 16, func(ctx context.Context, out chan<- exchange.TradeUpdate) {
		// Subscribe before the baseline so no trade falls between the two.
		sub := c.subscribeTradeStream(ctx, symbol)
		defer sub.Close()
		log := c.log.WithField("symbol", symbol)

		dedup := tradededup.New()
		if res := c.GetRecentTrades(ctx, symbol, tradeBaselineLimit); res.Succeeded() {
			if r := dedup.Filter(symbol, res.Data); len(r.Trades) > 0 {
				if !send(ctx, out, r) {
					return
				}
			}
		} else if ctx.Err() == nil {
			log.WithEvent("trade_baseline_failed").WithError(res.Err).Warn("recent trades unavailable, streaming only")
		}

		for r := range dedup.Pipe(ctx, symbol, sub.C()) {
			if r.Gap != nil {
				log.WithEvent("trade_gap").
					WithField("after_id", r.Gap.AfterID).
					WithField("next_id", r.Gap.NextID).
					Warn("trade ids skipped")
			}
			if !send(ctx, out, r) {
				return
			}
		}
	})
}

// SubscribeOrderBook keeps a reconciled book for symbol. The REST snapshot
// is fetched once the depth stream delivers, and again after every gap or
// reconnect.
func (c *Client) SubscribeOrderBook(ctx context.Context, symbol string) exchange.Feed[exchange.BookUpdate] {
	symbol = normalizeSymbol(symbol)
	return newFeed(ctx, 16, func(ctx context.Context, out chan<- exchange.BookUpdate) {
		sub := c.subscribeDepthStream(ctx, symbol)
		defer sub.Close()
		book := orderbook.New(symbol, orderbook.Options{MaxBufferedDeltas: c.maxBuffered})
		c.runBook(ctx, book, sub.C(), func() int { return sub.Stats().Reconnects }, out)
	})
}

func (c *Client) runBook(ctx context.Context, book *orderbook.Book, deltas <-chan core.OrderBookDelta, reconnects func() int, out chan<- exchange.BookUpdate) {
	log := c.log.WithField("symbol", book.Symbol())
	seen := reconnects()
	for {
		var d core.OrderBookDelta
		select {
		case <-ctx.Done():
			return
		case delta, ok := <-deltas:
			if !ok {
				return
			}
			d = delta
		}

		if n := reconnects(); n != seen {
			seen = n
			book.Invalidate()
			log.WithEvent("orderbook_resync").WithField("reconnects", n).Info("depth stream reconnected, resnapshotting")
		}

		if err := book.ApplyDelta(d); errors.Is(err, orderbook.ErrStale) {
			log.WithEvent("orderbook_gap").WithError(err).
				WithField("last_update_id", book.LastUpdateID()).
				WithField("first_update_id", d.FirstUpdateID).
				Warn("depth sequence gap, resnapshotting")
			if !c.emitBook(ctx, book, out) {
				return
			}
			book.Invalidate()
			_ = book.ApplyDelta(d)
		}

		if book.State() == orderbook.StateAwaitingSnapshot && !c.snapshotBook(ctx, book) {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if !c.emitBook(ctx, book, out) {
			return
		}
	}
}

// snapshotBook loads a REST snapshot into book. On failure the book is left
// waiting and the next delta triggers another attempt.
func (c *Client) snapshotBook(ctx context.Context, book *orderbook.Book) bool {
	log := c.log.WithField("symbol", book.Symbol())
	res := c.GetDepth(ctx, book.Symbol(), c.depthLimit)
	if !res.Succeeded() {
		if ctx.Err() == nil {
			log.WithEvent("orderbook_snapshot_failed").WithError(res.Err).Warn("depth snapshot failed")
			c.pause(ctx)
		}
		return false
	}
	if err := book.ApplySnapshot(res.Data); err != nil {
		log.WithEvent("orderbook_snapshot_behind").WithError(err).
			WithField("last_update_id", res.Data.LastUpdateID).
			Warn("snapshot older than buffered deltas, retrying")
		book.Invalidate()
		c.pause(ctx)
		return false
	}
	log.WithEvent("orderbook_synced").WithField("last_update_id", book.LastUpdateID()).Info("order book synced")
	return true
}

func (c *Client) emitBook(ctx context.Context, book *orderbook.Book, out chan<- exchange.BookUpdate) bool {
	snap, err := book.Snapshot()
	if errors.Is(err, orderbook.ErrNoSnapshot) {
		return true
	}
	return send(ctx, out, exchange.BookUpdate{
		Book:  snap,
		State: book.State(),
		Stale: errors.Is(err, orderbook.ErrStale),
	})
}

func (c *Client) pause(ctx context.Context) {
	t := time.NewTimer(c.streams.ReconnectDelay())
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

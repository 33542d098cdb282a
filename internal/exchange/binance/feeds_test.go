package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"exchange-core/internal/core"
	"exchange-core/internal/exchange"
	"exchange-core/internal/orderbook"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// serveFrames upgrades the request, writes frames and then holds the
// connection open until the client goes away.
func serveFrames(t *testing.T, w http.ResponseWriter, r *http.Request, frames ...string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("feed closed early")
		}
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for update")
	}
	var zero T
	return zero
}

func assertBook(t *testing.T, levels []core.PriceLevel, want ...string) {
	t.Helper()
	if len(levels) != len(want)/2 {
		t.Fatalf("levels = %v, want %v", levels, want)
	}
	for i, lvl := range levels {
		if !lvl.Price.Equal(decimal.RequireFromString(want[2*i])) || !lvl.Quantity.Equal(decimal.RequireFromString(want[2*i+1])) {
			t.Fatalf("level %d = %s@%s, want %s@%s", i, lvl.Quantity, lvl.Price, want[2*i+1], want[2*i])
		}
	}
}

func TestSubscribeOrderBookReconcilesAndRecoversFromGap(t *testing.T) {
	var snapshots atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ws/btcusdt@depth":
			serveFrames(t, w, r,
				`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":95,"u":101,"b":[["100","2"]],"a":[]}`,
				`{"e":"depthUpdate","E":2,"s":"BTCUSDT","U":102,"u":102,"b":[],"a":[["101","0"],["102","3"]]}`,
				`{"e":"depthUpdate","E":3,"s":"BTCUSDT","U":110,"u":111,"b":[["99","5"]],"a":[]}`,
			)
		case "/api/v1/depth":
			if snapshots.Add(1) == 1 {
				_, _ = w.Write([]byte(`{"lastUpdateId":100,"bids":[["100","1"]],"asks":[["101","1"]]}`))
				return
			}
			_, _ = w.Write([]byte(`{"lastUpdateId":110,"bids":[["98","1"]],"asks":[["105","1"]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	feed := c.SubscribeOrderBook(context.Background(), "BTCUSDT")
	defer feed.Close()

	u := next(t, feed.C())
	if u.Stale || u.State != orderbook.StateLive || u.Book.LastUpdateID != 101 {
		t.Fatalf("first update = %+v, want live at 101", u)
	}
	assertBook(t, u.Book.Bids, "100", "2")
	assertBook(t, u.Book.Asks, "101", "1")

	u = next(t, feed.C())
	if u.Book.LastUpdateID != 102 {
		t.Fatalf("second update id = %d, want 102", u.Book.LastUpdateID)
	}
	assertBook(t, u.Book.Asks, "102", "3")

	u = next(t, feed.C())
	if !u.Stale || u.State != orderbook.StateStale {
		t.Fatalf("gap update = %+v, want stale", u)
	}

	u = next(t, feed.C())
	if u.Stale || u.Book.LastUpdateID != 111 {
		t.Fatalf("recovered update = %+v, want live at 111", u)
	}
	assertBook(t, u.Book.Bids, "99", "5", "98", "1")
	assertBook(t, u.Book.Asks, "105", "1")
	if snapshots.Load() != 2 {
		t.Fatalf("snapshots = %d, want 2", snapshots.Load())
	}
}

func TestSubscribeTradesBaselineThenDeduplicated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ws/btcusdt@trade":
			frames := make([]string, 0, 5)
			for _, id := range []string{"6", "7", "8", "9", "12"} {
				frames = append(frames, `{"e":"trade","E":1,"s":"BTCUSDT","t":`+id+`,"p":"100","q":"1","T":1700000000000,"m":false}`)
			}
			serveFrames(t, w, r, frames...)
		case "/api/v1/trades":
			_, _ = w.Write([]byte(`[{"id":7,"price":"100","qty":"1","time":1,"isBuyerMaker":false},
				{"id":5,"price":"100","qty":"1","time":1,"isBuyerMaker":false},
				{"id":6,"price":"100","qty":"1","time":1,"isBuyerMaker":false}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	feed := c.SubscribeTrades(context.Background(), "btcusdt")
	defer feed.Close()

	var ids []int64
	var gap *exchange.TradeUpdate
	for len(ids) < 6 {
		u := next(t, feed.C())
		if u.Gap != nil {
			gap = &u
		}
		for _, tr := range u.Trades {
			ids = append(ids, tr.ID)
		}
	}
	want := []int64{5, 6, 7, 8, 9, 12}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("trade ids = %v, want %v", ids, want)
		}
	}
	if gap == nil || gap.Gap.AfterID != 9 || gap.Gap.NextID != 12 {
		t.Fatalf("gap = %+v, want after 9 next 12", gap)
	}
}

func TestSubscribeMarketSummariesAllMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/!ticker@arr" {
			http.NotFound(w, r)
			return
		}
		serveFrames(t, w, r, `[
			{"e":"24hrTicker","E":1,"s":"BTCUSDT","p":"10","P":"0.1","c":"42000","v":"5","n":3},
			{"e":"24hrTicker","E":1,"s":"ETHUSDT","p":"1","P":"0.2","c":"2500","v":"7","n":4}]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	feed := c.SubscribeMarketSummaries(context.Background(), nil)
	defer feed.Close()

	first := next(t, feed.C())
	second := next(t, feed.C())
	if first.Symbol != "BTCUSDT" || second.Symbol != "ETHUSDT" {
		t.Fatalf("symbols = %s, %s, want BTCUSDT, ETHUSDT", first.Symbol, second.Symbol)
	}
	if !first.LastPrice.Equal(decimal.RequireFromString("42000")) || second.TradeCount != 4 {
		t.Fatalf("tickers = %+v / %+v", first, second)
	}
	if got := c.StreamStats(); len(got) != 1 || got[0].TopicKey != allMarketTickers {
		t.Fatalf("StreamStats() = %+v, want one all-market stream", got)
	}
	if !strings.Contains(c.Status(), "streams=1") {
		t.Fatalf("Status() = %q, want streams=1", c.Status())
	}
}

func TestSubscribeKlinesSkipsControlReplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/ethusdt@kline_5m" {
			http.NotFound(w, r)
			return
		}
		serveFrames(t, w, r,
			`{"result":null,"id":1}`,
			`{"e":"kline","E":1,"s":"ETHUSDT","k":{"t":1700000000000,"T":1700000299999,"s":"ETHUSDT","i":"5m","o":"1","c":"2","h":"3","l":"0.5","v":"10","n":4,"x":true,"q":"20"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	feed := c.SubscribeKlines(context.Background(), "ETHUSDT", "5m")
	defer feed.Close()

	k := next(t, feed.C())
	if k.Symbol != "ETHUSDT" || k.Interval != "5m" || !k.Closed || k.TradeCount != 4 {
		t.Fatalf("kline = %+v", k)
	}
	if !k.High.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("High = %s, want 3", k.High)
	}
}

func TestDecodeDepthFromCombinedEnvelope(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":5,"u":7,"b":[["10.5","0"]],"a":[["11","2"]]}}`)
	deltas, err := decodeDepth(frame)
	if err != nil {
		t.Fatalf("decodeDepth() error = %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("deltas = %d, want 1", len(deltas))
	}
	d := deltas[0]
	if d.FirstUpdateID != 5 || d.FinalUpdateID != 7 || len(d.Changes) != 2 {
		t.Fatalf("delta = %+v", d)
	}
	if d.Changes[0].Side != core.Buy || !d.Changes[0].Quantity.IsZero() {
		t.Fatalf("bid change = %+v, want zero quantity buy", d.Changes[0])
	}
	if d.Changes[1].Side != core.Sell {
		t.Fatalf("ask change side = %s, want SELL", d.Changes[1].Side)
	}

	if _, err := decodeDepth([]byte(`{"e":"depthUpdate","b":[["1"]]}`)); err == nil {
		t.Fatalf("decodeDepth(short level) error = nil, want error")
	}
	if got, err := decodeTrade([]byte(`{"result":null,"id":3}`)); err != nil || len(got) != 0 {
		t.Fatalf("decodeTrade(ack) = %v, %v, want nothing", got, err)
	}
}

func TestFeedCloseStopsUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			serveFrames(t, w, r)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	feed := c.SubscribeTrades(context.Background(), "BTCUSDT")
	feed.Close()
	select {
	case _, ok := <-feed.C():
		if ok {
			t.Fatalf("received update after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("C() not closed after Close")
	}
	deadline := time.Now().Add(time.Second)
	for len(c.StreamStats()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("StreamStats() = %+v, want none after Close", c.StreamStats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunBookResnapshotsAfterReconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"lastUpdateId":200,"bids":[["1","1"]],"asks":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	book := orderbook.New("BTCUSDT", orderbook.Options{})
	if err := book.ApplySnapshot(core.OrderBookSnapshot{LastUpdateID: 10}); err != nil {
		t.Fatalf("ApplySnapshot() error = %v", err)
	}
	deltas := make(chan core.OrderBookDelta, 1)
	out := make(chan exchange.BookUpdate, 1)
	var reconnects atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runBook(ctx, book, deltas, func() int { return int(reconnects.Load()) }, out)
	}()

	reconnects.Store(1)
	deltas <- core.OrderBookDelta{FirstUpdateID: 200, FinalUpdateID: 201}
	u := next(t, out)
	if u.Book.LastUpdateID != 201 || u.State != orderbook.StateLive {
		t.Fatalf("update = %+v, want live at 201 from a fresh snapshot", u)
	}
	cancel()
	<-done
}

package tradededup

import (
	"context"
	"testing"
	"time"

	"exchange-core/internal/core"
)

func trades(symbol string, ids ...int64) []core.PublicTrade {
	out := make([]core.PublicTrade, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.PublicTrade{Symbol: symbol, ID: id})
	}
	return out
}

func ids(ts []core.PublicTrade) []int64 {
	out := make([]int64, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFilterEmitsOnlyNewTrades(t *testing.T) {
	d := New()
	first := d.Filter("BTCUSDT", trades("BTCUSDT", 5, 6, 7))
	if got := ids(first.Trades); !equalIDs(got, []int64{5, 6, 7}) {
		t.Fatalf("Filter() first = %v, want [5 6 7]", got)
	}

	second := d.Filter("BTCUSDT", trades("BTCUSDT", 6, 7, 8, 9))
	if got := ids(second.Trades); !equalIDs(got, []int64{8, 9}) {
		t.Fatalf("Filter() second = %v, want [8 9]", got)
	}
	if second.Gap != nil {
		t.Fatalf("Gap = %+v, want nil", second.Gap)
	}
	if d.LastSeen() != 9 {
		t.Fatalf("LastSeen() = %d, want 9", d.LastSeen())
	}
}

func TestFilterSortsUnorderedBatch(t *testing.T) {
	d := New()
	res := d.Filter("ETHUSDT", trades("ETHUSDT", 12, 10, 11, 10))
	if got := ids(res.Trades); !equalIDs(got, []int64{10, 11, 12}) {
		t.Fatalf("Filter() = %v, want [10 11 12]", got)
	}
}

func TestFilterReportsGap(t *testing.T) {
	d := New()
	d.Filter("BTCUSDT", trades("BTCUSDT", 1, 2))
	res := d.Filter("BTCUSDT", trades("BTCUSDT", 6, 7))
	if res.Gap == nil {
		t.Fatalf("Gap = nil, want gap after 2")
	}
	if res.Gap.AfterID != 2 || res.Gap.NextID != 6 || res.Gap.Missing() != 3 {
		t.Fatalf("Gap = %+v missing=%d, want {2 6} missing=3", *res.Gap, res.Gap.Missing())
	}
	if got := ids(res.Trades); !equalIDs(got, []int64{6, 7}) {
		t.Fatalf("Filter() = %v, want [6 7]", got)
	}
}

func TestSymbolChangeResetsBaseline(t *testing.T) {
	d := New()
	d.Filter("BTCUSDT", trades("BTCUSDT", 100, 101))
	res := d.Filter("ETHUSDT", trades("ETHUSDT", 3, 4))
	if got := ids(res.Trades); !equalIDs(got, []int64{3, 4}) {
		t.Fatalf("Filter(ETHUSDT) = %v, want [3 4]", got)
	}
	if res.Gap != nil {
		t.Fatalf("Gap = %+v, want nil on fresh baseline", res.Gap)
	}
	back := d.Filter("BTCUSDT", trades("BTCUSDT", 100, 101))
	if got := ids(back.Trades); !equalIDs(got, []int64{100, 101}) {
		t.Fatalf("Filter(BTCUSDT again) = %v, want [100 101]", got)
	}
}

func TestFilterAllSeenReturnsNothing(t *testing.T) {
	d := New()
	d.Filter("BTCUSDT", trades("BTCUSDT", 1, 2, 3))
	res := d.Filter("BTCUSDT", trades("BTCUSDT", 2, 3))
	if len(res.Trades) != 0 || res.Gap != nil {
		t.Fatalf("Filter() = %+v, want empty", res)
	}
}

func TestPipeDeduplicatesStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in := make(chan core.PublicTrade, 8)
	d := New()
	d.Filter("BTCUSDT", trades("BTCUSDT", 5, 6, 7))
	for _, tr := range trades("BTCUSDT", 6, 7, 8) {
		in <- tr
	}
	in <- core.PublicTrade{Symbol: "ETHUSDT", ID: 50}
	in <- core.PublicTrade{Symbol: "BTCUSDT", ID: 11}
	close(in)

	var got []int64
	var gaps []Gap
	for res := range d.Pipe(ctx, "BTCUSDT", in) {
		got = append(got, ids(res.Trades)...)
		if res.Gap != nil {
			gaps = append(gaps, *res.Gap)
		}
	}
	if !equalIDs(got, []int64{8, 11}) {
		t.Fatalf("Pipe() = %v, want [8 11]", got)
	}
	if len(gaps) != 1 || gaps[0].AfterID != 8 || gaps[0].NextID != 11 {
		t.Fatalf("gaps = %+v, want [{8 11}]", gaps)
	}
}

func TestPipeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan core.PublicTrade)
	out := New().Pipe(ctx, "BTCUSDT", in)
	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("Pipe() delivered after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Pipe() did not close after cancel")
	}
}

// Package tradededup filters public trades that were already delivered,
// whether they arrive from REST polling or a trade stream.
package tradededup

import (
	"context"
	"sort"
	"sync"

	"exchange-core/internal/core"
)

// Gap reports trade ids that were never seen between two deliveries.
// Nothing is back-filled.
type Gap struct {
	AfterID int64
	NextID  int64
}

// Missing is the number of ids skipped.
func (g Gap) Missing() int64 {
	return g.NextID - g.AfterID - 1
}

type Result struct {
	Symbol string
	Trades []core.PublicTrade
	Gap    *Gap
}

// Deduplicator remembers the highest trade id emitted for the current symbol.
type Deduplicator struct {
	mu       sync.Mutex
	symbol   string
	lastSeen int64
}

func New() *Deduplicator {
	return &Deduplicator{}
}

// Filter returns the trades newer than anything emitted before, sorted by id.
// Switching to another symbol resets the baseline to zero.
func (d *Deduplicator) Filter(symbol string, trades []core.PublicTrade) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if symbol != d.symbol {
		d.symbol = symbol
		d.lastSeen = 0
	}
	res := Result{Symbol: symbol}
	if len(trades) == 0 {
		return res
	}

	sorted := append([]core.PublicTrade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	prev := d.lastSeen
	for _, t := range sorted {
		if t.ID <= d.lastSeen {
			continue
		}
		res.Trades = append(res.Trades, t)
		d.lastSeen = t.ID
	}
	if len(res.Trades) > 0 && prev > 0 && res.Trades[0].ID > prev+1 {
		res.Gap = &Gap{AfterID: prev, NextID: res.Trades[0].ID}
	}
	return res
}

func (d *Deduplicator) LastSeen() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

func (d *Deduplicator) Symbol() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.symbol
}

// Reset forgets the baseline so the next batch is emitted whole.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	d.lastSeen = 0
	d.mu.Unlock()
}

// Pipe de-duplicates a trade channel one trade at a time. Trades from other
// symbols are dropped. The output closes when in closes or ctx is done.
func (d *Deduplicator) Pipe(ctx context.Context, symbol string, in <-chan core.PublicTrade) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		for {
			var (
				t  core.PublicTrade
				ok bool
			)
			select {
			case <-ctx.Done():
				return
			case t, ok = <-in:
				if !ok {
					return
				}
			}
			if t.Symbol != "" && t.Symbol != symbol {
				continue
			}
			res := d.Filter(symbol, []core.PublicTrade{t})
			if len(res.Trades) == 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- res:
			}
		}
	}()
	return out
}

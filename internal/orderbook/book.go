package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"exchange-core/internal/core"
)

var (
	// ErrStale means a sequence gap was detected. The book stays unusable
	// until ApplySnapshot is called with a fresh REST snapshot.
	ErrStale      = errors.New("order book stale: resnapshot required")
	ErrNoSnapshot = errors.New("order book has no snapshot")
)

type State string

const (
	StateAwaitingSnapshot State = "awaiting_snapshot"
	StateSyncing          State = "syncing"
	StateLive             State = "live"
	StateStale            State = "stale"
)

const defaultMaxBufferedDeltas = 1000

type Options struct {
	// MaxBufferedDeltas bounds the deltas held before the first snapshot.
	// The oldest are dropped first.
	MaxBufferedDeltas int
}

// Gap describes the update id the book expected and the one it received.
type Gap struct {
	Expected int64
	Got      int64
}

// Book reconciles a REST depth snapshot with streamed depth deltas.
type Book struct {
	symbol      string
	maxBuffered int

	mu           sync.Mutex
	state        State
	lastUpdateID int64
	raw          core.OrderBookSnapshot
	bids         map[string]core.PriceLevel
	asks         map[string]core.PriceLevel
	buffer       []core.OrderBookDelta
	applied      int
	gap          Gap
}

func New(symbol string, opts Options) *Book {
	maxBuffered := opts.MaxBufferedDeltas
	if maxBuffered <= 0 {
		maxBuffered = defaultMaxBufferedDeltas
	}
	return &Book{
		symbol:      symbol,
		maxBuffered: maxBuffered,
		state:       StateAwaitingSnapshot,
		bids:        make(map[string]core.PriceLevel),
		asks:        make(map[string]core.PriceLevel),
	}
}

func (b *Book) Symbol() string { return b.symbol }

// ApplySnapshot replaces the book wholesale and replays any buffered deltas
// that are newer than the snapshot. It returns ErrStale when the buffered
// deltas do not connect to the snapshot.
func (b *Book) ApplySnapshot(snap core.OrderBookSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.raw = copySnapshot(snap)
	if b.raw.Symbol == "" {
		b.raw.Symbol = b.symbol
	}
	b.lastUpdateID = snap.LastUpdateID
	b.bids = levelMap(snap.Bids)
	b.asks = levelMap(snap.Asks)
	b.applied = 0
	b.gap = Gap{}
	b.state = StateSyncing

	pending := b.buffer
	b.buffer = nil
	for _, d := range pending {
		if err := b.applyLocked(d); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDelta applies one streamed delta. Before the first snapshot deltas
// are buffered. Deltas already covered by the snapshot are ignored.
func (b *Book) ApplyDelta(d core.OrderBookDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateAwaitingSnapshot:
		if len(b.buffer) >= b.maxBuffered {
			b.buffer = b.buffer[1:]
		}
		b.buffer = append(b.buffer, d)
		return nil
	case StateStale:
		return fmt.Errorf("%w: expected update %d, got %d", ErrStale, b.gap.Expected, b.gap.Got)
	}
	return b.applyLocked(d)
}

func (b *Book) applyLocked(d core.OrderBookDelta) error {
	if d.FinalUpdateID <= b.lastUpdateID {
		return nil
	}
	next := b.lastUpdateID + 1
	if d.FirstUpdateID > next {
		b.state = StateStale
		b.gap = Gap{Expected: next, Got: d.FirstUpdateID}
		return fmt.Errorf("%w: expected update %d, got %d", ErrStale, next, d.FirstUpdateID)
	}
	for _, ch := range d.Changes {
		var side map[string]core.PriceLevel
		switch ch.Side {
		case core.Buy:
			side = b.bids
		case core.Sell:
			side = b.asks
		default:
			continue
		}
		key := ch.Price.String()
		if ch.Quantity.Cmp(decimal.Zero) <= 0 {
			delete(side, key)
			continue
		}
		side[key] = core.PriceLevel{Price: ch.Price, Quantity: ch.Quantity}
	}
	b.lastUpdateID = d.FinalUpdateID
	b.applied++
	b.state = StateLive
	return nil
}

// Snapshot returns the reconciled book with bids descending and asks
// ascending. Before any delta it is the REST snapshot as received.
func (b *Book) Snapshot() (core.OrderBookSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateAwaitingSnapshot:
		return core.OrderBookSnapshot{Symbol: b.symbol}, ErrNoSnapshot
	case StateStale:
		return b.viewLocked(), fmt.Errorf("%w: expected update %d, got %d", ErrStale, b.gap.Expected, b.gap.Got)
	}
	if b.applied == 0 {
		return copySnapshot(b.raw), nil
	}
	return b.viewLocked(), nil
}

func (b *Book) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Book) LastUpdateID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdateID
}

// Buffered is the number of deltas waiting for a snapshot.
func (b *Book) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Invalidate drops the current state and starts buffering again, for when
// the delta stream itself was interrupted.
func (b *Book) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateAwaitingSnapshot
	b.buffer = nil
	b.applied = 0
	b.gap = Gap{}
}

func (b *Book) viewLocked() core.OrderBookSnapshot {
	bids := sortedLevels(b.bids)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.Cmp(bids[j].Price) > 0 })
	asks := sortedLevels(b.asks)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.Cmp(asks[j].Price) < 0 })
	return core.OrderBookSnapshot{
		Symbol:       b.symbol,
		LastUpdateID: b.lastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}
}

func sortedLevels(m map[string]core.PriceLevel) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(m))
	for _, lvl := range m {
		out = append(out, lvl)
	}
	return out
}

func levelMap(levels []core.PriceLevel) map[string]core.PriceLevel {
	m := make(map[string]core.PriceLevel, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity.Cmp(decimal.Zero) <= 0 {
			continue
		}
		m[lvl.Price.String()] = lvl
	}
	return m
}

func copySnapshot(s core.OrderBookSnapshot) core.OrderBookSnapshot {
	s.Bids = append([]core.PriceLevel(nil), s.Bids...)
	s.Asks = append([]core.PriceLevel(nil), s.Asks...)
	return s
}

package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	Window = time.Minute

	DefaultWeightLimit = 1200
)

// UsedWeightHeaders are checked in order; the first parseable value wins.
var UsedWeightHeaders = []string{"X-MBX-USED-WEIGHT-1M", "X-MBX-USED-WEIGHT"}

// Tracker accounts request weight in a fixed one minute window. It is
// observational: callers are never blocked.
type Tracker struct {
	now func() time.Time

	mu            sync.Mutex
	weight        int
	windowResetAt time.Time
	limit         int
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now, limit: DefaultWeightLimit}
}

// RecordUsage adds cost to the current window, starting a fresh window when
// the previous one has elapsed.
func (t *Tracker) RecordUsage(cost int) {
	if cost < 0 {
		cost = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !now.Before(t.windowResetAt) {
		t.weight = cost
		t.windowResetAt = now.Add(Window)
		return
	}
	t.weight += cost
}

// ObserveUsedWeight raises the window's weight to what the exchange reported.
// It never lowers it.
func (t *Tracker) ObserveUsedWeight(used int) {
	if used < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !now.Before(t.windowResetAt) {
		t.weight = used
		t.windowResetAt = now.Add(Window)
		return
	}
	if used > t.weight {
		t.weight = used
	}
}

// ObserveHeaders feeds ObserveUsedWeight from response headers.
func (t *Tracker) ObserveHeaders(h http.Header) (int, bool) {
	used, ok := UsedWeightFromHeaders(h)
	if ok {
		t.ObserveUsedWeight(used)
	}
	return used, ok
}

// CurrentWeight is 0 once the window has elapsed.
func (t *Tracker) CurrentWeight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.now().Before(t.windowResetAt) {
		return 0
	}
	return t.weight
}

func (t *Tracker) ResetsIn() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.windowResetAt.Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Tracker) SetLimit(limit int) {
	if limit <= 0 {
		return
	}
	t.mu.Lock()
	t.limit = limit
	t.mu.Unlock()
}

func (t *Tracker) Limit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// Remaining is the weight left before the limit in the current window.
func (t *Tracker) Remaining() int {
	limit := t.Limit()
	left := limit - t.CurrentWeight()
	if left < 0 {
		return 0
	}
	return left
}

func (t *Tracker) Status() string {
	return fmt.Sprintf("weight=%d/%d resets_in=%s", t.CurrentWeight(), t.Limit(), t.ResetsIn().Round(time.Second))
}

func UsedWeightFromHeaders(h http.Header) (int, bool) {
	for _, key := range UsedWeightHeaders {
		raw := h.Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			continue
		}
		return v, true
	}
	return 0, false
}

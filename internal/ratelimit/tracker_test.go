package ratelimit

import (
	"net/http"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRecordUsageAccumulatesWithinWindow(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	tr.RecordUsage(10)
	clock.Advance(5 * time.Second)
	tr.RecordUsage(5)

	if got := tr.CurrentWeight(); got != 15 {
		t.Fatalf("CurrentWeight() = %d, want 15", got)
	}
	if got := tr.ResetsIn(); got != 55*time.Second {
		t.Fatalf("ResetsIn() = %s, want 55s", got)
	}
}

func TestRecordUsageStartsNewWindowAfterReset(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	tr.RecordUsage(10)
	clock.Advance(5 * time.Second)
	tr.RecordUsage(5)
	clock.Advance(56 * time.Second)

	if got := tr.CurrentWeight(); got != 0 {
		t.Fatalf("CurrentWeight() after window = %d, want 0", got)
	}
	tr.RecordUsage(3)
	if got := tr.CurrentWeight(); got != 3 {
		t.Fatalf("CurrentWeight() = %d, want 3", got)
	}
	if got := tr.ResetsIn(); got != time.Minute {
		t.Fatalf("ResetsIn() = %s, want 1m", got)
	}
}

func TestResetsAtExactBoundary(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	tr.RecordUsage(7)
	clock.Advance(time.Minute)
	tr.RecordUsage(2)
	if got := tr.CurrentWeight(); got != 2 {
		t.Fatalf("CurrentWeight() at boundary = %d, want 2", got)
	}
}

func TestObserveUsedWeightNeverLowers(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)

	tr.RecordUsage(20)
	tr.ObserveUsedWeight(12)
	if got := tr.CurrentWeight(); got != 20 {
		t.Fatalf("CurrentWeight() = %d, want 20", got)
	}
	tr.ObserveUsedWeight(45)
	if got := tr.CurrentWeight(); got != 45 {
		t.Fatalf("CurrentWeight() = %d, want 45", got)
	}
}

func TestObserveHeaders(t *testing.T) {
	tr := NewTracker(newFakeClock().Now)
	h := http.Header{}
	h.Set("X-MBX-USED-WEIGHT-1M", "37")
	used, ok := tr.ObserveHeaders(h)
	if !ok || used != 37 {
		t.Fatalf("ObserveHeaders() = %d, %v, want 37, true", used, ok)
	}
	if got := tr.CurrentWeight(); got != 37 {
		t.Fatalf("CurrentWeight() = %d, want 37", got)
	}

	if _, ok := UsedWeightFromHeaders(http.Header{"X-Mbx-Used-Weight": []string{"nope"}}); ok {
		t.Fatalf("UsedWeightFromHeaders(non-numeric) ok = true, want false")
	}
}

func TestConcurrentRecordUsage(t *testing.T) {
	tr := NewTracker(newFakeClock().Now)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.RecordUsage(1)
			}
		}()
	}
	wg.Wait()
	if got := tr.CurrentWeight(); got != 1000 {
		t.Fatalf("CurrentWeight() = %d, want 1000", got)
	}
}

func TestStatus(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock.Now)
	tr.SetLimit(6000)
	tr.RecordUsage(45)
	clock.Advance(10 * time.Second)
	if got, want := tr.Status(), "weight=45/6000 resets_in=50s"; got != want {
		t.Fatalf("Status() = %q, want %q", got, want)
	}
	if got := tr.Remaining(); got != 5955 {
		t.Fatalf("Remaining() = %d, want 5955", got)
	}
}

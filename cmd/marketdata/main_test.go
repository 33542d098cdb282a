package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"exchange-core/internal/exchange/binance"
	"exchange-core/internal/store"
)

var day = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func klineRow(open time.Time) string {
	ms := open.UnixMilli()
	return fmt.Sprintf(`[%d,"1","2","0.5","1.5","10",%d,"15",3,"5","7","0"]`, ms, ms+59999)
}

func TestBackfillPagesUntilEnd(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		startMs, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		start := time.UnixMilli(startMs).UTC()
		var rows []string
		for open := day; open.Before(day.Add(3 * time.Minute)); open = open.Add(time.Minute) {
			if !open.Before(start) && len(rows) < 2 {
				rows = append(rows, klineRow(open))
			}
		}
		_, _ = w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
	}))
	defer srv.Close()

	client := binance.NewClient(binance.Options{RestBaseURL: srv.URL, RetryWait: time.Millisecond})
	defer client.Close()
	st, err := store.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}

	total, requests, err := backfill(context.Background(), client, st, "BTCUSDT", "1m", day, day.Add(3*time.Minute), 0)
	if err != nil {
		t.Fatalf("backfill() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("backfill() total = %d, want 3", total)
	}
	if requests != 3 || calls.Load() != 3 {
		t.Fatalf("backfill() requests = %d (server saw %d), want 3", requests, calls.Load())
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(st.Root(), "klines", "2024-01-02.jsonl"))
	if err != nil {
		t.Fatalf("read klines: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || !strings.Contains(lines[0], `"price":"1.5"`) {
		t.Fatalf("kline lines = %v", lines)
	}
}

func TestResolveWindow(t *testing.T) {
	start, end, err := resolveWindow(0, "2024-01-02", "2024-01-03", time.Now())
	if err != nil {
		t.Fatalf("resolveWindow() error = %v", err)
	}
	if !start.Equal(day) || !end.Equal(day.Add(48*time.Hour)) {
		t.Fatalf("resolveWindow() = %v..%v, want %v..%v", start, end, day, day.Add(48*time.Hour))
	}

	now := day.Add(12 * time.Hour)
	start, end, err = resolveWindow(2, "", "", now)
	if err != nil || !end.Equal(now) || !start.Equal(now.AddDate(0, -2, 0)) {
		t.Fatalf("resolveWindow(months) = %v..%v, %v", start, end, err)
	}

	if _, _, err := resolveWindow(1, "2024-01-02", "", now); err == nil {
		t.Fatalf("resolveWindow(start only) error = nil, want error")
	}
	if _, _, err := resolveWindow(1, "2024-01-03", "2024-01-02", now); err == nil {
		t.Fatalf("resolveWindow(end before start) error = nil, want error")
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"exchange-core/internal/app"
	"exchange-core/internal/config"
	"exchange-core/internal/core"
	"exchange-core/internal/exchange"
	"exchange-core/internal/store"
)

const (
	defaultOutDir = "data/binance"
	batchLimit    = 1000
	batchPause    = 120 * time.Millisecond
)

type klineLine struct {
	Time      string `json:"time"`
	Timestamp int64  `json:"timestamp"`
	Symbol    string `json:"symbol"`
	Interval  string `json:"interval"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Price     string `json:"price"`
	Volume    string `json:"volume"`
}

func main() {
	var (
		configPath string
		symbol     string
		interval   string
		months     int
		startRaw   string
		endRaw     string
		outDir     string
	)

	flag.StringVar(&configPath, "config", "", "optional config yaml")
	flag.StringVar(&symbol, "symbol", "BTCUSDT", "symbol, e.g. BTCUSDT")
	flag.StringVar(&interval, "interval", "1m", "kline interval, e.g. 1m/5m/15m/1h")
	flag.IntVar(&months, "months", 6, "how many months to fetch back from now")
	flag.StringVar(&startRaw, "start", "", "start time (YYYY-MM-DD or RFC3339, UTC)")
	flag.StringVar(&endRaw, "end", "", "end time (YYYY-MM-DD or RFC3339, UTC), inclusive for date")
	flag.StringVar(&outDir, "out-dir", defaultOutDir, "output root dir")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fatal(err.Error())
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	interval = strings.TrimSpace(interval)
	if symbol == "" || interval == "" {
		fatal("symbol/interval are required")
	}
	start, end, err := resolveWindow(months, startRaw, endRaw, time.Now())
	if err != nil {
		fatal(err.Error())
	}

	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		fatal(err.Error())
	}
	a, err := app.New(cfg, log)
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	targetDir := filepath.Join(outDir, symbol, interval)
	st, err := store.New(targetDir, log)
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "close writer failed: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("fetching symbol=%s interval=%s from=%s to=%s\n", symbol, interval, start.Format(time.RFC3339), end.Add(-time.Millisecond).Format(time.RFC3339))
	total, requests, err := backfill(ctx, a.Client, st, symbol, interval, start, end, batchPause)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("done: records=%d requests=%d output=%s\n", total, requests, targetDir)
}

// backfill pages through [start, end) in batches, appending each candle to
// the klines event log of st.
func backfill(ctx context.Context, client exchange.MarketData, st *store.Store, symbol, interval string, start, end time.Time, pause time.Duration) (int, int, error) {
	cursor := start
	total, requests := 0, 0
	for cursor.Before(end) {
		res := client.GetKlinesRange(ctx, symbol, interval, cursor, end.Add(-time.Millisecond), batchLimit)
		if !res.Succeeded() {
			return total, requests, res.Err
		}
		requests++
		if len(res.Data) == 0 {
			break
		}
		advanced := false
		for _, k := range res.Data {
			if !k.OpenTime.Before(end) || k.OpenTime.Before(cursor) {
				continue
			}
			if err := st.AppendEvent("klines", k.OpenTime, toLine(k)); err != nil {
				return total, requests, err
			}
			total++
			cursor = k.OpenTime.Add(time.Millisecond)
			advanced = true
		}
		if !advanced {
			break
		}
		if requests%20 == 0 {
			fmt.Printf("progress: requests=%d records=%d last=%s\n", requests, total, cursor.UTC().Format(time.RFC3339))
		}
		select {
		case <-ctx.Done():
			return total, requests, ctx.Err()
		case <-time.After(pause):
		}
	}
	return total, requests, nil
}

func toLine(k core.Kline) klineLine {
	ts := k.OpenTime.UTC()
	return klineLine{
		Time:      ts.Format(time.RFC3339),
		Timestamp: ts.UnixMilli(),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      k.Open.String(),
		High:      k.High.String(),
		Low:       k.Low.String(),
		Close:     k.Close.String(),
		Price:     k.Close.String(),
		Volume:    k.Volume.String(),
	}
}

func resolveWindow(months int, startRaw, endRaw string, now time.Time) (time.Time, time.Time, error) {
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" && endRaw == "" {
		if months < 1 {
			return time.Time{}, time.Time{}, errors.New("months must be >= 1")
		}
		end := now.UTC()
		return end.AddDate(0, -months, 0), end, nil
	}
	if startRaw == "" || endRaw == "" {
		return time.Time{}, time.Time{}, errors.New("start and end must be provided together")
	}
	start, startDateOnly, err := parseRangeTime(startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, endDateOnly, err := parseRangeTime(endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	if startDateOnly {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	}
	if endDateOnly {
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start.UTC(), end.UTC(), nil
}

func parseRangeTime(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, errors.New("empty")
	}
	if len(raw) == len("2006-01-02") {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, errors.New("unsupported time format")
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

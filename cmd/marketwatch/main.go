package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sourcegraph/conc"

	"exchange-core/internal/app"
	"exchange-core/internal/config"
	"exchange-core/internal/exchange/binance"
	"exchange-core/internal/health"
	"exchange-core/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Alert.Telegram.BotToken = v
	}
	if len(cfg.Watch.Symbols) == 0 {
		fatal("watch.symbols must list at least one symbol")
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
		if err := a.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "close failed: %v\n", err)
		}
	}()

	stateDir := filepath.Join(cfg.Watch.StateDir, cfg.Exchange.Name)
	st, err := store.New(stateDir, log)
	if err != nil {
		fatal(err.Error())
	}
	defer st.Close()
	lock, err := store.AcquireWriterLock(stateDir)
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "release writer lock failed: %v\n", relErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := newWatcher(st, a.Alerts, log, cfg.Watch.LargeTradeNotional.Decimal)
	var wg conc.WaitGroup
	consume(ctx, &wg, a.Client.SubscribeMarketSummaries(ctx, cfg.Watch.Symbols), w.handleTicker)
	for _, symbol := range cfg.Watch.Symbols {
		consume(ctx, &wg, a.Client.SubscribeTrades(ctx, symbol), w.handleTrades)
		consume(ctx, &wg, a.Client.SubscribeOrderBook(ctx, symbol), w.handleBook)
		consume(ctx, &wg, a.Client.SubscribeKlines(ctx, symbol, cfg.Watch.KlineInterval), w.handleKline)
	}

	status := store.RuntimeStatus{
		Exchange:  a.Client.Name(),
		Symbols:   cfg.Watch.Symbols,
		State:     "running",
		StartedAt: time.Now().UTC(),
	}
	ticker := time.NewTicker(time.Duration(cfg.Watch.StatusIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			status.State = "stopped"
			w.saveStatus(fillStatus(status, a.Client, a.Health), a.Client)
			return
		case <-ticker.C:
			w.saveStatus(fillStatus(status, a.Client, a.Health), a.Client)
		}
	}
}

func fillStatus(status store.RuntimeStatus, client *binance.Client, tracker *health.Tracker) store.RuntimeStatus {
	status.Weight = client.Weights().CurrentWeight()
	status.WeightLimit = client.Weights().Limit()
	status.Degraded = tracker.Degraded()
	status.LastError = client.LastError()
	status.Streams = status.Streams[:0:0]
	for _, s := range client.StreamStats() {
		status.Streams = append(status.Streams, store.StreamStatus{
			ID:            s.ID,
			Topic:         s.TopicKey,
			State:         string(s.State),
			Reconnects:    s.Reconnects,
			LastMessageAt: s.LastMessageAt,
		})
	}
	return status
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

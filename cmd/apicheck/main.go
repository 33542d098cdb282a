package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"exchange-core/internal/app"
	"exchange-core/internal/config"
	"exchange-core/internal/core"
	"exchange-core/internal/exchange"
	"exchange-core/internal/store"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
	statusSkip checkStatus = "SKIP"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Exchange   string        `json:"exchange"`
	Symbol     string        `json:"symbol"`
	Status     string        `json:"status"`
	Checks     []checkResult `json:"checks"`
}

type selectedChecks struct {
	public  bool
	account bool
	stream  bool
}

func main() {
	var (
		configPath  string
		symbol      string
		timeoutSec  int
		streamWait  int
		outJSONPath string
		checkFlag   string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&symbol, "symbol", "BTCUSDT", "symbol used by per-symbol checks")
	flag.IntVar(&timeoutSec, "timeout-sec", 120, "total timeout seconds")
	flag.IntVar(&streamWait, "stream-wait-sec", 10, "wait seconds for stream checks")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.StringVar(&checkFlag, "check", "all", "checks to run: all | comma list (public,account,stream)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	applyEnv(&cfg)
	checks, err := parseCheckFlag(checkFlag)
	if err != nil {
		fatal(err.Error())
	}
	if timeoutSec < 10 {
		timeoutSec = 10
	}
	if streamWait < 3 {
		streamWait = 3
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	r := runChecks(ctx, a.Client, a.Client.HasCredentials(), strings.ToUpper(symbol), checks, time.Duration(streamWait)*time.Second, os.Stdout)
	printSummary(os.Stdout, r)
	fmt.Println(a.Client.Status())
	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
	}
	if r.Status != string(statusPass) {
		os.Exit(2)
	}
}

// applyEnv lets a .env file or the environment override secrets and the
// log level without editing the config file.
func applyEnv(cfg *config.Config) {
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Alert.Telegram.BotToken = v
	}
}

func runChecks(ctx context.Context, client exchange.Client, signed bool, symbol string, sel selectedChecks, streamWait time.Duration, out io.Writer) report {
	r := report{
		StartedAt: time.Now().UTC(),
		Exchange:  client.Name(),
		Symbol:    symbol,
	}
	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		record(&r, cr, out)
	}
	skip := func(name, why string) {
		record(&r, checkResult{Name: name, Status: statusSkip, Detail: why}, out)
	}

	if sel.public {
		run("server_time", func() (string, error) {
			st, err := client.GetServerTime(ctx).Unwrap()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("offset=%s", st.Offset), nil
		})
		run("exchange_info", func() (string, error) {
			info, err := client.GetExchangeInfo(ctx).Unwrap()
			if err != nil {
				return "", err
			}
			sym, ok := info.Symbol(symbol)
			if !ok {
				return "", fmt.Errorf("symbol %s not listed", symbol)
			}
			return fmt.Sprintf("symbols=%d weight_limit=%d %s tick=%s step=%s", len(info.Symbols), info.RequestWeightPerMinute(), sym.Status, sym.Rules.PriceTick, sym.Rules.QtyStep), nil
		})
		run("recent_trades", func() (string, error) {
			trades, err := client.GetRecentTrades(ctx, symbol, 10).Unwrap()
			if err != nil {
				return "", err
			}
			if len(trades) == 0 {
				return "", errors.New("no trades returned")
			}
			return fmt.Sprintf("trades=%d last_id=%d", len(trades), trades[len(trades)-1].ID), nil
		})
		run("depth", func() (string, error) {
			book, err := client.GetDepth(ctx, symbol, 100).Unwrap()
			if err != nil {
				return "", err
			}
			bid, okBid := book.BestBid()
			ask, okAsk := book.BestAsk()
			if !okBid || !okAsk {
				return "", errors.New("empty book")
			}
			return fmt.Sprintf("last_update_id=%d bid=%s ask=%s", book.LastUpdateID, bid.Price, ask.Price), nil
		})
		run("price_ticker", func() (string, error) {
			return countDetail(client.GetPriceTicker(ctx, symbol))
		})
		run("ticker_24h", func() (string, error) {
			return countDetail(client.Get24hPriceTicker(ctx, symbol))
		})
		run("klines", func() (string, error) {
			return countDetail(client.GetKlines(ctx, symbol, "1m", 5))
		})
	}

	if sel.account {
		if !signed {
			for _, name := range []string{"account_info", "open_orders", "deposit_history", "withdraw_history"} {
				skip(name, "no credentials")
			}
		} else {
			run("account_info", func() (string, error) {
				info, err := client.GetAccountInfo(ctx).Unwrap()
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("can_trade=%t non_zero_balances=%d", info.CanTrade, len(info.NonZeroBalances())), nil
			})
			run("open_orders", func() (string, error) {
				return countDetail(client.GetOpenOrders(ctx, symbol))
			})
			run("deposit_history", func() (string, error) {
				return countDetail(client.GetDepositHistory(ctx, ""))
			})
			run("withdraw_history", func() (string, error) {
				return countDetail(client.GetWithdrawHistory(ctx, ""))
			})
		}
	}

	if sel.stream {
		run("orderbook_stream", func() (string, error) {
			sctx, scancel := context.WithTimeout(ctx, streamWait)
			defer scancel()
			feed := client.SubscribeOrderBook(sctx, symbol)
			defer feed.Close()
			live := 0
			for {
				select {
				case <-sctx.Done():
					if live == 0 {
						return "", fmt.Errorf("no live book update within %s", streamWait)
					}
					return fmt.Sprintf("live_updates=%d", live), nil
				case u, ok := <-feed.C():
					if !ok {
						return "", errors.New("book feed closed unexpectedly")
					}
					if !u.Stale {
						live++
					}
				}
			}
		})
		run("trade_stream", func() (string, error) {
			sctx, scancel := context.WithTimeout(ctx, streamWait)
			defer scancel()
			feed := client.SubscribeTrades(sctx, symbol)
			defer feed.Close()
			select {
			case <-sctx.Done():
				return "", fmt.Errorf("no trades within %s", streamWait)
			case u, ok := <-feed.C():
				if !ok {
					return "", errors.New("trade feed closed unexpectedly")
				}
				return fmt.Sprintf("first_batch=%d", len(u.Trades)), nil
			}
		})
	}

	r.FinishedAt = time.Now().UTC()
	r.Status = string(statusPass)
	for _, c := range r.Checks {
		if c.Status == statusFail {
			r.Status = string(statusFail)
			break
		}
	}
	return r
}

func countDetail[T any](res core.Result[[]T]) (string, error) {
	data, err := res.Unwrap()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rows=%d elapsed_ms=%d", len(data), res.ElapsedMs()), nil
}

func record(r *report, cr checkResult, out io.Writer) {
	r.Checks = append(r.Checks, cr)
	switch cr.Status {
	case statusPass:
		fmt.Fprintf(out, "[PASS] %s (%dms)", cr.Name, cr.DurationMs)
		if cr.Detail != "" {
			fmt.Fprintf(out, " - %s", cr.Detail)
		}
		fmt.Fprintln(out)
	case statusSkip:
		fmt.Fprintf(out, "[SKIP] %s - %s\n", cr.Name, cr.Detail)
	default:
		fmt.Fprintf(out, "[FAIL] %s (%dms) - %s\n", cr.Name, cr.DurationMs, cr.Error)
	}
}

func parseCheckFlag(raw string) (selectedChecks, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "all" {
		return selectedChecks{public: true, account: true, stream: true}, nil
	}
	var out selectedChecks
	for _, p := range strings.Split(raw, ",") {
		switch name := strings.TrimSpace(p); name {
		case "":
			continue
		case "public", "market":
			out.public = true
		case "account", "signed":
			out.account = true
		case "stream", "streams":
			out.stream = true
		default:
			return selectedChecks{}, fmt.Errorf("unknown check: %s", name)
		}
	}
	if out == (selectedChecks{}) {
		return selectedChecks{}, errors.New("no checks selected")
	}
	return out, nil
}

func printSummary(out io.Writer, r report) {
	counts := map[checkStatus]int{}
	for _, c := range r.Checks {
		counts[c.Status]++
	}
	fmt.Fprintf(out, "\nsummary exchange=%s symbol=%s pass=%d fail=%d skip=%d duration=%s\n",
		r.Exchange,
		r.Symbol,
		counts[statusPass],
		counts[statusFail],
		counts[statusSkip],
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(path, data, 0o644, nil)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfgPath := writeTempConfig(t, `
watch:
  symbols: [" btcusdt ", ETHUSDT]
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.Name != ExchangeBinance {
		t.Fatalf("exchange.name = %q, want binance", cfg.Exchange.Name)
	}
	if cfg.Exchange.CredentialsPath != "binance.hash" {
		t.Fatalf("exchange.credentials_path = %q, want binance.hash", cfg.Exchange.CredentialsPath)
	}
	if cfg.Exchange.MaxAttempts != 5 {
		t.Fatalf("exchange.max_attempts = %d, want 5", cfg.Exchange.MaxAttempts)
	}
	if cfg.Exchange.RecvWindow() != 5*time.Second {
		t.Fatalf("exchange.RecvWindow() = %s, want 5s", cfg.Exchange.RecvWindow())
	}
	if cfg.Exchange.WeightLimitPerMinute != 1200 {
		t.Fatalf("exchange.weight_limit_per_minute = %d, want 1200", cfg.Exchange.WeightLimitPerMinute)
	}
	if cfg.Stream.ReconnectDelay() != 250*time.Millisecond {
		t.Fatalf("stream.ReconnectDelay() = %s, want 250ms", cfg.Stream.ReconnectDelay())
	}
	if cfg.Stream.PingInterval() != 0 {
		t.Fatalf("stream.PingInterval() = %s, want 0", cfg.Stream.PingInterval())
	}
	if cfg.OrderBook.DepthLimit != 1000 || cfg.OrderBook.MaxBufferedDeltas != 1000 {
		t.Fatalf("orderbook = %+v, want depth 1000 and buffer 1000", cfg.OrderBook)
	}
	if cfg.Health.DegradedAfterFailures != 5 {
		t.Fatalf("health.degraded_after_failures = %d, want 5", cfg.Health.DegradedAfterFailures)
	}
	if got := strings.Join(cfg.Watch.Symbols, ","); got != "BTCUSDT,ETHUSDT" {
		t.Fatalf("watch.symbols = %s, want BTCUSDT,ETHUSDT", got)
	}
	if cfg.Log.Format != "json" || cfg.Log.Output != "stdout" {
		t.Fatalf("log = %+v, want json on stdout", cfg.Log)
	}
	if cfg.Debug.DumpDir != "debug/responses" {
		t.Fatalf("debug.dump_dir = %q, want debug/responses", cfg.Debug.DumpDir)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Exchange.RestBaseURL != "https://api.binance.com" {
		t.Fatalf("rest_base_url = %s", cfg.Exchange.RestBaseURL)
	}
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("Load(empty) error = %v", err)
	}
	if cfg.Stream.BufferSize != 256 {
		t.Fatalf("stream.buffer_size = %d, want 256", cfg.Stream.BufferSize)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
exchange:
  api_key: nope
`))
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("Load() error = %v, want unknown field api_key", err)
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
exchange:
  name: binance
---
exchange:
  name: binance
`))
	if err == nil || !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("Load() error = %v, want single document error", err)
	}
}

func TestLoadTrimsBaseURLs(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
exchange:
  rest_base_url: "https://testnet.binance.vision/ "
  ws_base_url: "wss://testnet.binance.vision/"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.RestBaseURL != "https://testnet.binance.vision" {
		t.Fatalf("rest_base_url = %q", cfg.Exchange.RestBaseURL)
	}
	if cfg.Exchange.WSBaseURL != "wss://testnet.binance.vision" {
		t.Fatalf("ws_base_url = %q", cfg.Exchange.WSBaseURL)
	}
}

func TestLoadParsesLargeTradeNotional(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
watch:
  large_trade_notional: "250000.50"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Watch.LargeTradeNotional.Equal(decimal.RequireFromString("250000.5")) {
		t.Fatalf("watch.large_trade_notional = %s, want 250000.5", cfg.Watch.LargeTradeNotional.String())
	}
}

func TestLoadDecimalAcceptsSeparatorsAndRejectsGarbage(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "watch:\n  large_trade_notional: 1_000_000\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Watch.LargeTradeNotional.Equal(decimal.RequireFromString("1000000")) {
		t.Fatalf("watch.large_trade_notional = %s, want 1000000", cfg.Watch.LargeTradeNotional.String())
	}
	if _, err := Load(writeTempConfig(t, "watch:\n  large_trade_notional: lots\n")); err == nil || !strings.Contains(err.Error(), "invalid decimal") {
		t.Fatalf("Load(lots) error = %v, want invalid decimal", err)
	}
}

func TestLoadValidationMessages(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"exchange name", "exchange:\n  name: kraken\n", "exchange.name must be binance"},
		{"rest scheme", "exchange:\n  rest_base_url: ftp://x\n", "exchange.rest_base_url scheme must be http or https"},
		{"ws scheme", "exchange:\n  ws_base_url: https://x\n", "exchange.ws_base_url scheme must be ws or wss"},
		{"max attempts", "exchange:\n  max_attempts: 11\n", "exchange.max_attempts must be between 1 and 10"},
		{"ping", "stream:\n  read_timeout_sec: 30\n  ping_interval_sec: 30\n", "stream.ping_interval_sec"},
		{"depth", "orderbook:\n  depth_limit: 7\n", "orderbook.depth_limit"},
		{"telegram chat", "alert:\n  telegram:\n    enabled: true\n", "alert.telegram.chat_id is required"},
		{"symbol", "watch:\n  symbols: [BTC-USD]\n", "watch.symbols entry"},
		{"interval", "watch:\n  kline_interval: 7m\n", "watch.kline_interval"},
		{"notional", "watch:\n  large_trade_notional: \"-1\"\n", "watch.large_trade_notional must be >= 0"},
		{"bad decimal", "watch:\n  large_trade_notional: abc\n", "invalid decimal"},
		{"log format", "log:\n  format: xml\n", "log.format must be json or text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want %q", err, tc.want)
			}
		})
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write temp config failed: %v", err)
	}
	return path
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}
	if len(cfg.Watch.Symbols) != 2 || cfg.Watch.Symbols[0] != "BTCUSDT" {
		t.Fatalf("watch.symbols = %v, want [BTCUSDT ETHUSDT]", cfg.Watch.Symbols)
	}
}

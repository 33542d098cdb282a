package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const ExchangeBinance = "binance"

type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Stream    StreamConfig    `yaml:"stream"`
	OrderBook OrderBookConfig `yaml:"orderbook"`
	Health    HealthConfig    `yaml:"health"`
	Alert     AlertConfig     `yaml:"alert"`
	Watch     WatchConfig     `yaml:"watch"`
	Log       LogConfig       `yaml:"log"`
	Debug     DebugConfig     `yaml:"debug"`
}

type ExchangeConfig struct {
	Name                 string `yaml:"name"`
	RestBaseURL          string `yaml:"rest_base_url"`
	WSBaseURL            string `yaml:"ws_base_url"`
	CredentialsPath      string `yaml:"credentials_path"`
	RecvWindowMs         int64  `yaml:"recv_window_ms"`
	HTTPTimeoutSec       int64  `yaml:"http_timeout_sec"`
	MaxAttempts          int    `yaml:"max_attempts"`
	TimeSyncIntervalSec  int64  `yaml:"time_sync_interval_sec"`
	WeightLimitPerMinute int    `yaml:"weight_limit_per_minute"`
}

type StreamConfig struct {
	ReconnectDelayMs  int64 `yaml:"reconnect_delay_ms"`
	ReadTimeoutSec    int64 `yaml:"read_timeout_sec"`
	PingIntervalSec   int64 `yaml:"ping_interval_sec"`
	BufferSize        int   `yaml:"buffer_size"`
	ControlIntervalMs int64 `yaml:"control_interval_ms"`
}

type OrderBookConfig struct {
	DepthLimit        int `yaml:"depth_limit"`
	MaxBufferedDeltas int `yaml:"max_buffered_deltas"`
}

type HealthConfig struct {
	DegradedAfterFailures int `yaml:"degraded_after_failures"`
}

type AlertConfig struct {
	QueueSize     int            `yaml:"queue_size"`
	DropReportSec int64          `yaml:"drop_report_sec"`
	CooldownSec   int64          `yaml:"cooldown_sec"`
	Telegram      TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

// WatchConfig drives the marketwatch command.
type WatchConfig struct {
	Symbols            []string `yaml:"symbols"`
	KlineInterval      string   `yaml:"kline_interval"`
	StateDir           string   `yaml:"state_dir"`
	StatusIntervalSec  int64    `yaml:"status_interval_sec"`
	LargeTradeNotional Decimal  `yaml:"large_trade_notional"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DebugConfig is only honoured by binaries built with -tags debug.
type DebugConfig struct {
	DumpDir string `yaml:"dump_dir"`
}

var klineIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.normalize()
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Exchange.Name = strings.ToLower(strings.TrimSpace(c.Exchange.Name))
	c.Exchange.RestBaseURL = strings.TrimRight(strings.TrimSpace(c.Exchange.RestBaseURL), "/")
	c.Exchange.WSBaseURL = strings.TrimRight(strings.TrimSpace(c.Exchange.WSBaseURL), "/")
	c.Exchange.CredentialsPath = strings.TrimSpace(c.Exchange.CredentialsPath)
	c.Alert.Telegram.BotToken = strings.TrimSpace(c.Alert.Telegram.BotToken)
	c.Alert.Telegram.ChatID = strings.TrimSpace(c.Alert.Telegram.ChatID)
	c.Alert.Telegram.APIBaseURL = strings.TrimSpace(c.Alert.Telegram.APIBaseURL)
	for i, s := range c.Watch.Symbols {
		c.Watch.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	c.Watch.KlineInterval = strings.TrimSpace(c.Watch.KlineInterval)
	c.Watch.StateDir = strings.TrimSpace(c.Watch.StateDir)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Log.Output = strings.TrimSpace(c.Log.Output)
	c.Debug.DumpDir = strings.TrimSpace(c.Debug.DumpDir)
}

func (c *Config) applyDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = ExchangeBinance
	}
	if c.Exchange.RestBaseURL == "" {
		c.Exchange.RestBaseURL = "https://api.binance.com"
	}
	if c.Exchange.WSBaseURL == "" {
		c.Exchange.WSBaseURL = "wss://stream.binance.com:9443"
	}
	if c.Exchange.CredentialsPath == "" {
		c.Exchange.CredentialsPath = c.Exchange.Name + ".hash"
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.MaxAttempts == 0 {
		c.Exchange.MaxAttempts = 5
	}
	if c.Exchange.TimeSyncIntervalSec == 0 {
		c.Exchange.TimeSyncIntervalSec = 600
	}
	if c.Exchange.WeightLimitPerMinute == 0 {
		c.Exchange.WeightLimitPerMinute = 1200
	}
	if c.Stream.ReconnectDelayMs == 0 {
		c.Stream.ReconnectDelayMs = 250
	}
	if c.Stream.ReadTimeoutSec == 0 {
		c.Stream.ReadTimeoutSec = 90
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = 256
	}
	if c.Stream.ControlIntervalMs == 0 {
		c.Stream.ControlIntervalMs = 250
	}
	if c.OrderBook.DepthLimit == 0 {
		c.OrderBook.DepthLimit = 1000
	}
	if c.OrderBook.MaxBufferedDeltas == 0 {
		c.OrderBook.MaxBufferedDeltas = 1000
	}
	if c.Health.DegradedAfterFailures == 0 {
		c.Health.DegradedAfterFailures = 5
	}
	if c.Alert.QueueSize == 0 {
		c.Alert.QueueSize = 128
	}
	if c.Alert.DropReportSec == 0 {
		c.Alert.DropReportSec = 60
	}
	if c.Alert.Telegram.APIBaseURL == "" {
		c.Alert.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Alert.Telegram.TimeoutSec == 0 {
		c.Alert.Telegram.TimeoutSec = 10
	}
	if c.Watch.KlineInterval == "" {
		c.Watch.KlineInterval = "1m"
	}
	if c.Watch.StateDir == "" {
		c.Watch.StateDir = "state"
	}
	if c.Watch.StatusIntervalSec == 0 {
		c.Watch.StatusIntervalSec = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Debug.DumpDir == "" {
		c.Debug.DumpDir = "debug/responses"
	}
}

func (c Config) Validate() error {
	if c.Exchange.Name != ExchangeBinance {
		return fmt.Errorf("exchange.name must be binance")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange.rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange.ws_base_url %v", err)
	}
	if c.Exchange.RecvWindowMs < 1 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange.recv_window_ms must be between 1 and 60000")
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange.http_timeout_sec must be between 1 and 120")
	}
	if c.Exchange.MaxAttempts < 1 || c.Exchange.MaxAttempts > 10 {
		return fmt.Errorf("exchange.max_attempts must be between 1 and 10")
	}
	if c.Exchange.TimeSyncIntervalSec < 10 || c.Exchange.TimeSyncIntervalSec > 86400 {
		return fmt.Errorf("exchange.time_sync_interval_sec must be between 10 and 86400")
	}
	if c.Exchange.WeightLimitPerMinute < 1 {
		return fmt.Errorf("exchange.weight_limit_per_minute must be >= 1")
	}
	if c.Stream.ReconnectDelayMs < 1 || c.Stream.ReconnectDelayMs > 60000 {
		return fmt.Errorf("stream.reconnect_delay_ms must be between 1 and 60000")
	}
	if c.Stream.ReadTimeoutSec < 1 || c.Stream.ReadTimeoutSec > 3600 {
		return fmt.Errorf("stream.read_timeout_sec must be between 1 and 3600")
	}
	if c.Stream.PingIntervalSec < 0 || c.Stream.PingIntervalSec >= c.Stream.ReadTimeoutSec {
		return fmt.Errorf("stream.ping_interval_sec must be >= 0 and below read_timeout_sec")
	}
	if c.Stream.BufferSize < 1 || c.Stream.BufferSize > 65536 {
		return fmt.Errorf("stream.buffer_size must be between 1 and 65536")
	}
	if c.Stream.ControlIntervalMs < 1 || c.Stream.ControlIntervalMs > 10000 {
		return fmt.Errorf("stream.control_interval_ms must be between 1 and 10000")
	}
	switch c.OrderBook.DepthLimit {
	case 5, 10, 20, 50, 100, 500, 1000, 5000:
	default:
		return fmt.Errorf("orderbook.depth_limit must be one of 5, 10, 20, 50, 100, 500, 1000, 5000")
	}
	if c.OrderBook.MaxBufferedDeltas < 1 {
		return fmt.Errorf("orderbook.max_buffered_deltas must be >= 1")
	}
	if c.Health.DegradedAfterFailures < 1 || c.Health.DegradedAfterFailures > 1000 {
		return fmt.Errorf("health.degraded_after_failures must be between 1 and 1000")
	}
	if c.Alert.QueueSize < 1 {
		return fmt.Errorf("alert.queue_size must be >= 1")
	}
	if c.Alert.DropReportSec < 0 || c.Alert.DropReportSec > 3600 {
		return fmt.Errorf("alert.drop_report_sec must be between 0 and 3600")
	}
	if c.Alert.CooldownSec < 0 || c.Alert.CooldownSec > 86400 {
		return fmt.Errorf("alert.cooldown_sec must be between 0 and 86400")
	}
	if c.Alert.Telegram.Enabled {
		if c.Alert.Telegram.ChatID == "" {
			return fmt.Errorf("alert.telegram.chat_id is required when telegram enabled")
		}
		if c.Alert.Telegram.TimeoutSec < 1 || c.Alert.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("alert.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Alert.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("alert.telegram.api_base_url %v", err)
		}
	}
	for _, s := range c.Watch.Symbols {
		if !isValidSymbol(s) {
			return fmt.Errorf("watch.symbols entry %q must match [A-Z0-9], length 5..20", s)
		}
	}
	if !klineIntervals[c.Watch.KlineInterval] {
		return fmt.Errorf("watch.kline_interval %q is not a supported interval", c.Watch.KlineInterval)
	}
	if c.Watch.StatusIntervalSec < 1 || c.Watch.StatusIntervalSec > 3600 {
		return fmt.Errorf("watch.status_interval_sec must be between 1 and 3600")
	}
	if c.Watch.LargeTradeNotional.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("watch.large_trade_notional must be >= 0")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text")
	}
	if c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log.max_age_days must be >= 0")
	}
	return nil
}

func (c ExchangeConfig) RecvWindow() time.Duration {
	return time.Duration(c.RecvWindowMs) * time.Millisecond
}

func (c ExchangeConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

func (c ExchangeConfig) TimeSyncInterval() time.Duration {
	return time.Duration(c.TimeSyncIntervalSec) * time.Second
}

func (c StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

func (c StreamConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSec) * time.Second
}

func (c StreamConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSec) * time.Second
}

func (c StreamConfig) ControlInterval() time.Duration {
	return time.Duration(c.ControlIntervalMs) * time.Millisecond
}

func isValidSymbol(v string) bool {
	if len(v) < 5 || len(v) > 20 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}

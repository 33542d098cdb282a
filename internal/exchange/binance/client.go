package binance

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"exchange-core/internal/config"
	"exchange-core/internal/core"
	"exchange-core/internal/credentials"
	"exchange-core/internal/exchange"
	"exchange-core/internal/health"
	"exchange-core/internal/logger"
	"exchange-core/internal/ratelimit"
	"exchange-core/internal/signing"
	"exchange-core/internal/store"
	"exchange-core/internal/stream"
)

const (
	defaultRestBaseURL      = "https://api.binance.com"
	defaultWSBaseURL        = "wss://stream.binance.com:9443"
	defaultMaxAttempts      = 5
	defaultTimeSyncInterval = 10 * time.Minute
	defaultRetryWait        = 500 * time.Millisecond
	defaultDepthLimit       = 1000
)

type Options struct {
	RestBaseURL string
	WSBaseURL   string
	// Credentials may be nil, which leaves the client in public-only mode.
	Credentials      *credentials.Credentials
	RecvWindow       time.Duration
	HTTPTimeout      time.Duration
	HTTPClient       *http.Client
	MaxAttempts      int
	TimeSyncInterval time.Duration
	WeightLimit      int
	// RetryWait is the first pause after a rate limit rejection without a
	// Retry-After header. It doubles on every further rejection.
	RetryWait         time.Duration
	DepthLimit        int
	MaxBufferedDeltas int
	Stream            stream.Options
	Health            *health.Tracker
	// DumpDir receives raw response bodies in debug builds.
	DumpDir string
	Logger  *logger.Log
	Now     func() time.Time
}

// Client is the Binance implementation of exchange.Client.
type Client struct {
	baseURL          string
	wsBaseURL        string
	apiKey           string
	signer           *signing.Signer
	clock            *signing.Clock
	recvWindow       time.Duration
	httpClient       *http.Client
	maxAttempts      int
	retryWait        time.Duration
	timeSyncInterval time.Duration
	depthLimit       int
	maxBuffered      int

	weights *ratelimit.Tracker
	health  *health.Tracker
	streams *stream.Manager
	dumper  *store.Dumper
	logger  *logger.Log
	log     *logger.Entry
	now     func() time.Time

	mu          sync.Mutex
	lastSync    time.Time
	lastErr     string
	symbolRules map[string]core.Rules
}

func NewClient(opts Options) *Client {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := 15 * time.Second
		if opts.HTTPTimeout > 0 {
			timeout = opts.HTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	syncInterval := opts.TimeSyncInterval
	if syncInterval <= 0 {
		syncInterval = defaultTimeSyncInterval
	}
	retryWait := opts.RetryWait
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}
	depthLimit := opts.DepthLimit
	if depthLimit <= 0 {
		depthLimit = defaultDepthLimit
	}
	baseURL := strings.TrimRight(opts.RestBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultRestBaseURL
	}
	wsBaseURL := strings.TrimRight(opts.WSBaseURL, "/")
	if wsBaseURL == "" {
		wsBaseURL = defaultWSBaseURL
	}

	weights := ratelimit.NewTracker(now)
	if opts.WeightLimit > 0 {
		weights.SetLimit(opts.WeightLimit)
	}
	streamOpts := opts.Stream
	if streamOpts.Logger == nil {
		streamOpts.Logger = opts.Logger
	}
	if streamOpts.Health == nil && opts.Health != nil {
		streamOpts.Health = opts.Health
	}

	c := &Client{
		baseURL:          baseURL,
		wsBaseURL:        wsBaseURL,
		clock:            signing.NewClock(now),
		recvWindow:       opts.RecvWindow,
		httpClient:       httpClient,
		maxAttempts:      maxAttempts,
		retryWait:        retryWait,
		timeSyncInterval: syncInterval,
		depthLimit:       depthLimit,
		maxBuffered:      opts.MaxBufferedDeltas,
		weights:          weights,
		health:           opts.Health,
		streams:          stream.NewManager(streamOpts),
		logger:           logger.OrNop(opts.Logger),
		now:              now,
		symbolRules:      make(map[string]core.Rules),
	}
	c.log = c.logger.WithComponent("binance")
	if debugBuild && opts.DumpDir != "" {
		c.dumper = store.NewDumper(opts.DumpDir, opts.Logger)
	}
	if opts.Credentials.Valid() {
		c.apiKey = opts.Credentials.Key()
		secret := opts.Credentials.Secret()
		c.signer = signing.NewHMACSHA256(secret, signing.HexLower)
		for i := range secret {
			secret[i] = 0
		}
	}
	return c
}

// NewClientFromConfig wires a client from the loaded configuration.
func NewClientFromConfig(cfg config.Config, creds *credentials.Credentials, tracker *health.Tracker, log *logger.Log) *Client {
	return NewClient(Options{
		RestBaseURL:       cfg.Exchange.RestBaseURL,
		WSBaseURL:         cfg.Exchange.WSBaseURL,
		Credentials:       creds,
		RecvWindow:        cfg.Exchange.RecvWindow(),
		HTTPTimeout:       cfg.Exchange.HTTPTimeout(),
		MaxAttempts:       cfg.Exchange.MaxAttempts,
		TimeSyncInterval:  cfg.Exchange.TimeSyncInterval(),
		WeightLimit:       cfg.Exchange.WeightLimitPerMinute,
		DepthLimit:        cfg.OrderBook.DepthLimit,
		MaxBufferedDeltas: cfg.OrderBook.MaxBufferedDeltas,
		Stream: stream.Options{
			ReconnectDelay:  cfg.Stream.ReconnectDelay(),
			ReadTimeout:     cfg.Stream.ReadTimeout(),
			PingInterval:    cfg.Stream.PingInterval(),
			BufferSize:      cfg.Stream.BufferSize,
			ControlInterval: cfg.Stream.ControlInterval(),
		},
		Health:  tracker,
		DumpDir: cfg.Debug.DumpDir,
		Logger:  log,
	})
}

func (c *Client) Name() string { return "binance" }

// HasCredentials reports whether signed endpoints are available.
func (c *Client) HasCredentials() bool { return c.signer != nil }

// Weights exposes the request weight tracker.
func (c *Client) Weights() *ratelimit.Tracker { return c.weights }

// StreamStats lists the live subscriptions.
func (c *Client) StreamStats() []stream.Stats { return c.streams.Streams() }

// Rules returns the trading rules cached by the last GetExchangeInfo.
func (c *Client) Rules(symbol string) (core.Rules, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.symbolRules[symbol]
	return r, ok
}

func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Status renders a one line summary for display.
func (c *Client) Status() string {
	var b strings.Builder
	b.WriteString("binance ")
	b.WriteString(c.weights.Status())
	fmt.Fprintf(&b, " streams=%d", c.streams.Len())
	if degraded := c.health.Degraded(); len(degraded) > 0 {
		fmt.Fprintf(&b, " degraded=[%s]", strings.Join(degraded, ","))
	}
	if last := c.LastError(); last != "" {
		fmt.Fprintf(&b, " last_error=%q", last)
	}
	return b.String()
}

// Close disposes every subscription and wipes the signing key.
func (c *Client) Close() error {
	c.streams.Close()
	if c.signer != nil {
		c.signer.Zero()
	}
	return nil
}

func (c *Client) setLastError(path string, err *core.APIError) {
	c.mu.Lock()
	c.lastErr = path + ": " + err.Error()
	c.mu.Unlock()
}

var _ exchange.Client = (*Client)(nil)

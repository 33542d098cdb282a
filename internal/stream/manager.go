// Package stream keeps WebSocket subscriptions alive. Each subscription owns
// one connection, reconnects after a fixed delay when it drops, and delivers
// decoded events on a channel in arrival order.
package stream

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"exchange-core/internal/logger"
)

const (
	defaultReconnectDelay  = 250 * time.Millisecond
	defaultReadTimeout     = 90 * time.Second
	defaultBufferSize      = 256
	defaultControlInterval = 250 * time.Millisecond
	defaultHandshake       = 10 * time.Second

	writeWait = 5 * time.Second
)

// Health receives per-stream outcomes. RecordFailure reports whether the
// stream is now considered degraded.
type Health interface {
	RecordFailure(name string, err error) bool
	RecordSuccess(name string)
}

type Options struct {
	ReconnectDelay time.Duration
	// ReadTimeout closes a connection that delivered nothing, not even a
	// ping, for this long. Zero selects the default.
	ReadTimeout time.Duration
	// PingInterval enables client pings. Zero leaves keepalive to the server.
	PingInterval time.Duration
	BufferSize   int
	// ControlInterval spaces subscribe frames and client pings.
	ControlInterval time.Duration
	Dialer          *websocket.Dialer
	Logger          *logger.Log
	Health          Health
}

type handle interface {
	Stats() Stats
	Close()
}

// Manager owns a set of subscriptions that share dial settings, control
// frame pacing and a health tracker.
type Manager struct {
	opts    Options
	dialer  *websocket.Dialer
	control *rate.Limiter
	log     *logger.Entry

	mu   sync.Mutex
	subs map[string]handle
}

func NewManager(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.ControlInterval <= 0 {
		opts.ControlInterval = defaultControlInterval
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: defaultHandshake,
		}
	}
	return &Manager{
		opts:    opts,
		dialer:  dialer,
		control: rate.NewLimiter(rate.Every(opts.ControlInterval), 1),
		log:     logger.OrNop(opts.Logger).WithComponent("stream"),
		subs:    make(map[string]handle),
	}
}

func (m *Manager) ReconnectDelay() time.Duration {
	return m.opts.ReconnectDelay
}

// Streams returns the stats of every live subscription ordered by topic.
func (m *Manager) Streams() []Stats {
	m.mu.Lock()
	out := make([]Stats, 0, len(m.subs))
	for _, h := range m.subs {
		out = append(out, h.Stats())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TopicKey == out[j].TopicKey {
			return out[i].ID < out[j].ID
		}
		return out[i].TopicKey < out[j].TopicKey
	})
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close disposes every subscription and waits for their goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	hs := make([]handle, 0, len(m.subs))
	for _, h := range m.subs {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		h.Close()
	}
}

func (m *Manager) register(id string, h handle) {
	m.mu.Lock()
	m.subs[id] = h
	m.mu.Unlock()
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
}

func (m *Manager) recordFailure(name string, err error) bool {
	if m.opts.Health == nil {
		return false
	}
	return m.opts.Health.RecordFailure(name, err)
}

func (m *Manager) recordSuccess(name string) {
	if m.opts.Health != nil {
		m.opts.Health.RecordSuccess(name)
	}
}

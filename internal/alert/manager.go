package alert

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"exchange-core/internal/logger"
)

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Alerter accepts important events without blocking the caller.
type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultQueueSize          = 128
	defaultDropReportInterval = time.Minute
	defaultDeliveryAttempts   = 3
	defaultRetryWait          = time.Second
	maxNotifierWait           = 30 * time.Second
	notifyTimeout             = 20 * time.Second
)

// RateLimitedError is returned by a notifier whose destination asked the
// sender to slow down.
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	return "rate limited, retry after " + e.RetryAfter.String() + ": " + e.Message
}

type ManagerOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
	// Cooldown suppresses an event repeated for the same subject within
	// the interval. Zero disables it.
	Cooldown time.Duration
	// DeliveryAttempts bounds Notify calls per event.
	DeliveryAttempts int
	RetryWait        time.Duration
	Logger           *logger.Log
	Now              func() time.Time
}

// Manager delivers events to a Notifier from a bounded queue. Events that
// do not fit are dropped and counted.
type Manager struct {
	source   string
	notifier Notifier
	opts     ManagerOptions
	log      *logger.Entry
	queue    chan event
	stop     chan struct{}
	done     chan struct{}
	wg       conc.WaitGroup

	droppedTotal  atomic.Uint64
	droppedWindow atomic.Uint64
	suppressed    atomic.Uint64

	mu       sync.RWMutex
	closed   bool
	cooldown sync.Mutex
	lastSent map[string]time.Time
}

type event struct {
	name   string
	fields map[string]string
	at     time.Time
}

// subject names what the event is about, so repeats for one stream or one
// symbol share a cooldown.
func (e event) subject() string {
	for _, k := range []string{"name", "symbol", "stream"} {
		if v := e.fields[k]; v != "" {
			return e.name + "|" + v
		}
	}
	return e.name
}

func NewManager(source string, notifier Notifier, log *logger.Log) *Manager {
	return NewManagerWithOptions(source, notifier, ManagerOptions{DropReportInterval: defaultDropReportInterval, Logger: log})
}

// NewManagerWithOptions returns nil when notifier is nil; a nil Manager
// ignores every call.
func NewManagerWithOptions(source string, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.DropReportInterval < 0 {
		opts.DropReportInterval = 0
	}
	if opts.DeliveryAttempts <= 0 {
		opts.DeliveryAttempts = defaultDeliveryAttempts
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		source:   source,
		notifier: notifier,
		opts:     opts,
		log:      logger.OrNop(opts.Logger).WithComponent("alert"),
		queue:    make(chan event, opts.QueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		lastSent: make(map[string]time.Time),
	}
	m.wg.Go(m.loop)
	if opts.DropReportInterval > 0 {
		m.wg.Go(m.dropReportLoop)
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

func (m *Manager) Important(name string, fields map[string]string) {
	if m == nil {
		return
	}
	ev := event{name: name, fields: cloneFields(fields), at: m.opts.Now().UTC()}
	if m.coolingDown(ev) {
		n := m.suppressed.Add(1)
		m.log.WithEvent("alert_suppressed").WithFields(logger.Fields{
			"target_event":     name,
			"suppressed_total": n,
		}).Debug("alert within cooldown")
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		total := m.droppedTotal.Add(1)
		// first drop of a window is logged now, the rest by the summary
		if m.droppedWindow.Add(1) == 1 {
			m.log.WithEvent("alert_queue_dropped").WithFields(logger.Fields{
				"target_event":  name,
				"dropped_total": total,
				"queue_cap":     cap(m.queue),
			}).Warn("alert dropped")
		}
	}
}

func (m *Manager) coolingDown(ev event) bool {
	if m.opts.Cooldown <= 0 {
		return false
	}
	key := ev.subject()
	m.cooldown.Lock()
	defer m.cooldown.Unlock()
	if last, ok := m.lastSent[key]; ok && ev.at.Sub(last) < m.opts.Cooldown {
		return true
	}
	m.lastSent[key] = ev.at
	return false
}

// Close stops accepting events and waits for the queue to drain.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	for {
		select {
		case ev := <-m.queue:
			m.deliver(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.deliver(ev)
				default:
					m.reportDropped()
					return
				}
			}
		}
	}
}

func (m *Manager) dropReportLoop() {
	ticker := time.NewTicker(m.opts.DropReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reportDropped()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) reportDropped() {
	dropped := m.droppedWindow.Swap(0)
	if dropped == 0 {
		return
	}
	m.log.WithEvent("alert_queue_dropped_report").WithFields(logger.Fields{
		"dropped_since_last":  dropped,
		"dropped_total":       m.droppedTotal.Load(),
		"report_interval_sec": int64(m.opts.DropReportInterval / time.Second),
		"queue_cap":           cap(m.queue),
	}).Warn("alerts dropped")
}

// Stats returns the dropped total, drops not yet reported, and events
// suppressed by the cooldown.
func (m *Manager) Stats() (dropped, pending, suppressed uint64) {
	if m == nil {
		return 0, 0, 0
	}
	return m.droppedTotal.Load(), m.droppedWindow.Load(), m.suppressed.Load()
}

// pacing waits RetryWait between attempts unless the notifier named a
// longer delay.
type pacing struct {
	base time.Duration
	next time.Duration
}

func (p *pacing) NextBackOff() time.Duration {
	d := p.base
	if p.next > 0 {
		d, p.next = p.next, 0
	}
	return d
}

func (p *pacing) Reset() { p.next = 0 }

func (m *Manager) deliver(ev event) {
	msg := m.buildMessage(ev)
	p := &pacing{base: m.opts.RetryWait}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.notifier.Notify(ctx, msg)
		var limited *RateLimitedError
		if errors.As(err, &limited) {
			if limited.RetryAfter > maxNotifierWait {
				return struct{}{}, backoff.Permanent(err)
			}
			p.next = limited.RetryAfter
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(p),
		backoff.WithMaxTries(uint(m.opts.DeliveryAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			m.log.WithEvent("alert_notify_retry").WithError(err).WithFields(logger.Fields{
				"target_event": ev.name,
				"wait_ms":      wait.Milliseconds(),
			}).Warn("alert delivery retry")
		}),
	)
	if err != nil {
		m.log.WithEvent("alert_notify_failed").WithError(err).
			WithField("target_event", ev.name).Error("alert delivery failed")
	}
}

func (m *Manager) buildMessage(ev event) string {
	var b strings.Builder
	b.WriteString("[exchange-core] " + m.source)
	b.WriteString("\ntime: " + ev.at.Format(time.RFC3339))
	b.WriteString("\nevent: " + ev.name)
	keys := make([]string, 0, len(ev.fields))
	for k := range ev.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n" + k + ": " + ev.fields[k])
	}
	return b.String()
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

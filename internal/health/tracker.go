// Package health counts consecutive failures per named dependency and marks
// it degraded past a threshold. It only observes: nothing is ever blocked.
package health

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"exchange-core/internal/alert"
	"exchange-core/internal/logger"
)

const defaultDegradedAfter = 5

type Options struct {
	// DegradedAfter is the number of consecutive failures that marks a
	// dependency degraded.
	DegradedAfter int
	Alerter       alert.Alerter
	Logger        *logger.Log
	Now           func() time.Time
}

type Status struct {
	Name                string
	ConsecutiveFailures int
	Degraded            bool
	DegradedSince       time.Time
	LastError           string
}

type entry struct {
	failures      int
	degraded      bool
	degradedSince time.Time
	lastErr       string
}

type Tracker struct {
	threshold int
	alerter   alert.Alerter
	log       *logger.Entry
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func NewTracker(opts Options) *Tracker {
	threshold := opts.DegradedAfter
	if threshold < 1 {
		threshold = defaultDegradedAfter
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		threshold: threshold,
		alerter:   opts.Alerter,
		log:       logger.OrNop(opts.Logger).WithComponent("health"),
		now:       now,
		entries:   make(map[string]*entry),
	}
}

// RecordFailure counts one more consecutive failure for name and reports
// whether name is degraded afterwards.
func (t *Tracker) RecordFailure(name string, err error) bool {
	if t == nil {
		return false
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	t.mu.Lock()
	e := t.entryLocked(name)
	e.failures++
	e.lastErr = msg
	failures := e.failures
	tripped := false
	if !e.degraded && failures >= t.threshold {
		e.degraded = true
		e.degradedSince = t.now().UTC()
		tripped = true
	}
	degraded := e.degraded
	t.mu.Unlock()

	fields := logger.Fields{
		"name":                 name,
		"consecutive_failures": failures,
		"threshold":            t.threshold,
		"last_error":           msg,
	}
	switch {
	case tripped:
		t.log.WithEvent("health_degraded").WithFields(fields).Error("dependency degraded")
		t.notify("health_degraded", map[string]string{
			"name":                 name,
			"consecutive_failures": strconv.Itoa(failures),
			"threshold":            strconv.Itoa(t.threshold),
			"last_error":           msg,
		})
	case !degraded && t.threshold > 1 && failures == t.threshold-1:
		t.log.WithEvent("health_near_degraded").WithFields(fields).Warn("dependency close to degraded")
	}
	return degraded
}

// RecordSuccess clears the failure count for name.
func (t *Tracker) RecordSuccess(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	e, ok := t.entries[name]
	if !ok || e.failures == 0 {
		t.mu.Unlock()
		return
	}
	prevFailures := e.failures
	wasDegraded := e.degraded
	var downFor time.Duration
	if wasDegraded {
		downFor = t.now().Sub(e.degradedSince)
	}
	e.failures = 0
	e.degraded = false
	e.degradedSince = time.Time{}
	e.lastErr = ""
	t.mu.Unlock()

	entry := t.log.WithEvent("health_recovered").WithFields(logger.Fields{
		"name":                          name,
		"previous_consecutive_failures": prevFailures,
	})
	if !wasDegraded {
		entry.Debug("dependency recovered")
		return
	}
	entry.WithField("degraded_ms", downFor.Milliseconds()).Info("dependency recovered")
	t.notify("health_recovered", map[string]string{
		"name":                          name,
		"previous_consecutive_failures": strconv.Itoa(prevFailures),
		"degraded_for":                  downFor.Round(time.Millisecond).String(),
	})
}

// Degraded lists the degraded names in order.
func (t *Tracker) Degraded() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for name, e := range t.entries {
		if e.degraded {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) Status(name string) Status {
	if t == nil {
		return Status{Name: name}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return Status{Name: name}
	}
	return e.status(name)
}

// Snapshot returns every tracked name, including healthy ones.
func (t *Tracker) Snapshot() []Status {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	out := make([]Status, 0, len(t.entries))
	for name, e := range t.entries {
		out = append(out, e.status(name))
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Tracker) entryLocked(name string) *entry {
	e, ok := t.entries[name]
	if !ok {
		e = &entry{}
		t.entries[name] = e
	}
	return e
}

func (t *Tracker) notify(event string, fields map[string]string) {
	if t.alerter != nil {
		t.alerter.Important(event, fields)
	}
}

func (e *entry) status(name string) Status {
	return Status{
		Name:                name,
		ConsecutiveFailures: e.failures,
		Degraded:            e.degraded,
		DegradedSince:       e.degradedSince,
		LastError:           e.lastErr,
	}
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"exchange-core/internal/logger"
)

type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateError      State = "error"
	StateClosed     State = "closed"
	StateDisposed   State = "disposed"
)

var errRemoteClosed = errors.New("closed by server")

// Topic describes one stream: where to connect, an optional control frame
// sent after every connect, and how to turn a frame into events. Decode may
// return no events for frames that carry none, such as subscribe acks.
type Topic[T any] struct {
	Key       string
	URL       string
	Subscribe any
	Decode    func([]byte) ([]T, error)
}

type Stats struct {
	ID             string
	TopicKey       string
	URL            string
	State          State
	Reconnects     int
	Messages       int64
	LastMessageAt  time.Time
	ReconnectDelay time.Duration
}

// Subscription is a live, self-healing stream of T. Events are delivered on
// C in arrival order; a slow reader slows the socket instead of losing
// events. C is closed once the subscription is disposed.
type Subscription[T any] struct {
	id     string
	topic  Topic[T]
	m      *Manager
	log    *logger.Entry
	ch     chan T
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	state         State
	reconnects    int
	messages      int64
	lastMessageAt time.Time
}

// Subscribe starts a subscription that runs until Close is called or ctx is
// done.
func Subscribe[T any](ctx context.Context, m *Manager, topic Topic[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		id:     uuid.NewString(),
		topic:  topic,
		m:      m,
		ch:     make(chan T, m.opts.BufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
	s.log = m.log.WithFields(logger.Fields{"subscription": s.id, "topic": topic.Key})
	m.register(s.id, s)
	go s.run(ctx)
	return s
}

func (s *Subscription[T]) C() <-chan T { return s.ch }

func (s *Subscription[T]) ID() string { return s.id }

// Close disposes the subscription and waits until its socket is released.
// It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

// Done is closed after the subscription reached the disposed state.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

func (s *Subscription[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ID:             s.id,
		TopicKey:       s.topic.Key,
		URL:            s.topic.URL,
		State:          s.state,
		Reconnects:     s.reconnects,
		Messages:       s.messages,
		LastMessageAt:  s.lastMessageAt,
		ReconnectDelay: s.m.opts.ReconnectDelay,
	}
}

func (s *Subscription[T]) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Subscription[T]) healthName() string {
	return "stream:" + s.topic.Key
}

func (s *Subscription[T]) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)
	defer s.m.unregister(s.id)
	defer s.setState(StateDisposed)

	delay := backoff.NewConstantBackOff(s.m.opts.ReconnectDelay)
	for {
		s.setState(StateConnecting)
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.log.WithEvent("ws_disposed").Debug("subscription disposed")
			return
		}

		entry := s.log.WithField("url", s.topic.URL)
		if errors.Is(err, errRemoteClosed) {
			s.setState(StateClosed)
			entry.WithEvent("ws_closed").Info("stream closed by server")
		} else {
			s.setState(StateError)
			entry = entry.WithError(err).WithEvent("ws_error")
			if s.m.recordFailure(s.healthName(), err) {
				entry.Error("stream failed")
			} else {
				entry.Warn("stream failed")
			}
		}

		wait := delay.NextBackOff()
		s.mu.Lock()
		s.reconnects++
		n := s.reconnects
		s.mu.Unlock()
		s.log.WithEvent("ws_reconnect_scheduled").
			WithFields(logger.Fields{"delay_ms": wait.Milliseconds(), "reconnects": n}).
			Debug("reconnect scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.WithEvent("ws_disposed").Debug("subscription disposed")
			return
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails, the server closes it or ctx
// is done. A nil error means ctx ended the session.
func (s *Subscription[T]) session(ctx context.Context) error {
	conn, _, err := s.m.dialer.DialContext(ctx, s.topic.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.topic.URL, err)
	}
	s.setState(StateOpen)
	s.m.recordSuccess(s.healthName())
	s.log.WithEvent("ws_open").Debug("stream connected")

	readTimeout := s.m.opts.ReadTimeout
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
	conn.SetPingHandler(func(payload string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	sessCtx, stop := context.WithCancel(ctx)
	var wg conc.WaitGroup
	wg.Go(func() {
		<-sessCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	if s.m.opts.PingInterval > 0 {
		wg.Go(func() { s.pingLoop(sessCtx, conn) })
	}

	err = s.subscribe(sessCtx, conn)
	if err == nil {
		err = s.readLoop(sessCtx, conn, extend)
	}
	stop()
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Subscription[T]) subscribe(ctx context.Context, conn *websocket.Conn) error {
	if s.topic.Subscribe == nil {
		return nil
	}
	var frame []byte
	switch v := s.topic.Subscribe.(type) {
	case []byte:
		frame = v
	case string:
		frame = []byte(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal subscribe frame: %w", err)
		}
		frame = data
	}
	if err := s.m.control.Wait(ctx); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write subscribe frame: %w", err)
	}
	return nil
}

func (s *Subscription[T]) readLoop(ctx context.Context, conn *websocket.Conn, extend func()) error {
	for {
		extend()
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errRemoteClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		s.mu.Lock()
		s.messages++
		s.lastMessageAt = time.Now()
		s.mu.Unlock()

		events, err := s.topic.Decode(data)
		if err != nil {
			s.log.WithError(err).WithEvent("ws_decode_failed").
				WithField("bytes", len(data)).Warn("frame skipped")
			continue
		}
		for _, ev := range events {
			select {
			case s.ch <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *Subscription[T]) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.m.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.m.control.Wait(ctx); err != nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.WithError(err).WithEvent("ws_ping_failed").Warn("ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

// Package stream implements the long-lived WebSocket session shared by the
// streaming adapters: one socket per session, a heartbeat loop, subscription
// replay after reconnect, and an observable connection state.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quantfold/venuelink/errs"
	"github.com/quantfold/venuelink/lib/telemetry"
)

const (
	defaultPingInterval  = 25 * time.Second
	pingTimeout          = 5 * time.Second
	controlWriteTimeout  = 5 * time.Second
	maxReconnectInterval = 30 * time.Second
	readLimit            = 2 * 1024 * 1024
	connectWaitTimeout   = 10 * time.Second
)

// State is the observable connection state of a session.
type State int32

const (
	// StateDisconnected means no socket is live.
	StateDisconnected State = iota
	// StateConnecting means the supervisor is dialing or backing off.
	StateConnecting
	// StateConnected means the socket is open and subscriptions are replayed.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config describes one venue's streaming session.
type Config struct {
	Venue string
	URL   string
	// BuildSubscribe renders the venue's subscribe control frame for topics.
	BuildSubscribe func(topics []string) ([]byte, error)
	// BuildUnsubscribe renders the unsubscribe frame; nil disables unsubscribe.
	BuildUnsubscribe func(topics []string) ([]byte, error)
	// Handler receives every inbound data frame for adapter-side demux.
	Handler func(data []byte)
	// PingInterval tunes the heartbeat; defaultPingInterval when zero.
	PingInterval time.Duration
	// PingFrame, when set, is sent as a text keepalive instead of a ws ping
	// (some venues expect an application-level "ping" message).
	PingFrame []byte
	// Errors receives asynchronous session errors; may be nil.
	Errors chan<- error
}

// Session supervises one WebSocket connection. On drop it reconnects with
// exponential backoff and replays the full subscription set, keeping the feed
// alive across transient failures while state stays observable to callers.
type Session struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	topics   map[string]struct{}
	topicsMu sync.Mutex

	state atomic.Int32

	ready     chan struct{}
	readyOnce sync.Once
	started   atomic.Bool

	reconnects metric.Int64Counter
	frames     metric.Int64Counter
}

// NewSession builds a session; Start must be called before Subscribe.
func NewSession(cfg Config) *Session {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	reconnects, _ := telemetry.Meter().Int64Counter("venuelink.stream.reconnects")
	frames, _ := telemetry.Meter().Int64Counter("venuelink.stream.frames")
	return &Session{
		cfg:        cfg,
		topics:     make(map[string]struct{}),
		ready:      make(chan struct{}),
		reconnects: reconnects,
		frames:     frames,
	}
}

// State reports the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Start dials the venue and blocks until the first connection is live or the
// wait times out. The supervisor keeps reconnecting until Stop or ctx cancel.
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		return errs.New(s.cfg.Venue, errs.KindContract, errs.WithMessage("stream session requires context"))
	}
	if !s.started.CompareAndSwap(false, true) {
		return errs.New(s.cfg.Venue, errs.KindContract, errs.WithMessage("stream session already started"))
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	s.state.Store(int32(StateConnecting))

	go func() {
		if err := s.supervise(); err != nil && !errors.Is(err, context.Canceled) {
			s.reportError(fmt.Errorf("session supervisor: %w", err))
		}
		s.state.Store(int32(StateDisconnected))
	}()

	select {
	case <-s.ready:
		return nil
	case <-time.After(connectWaitTimeout):
		s.cancel()
		return errs.New(s.cfg.Venue, errs.KindConnectivity,
			errs.WithMessage("timeout waiting for websocket connection"))
	case <-runCtx.Done():
		return errs.New(s.cfg.Venue, errs.KindConnectivity,
			errs.WithMessage("stream context done"), errs.WithCause(runCtx.Err()))
	}
}

// Stop closes the socket and halts the supervisor.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutdown")
		s.conn = nil
	}
	s.connMu.Unlock()
	s.state.Store(int32(StateDisconnected))
}

// Subscribe registers topics and sends the subscribe frame. Subscribing before
// the session is started fails immediately rather than queueing.
func (s *Session) Subscribe(topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	if !s.started.Load() || s.State() == StateDisconnected {
		return errs.NotConnected(s.cfg.Venue)
	}

	s.topicsMu.Lock()
	fresh := make([]string, 0, len(topics))
	for _, topic := range topics {
		if _, exists := s.topics[topic]; !exists {
			s.topics[topic] = struct{}{}
			fresh = append(fresh, topic)
		}
	}
	s.topicsMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return s.sendControl(s.cfg.BuildSubscribe, fresh)
}

// Unsubscribe removes topics when the venue protocol supports it.
func (s *Session) Unsubscribe(topics []string) error {
	if len(topics) == 0 || s.cfg.BuildUnsubscribe == nil {
		return nil
	}
	s.topicsMu.Lock()
	removed := make([]string, 0, len(topics))
	for _, topic := range topics {
		if _, exists := s.topics[topic]; exists {
			delete(s.topics, topic)
			removed = append(removed, topic)
		}
	}
	s.topicsMu.Unlock()
	if len(removed) == 0 {
		return nil
	}
	return s.sendControl(s.cfg.BuildUnsubscribe, removed)
}

func (s *Session) sendControl(build func([]string) ([]byte, error), topics []string) error {
	if build == nil {
		return nil
	}
	frame, err := build(topics)
	if err != nil {
		return fmt.Errorf("build control frame: %w", err)
	}
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		// The supervisor replays the topic set after the next reconnect.
		return nil
	}
	writeCtx, cancel := context.WithTimeout(s.ctx, controlWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		return errs.New(s.cfg.Venue, errs.KindConnectivity,
			errs.WithMessage("write control frame"), errs.WithCause(err))
	}
	return nil
}

// supervise keeps a single socket alive until the context terminates: dial,
// replay subscriptions, run reader and heartbeat, back off, repeat.
func (s *Session) supervise() error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxReconnectInterval

	for {
		select {
		case <-s.ctx.Done():
			return context.Canceled
		default:
		}

		s.state.Store(int32(StateConnecting))
		conn, _, err := websocket.Dial(s.ctx, s.cfg.URL, nil)
		if err != nil {
			s.recordReconnect("error")
			s.reportError(fmt.Errorf("dial %s: %w", s.cfg.URL, err))
			if !s.sleep(backoffCfg.NextBackOff()) {
				return context.Canceled
			}
			continue
		}
		s.recordReconnect("success")
		conn.SetReadLimit(readLimit)

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.state.Store(int32(StateConnected))
		s.readyOnce.Do(func() { close(s.ready) })
		backoffCfg.Reset()

		if err := s.replayTopics(); err != nil {
			s.reportError(fmt.Errorf("resubscribe after reconnect: %w", err))
		}

		connCtx, connCancel := context.WithCancel(s.ctx)
		errCh := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			errCh <- s.readLoop(connCtx, conn)
		}()
		go func() {
			defer wg.Done()
			errCh <- s.heartbeatLoop(connCtx, conn)
		}()

		firstErr := <-errCh
		connCancel()

		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		s.state.Store(int32(StateConnecting))
		_ = conn.Close(websocket.StatusNormalClosure, "")
		wg.Wait()
		close(errCh)

		loopErr := firstErr
		for e := range errCh {
			if loopErr == nil || errors.Is(loopErr, context.Canceled) {
				loopErr = e
			}
		}
		if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
			s.reportError(fmt.Errorf("connection loop: %w", loopErr))
		}

		if !s.sleep(backoffCfg.NextBackOff()) {
			return context.Canceled
		}
	}
}

func (s *Session) replayTopics() error {
	s.topicsMu.Lock()
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	s.topicsMu.Unlock()
	if len(topics) == 0 {
		return nil
	}
	return s.sendControl(s.cfg.BuildSubscribe, topics)
}

func (s *Session) sleep(d time.Duration) bool {
	if d <= 0 || d == backoff.Stop {
		d = maxReconnectInterval
	}
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// heartbeatLoop pings on a fixed interval independent of data traffic. A ping
// against a closed socket surfaces as an error that triggers reconnect.
func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			var err error
			if len(s.cfg.PingFrame) > 0 {
				err = conn.Write(pingCtx, websocket.MessageText, s.cfg.PingFrame)
			} else {
				err = conn.Ping(pingCtx)
			}
			cancel()
			if err != nil {
				if isClosedErr(err) {
					return context.Canceled
				}
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if isClosedErr(err) {
				return context.Canceled
			}
			if status := websocket.CloseStatus(err); status != -1 {
				if status == websocket.StatusNormalClosure {
					return context.Canceled
				}
				return fmt.Errorf("read: remote closed with status %d", status)
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		if s.frames != nil {
			s.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", s.cfg.Venue)))
		}
		if s.cfg.Handler != nil {
			s.cfg.Handler(data)
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed)
}

func (s *Session) recordReconnect(result string) {
	if s.reconnects == nil {
		return
	}
	s.reconnects.Add(s.ctx, 1, metric.WithAttributes(
		attribute.String("venue", s.cfg.Venue),
		attribute.String("result", result),
	))
}

func (s *Session) reportError(err error) {
	if err == nil || s.cfg.Errors == nil {
		return
	}
	if venue := strings.TrimSpace(s.cfg.Venue); venue != "" {
		err = fmt.Errorf("%s stream: %w", venue, err)
	}
	select {
	case <-s.ctx.Done():
	case s.cfg.Errors <- err:
	default:
	}
}

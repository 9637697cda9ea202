// Package transport provides a reconnecting WebSocket connection that
// delivers parsed frames and lifecycle events to registered subscribers.
//
// A Transport owns at most one live connection. Unintentional closes are
// followed by a reconnect after an exponentially growing delay; an explicit
// Disconnect stops reconnection until the next Connect. Every subscriber
// callback runs to completion before the next one starts, in the order the
// underlying events happened.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rajeee/chatdf/internal/metrics"
)

// Status is the connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Default backoff bounds.
const (
	DefaultBackoffFloor   = time.Second
	DefaultBackoffCeiling = 30 * time.Second
)

// ErrClosed is returned by Send when no connection is open.
var ErrClosed = errors.New("transport not connected")

// CloseEvent describes why a connection ended.
type CloseEvent struct {
	Code        int
	Reason      string
	Intentional bool
	// RetryIn is the delay before the scheduled reconnect, zero if none.
	RetryIn time.Duration
}

// Options configures a Transport. Zero values select defaults.
type Options struct {
	Environment    Environment
	Dialer         Dialer
	Clock          Clock
	Logger         *slog.Logger
	Metrics        *metrics.Collector
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
}

// Transport is a reconnecting duplex connection.
type Transport struct {
	env     Environment
	dialer  Dialer
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Collector

	mu          sync.Mutex
	status      Status
	intentional bool
	gen         uint64
	conn        Conn
	cancelDial  context.CancelFunc
	timer       Timer
	backoff     *backoff.ExponentialBackOff
	credential  string

	writeMu sync.Mutex

	subsMu    sync.RWMutex
	onMessage []func(Frame)
	onOpen    []func()
	onClose   []func(CloseEvent)
	onError   []func(error)
	onStatus  []func(Status)

	delivery serialQueue
}

// New creates a disconnected Transport.
func New(opts Options) *Transport {
	if opts.Environment == nil {
		opts.Environment = StaticEnvironment{}
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BackoffFloor <= 0 {
		opts.BackoffFloor = DefaultBackoffFloor
	}
	if opts.BackoffCeiling < opts.BackoffFloor {
		opts.BackoffCeiling = max(DefaultBackoffCeiling, opts.BackoffFloor)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.BackoffFloor
	b.MaxInterval = opts.BackoffCeiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &Transport{
		env:     opts.Environment,
		dialer:  opts.Dialer,
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "transport"),
		metrics: opts.Metrics,
		status:  StatusDisconnected,
		backoff: b,
	}
}

// OnMessage registers a subscriber for parsed frames.
func (t *Transport) OnMessage(cb func(Frame)) {
	t.subsMu.Lock()
	t.onMessage = append(t.onMessage, cb)
	t.subsMu.Unlock()
}

// OnOpen registers a subscriber for successful connections.
func (t *Transport) OnOpen(cb func()) {
	t.subsMu.Lock()
	t.onOpen = append(t.onOpen, cb)
	t.subsMu.Unlock()
}

// OnClose registers a subscriber for connection closes.
func (t *Transport) OnClose(cb func(CloseEvent)) {
	t.subsMu.Lock()
	t.onClose = append(t.onClose, cb)
	t.subsMu.Unlock()
}

// OnError registers a subscriber for connection errors.
func (t *Transport) OnError(cb func(error)) {
	t.subsMu.Lock()
	t.onError = append(t.onError, cb)
	t.subsMu.Unlock()
}

// OnStatus registers a subscriber for status changes.
func (t *Transport) OnStatus(cb func(Status)) {
	t.subsMu.Lock()
	t.onStatus = append(t.onStatus, cb)
	t.subsMu.Unlock()
}

// Status returns the current connection state.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Connect opens a connection, superseding any attempt already underway.
// It resets the backoff to its floor. The outcome is reported through
// the open, close and error subscribers.
func (t *Transport) Connect(credential string) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.stopTimerLocked()
	old := t.detachLocked()
	t.backoff.Reset()
	t.intentional = false
	t.credential = credential
	t.setStatusLocked(StatusConnecting)
	t.mu.Unlock()
	t.delivery.drain()

	if old != nil {
		_ = old.Close()
	}

	go t.open(gen)
}

// Disconnect closes the connection and cancels any pending reconnect.
// No reconnect is scheduled as a result. Safe to call repeatedly.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.intentional = true
	t.stopTimerLocked()
	conn := t.detachLocked()
	wasActive := t.status != StatusDisconnected
	t.setStatusLocked(StatusDisconnected)
	t.mu.Unlock()
	t.delivery.drain()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
		t.writeMu.Unlock()
		_ = conn.Close()
	}

	if wasActive {
		t.logger.Info("disconnected")
	}
}

// Send writes v as a JSON text frame on the live connection.
func (t *Transport) Send(v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// open dials and, on success, runs the read loop for generation gen.
func (t *Transport) open(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	addr := BuildURL(t.env, t.credential)
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelDial = cancel
	t.mu.Unlock()

	t.logger.Debug("dialing", "url", redact(addr))
	start := time.Now()
	conn, err := t.dialer.Dial(ctx, addr)
	cancel()

	t.mu.Lock()
	if gen != t.gen || t.intentional {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	t.cancelDial = nil
	if err != nil {
		t.mu.Unlock()
		t.logger.Warn("dial failed", "error", err)
		t.deliverError(gen, fmt.Errorf("dial: %w", err))
		t.handleClose(gen, err)
		return
	}
	t.conn = conn
	t.setStatusLocked(StatusConnected)
	t.mu.Unlock()
	t.delivery.drain()

	t.metrics.RecordTiming(metrics.OpDial, time.Since(start))
	t.logger.Info("connected", "url", redact(addr))
	t.deliverOpen(gen)

	t.readLoop(gen, conn)
}

// readLoop reads frames until the connection fails or is replaced.
func (t *Transport) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			quiet := gen != t.gen || t.intentional
			t.mu.Unlock()
			if !quiet && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.deliverError(gen, fmt.Errorf("read: %w", err))
			}
			t.handleClose(gen, err)
			return
		}

		frame, ok := ParseFrame(data)
		if !ok {
			t.metrics.Inc(metrics.CounterFramesDropped)
			t.logger.Debug("dropping unparseable frame", "bytes", len(data))
			continue
		}
		t.metrics.Inc(metrics.CounterFramesReceived)
		t.deliverMessage(gen, frame)
	}
}

// handleClose reports the end of generation gen and, unless the close was
// intentional, schedules the next attempt.
func (t *Transport) handleClose(gen uint64, cause error) {
	code, reason := closeDetails(cause)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	ev := CloseEvent{Code: code, Reason: reason, Intentional: t.intentional}
	if !t.intentional {
		delay := t.backoff.NextBackOff()
		ev.RetryIn = delay
		t.stopTimerLocked()
		t.timer = t.clock.AfterFunc(delay, func() { t.reconnect(gen) })
		t.setStatusLocked(StatusReconnecting)
	} else {
		t.setStatusLocked(StatusDisconnected)
	}
	t.delivery.enqueue(func() {
		for _, cb := range t.closeSubs() {
			cb(ev)
		}
	})
	t.mu.Unlock()
	t.delivery.drain()

	if !ev.Intentional {
		t.logger.Warn("connection lost, reconnect scheduled", "code", code, "reason", reason, "retry_in", ev.RetryIn)
	}
}

// reconnect is the timer callback for a scheduled attempt.
func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.intentional {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.gen++
	next := t.gen
	t.mu.Unlock()

	t.metrics.Inc(metrics.CounterReconnects)
	t.logger.Info("reconnecting")
	t.open(next)
}

// stopTimerLocked cancels a pending reconnect. Caller holds t.mu.
func (t *Transport) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// detachLocked cancels an in-flight dial and returns the live connection,
// if any, for the caller to close outside the lock. Caller holds t.mu.
func (t *Transport) detachLocked() Conn {
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	conn := t.conn
	t.conn = nil
	return conn
}

// setStatusLocked records s and queues a status notification on change.
// Caller holds t.mu, which keeps notifications in transition order, and
// drains the delivery queue after unlocking.
func (t *Transport) setStatusLocked(s Status) {
	if t.status == s {
		return
	}
	t.status = s
	t.delivery.enqueue(func() {
		for _, cb := range t.statusSubs() {
			cb(s)
		}
	})
}

func (t *Transport) deliverOpen(gen uint64) {
	t.deliver(func() {
		if !t.current(gen) {
			return
		}
		for _, cb := range t.openSubs() {
			cb()
		}
	})
}

func (t *Transport) deliverMessage(gen uint64, frame Frame) {
	t.deliver(func() {
		if !t.current(gen) {
			return
		}
		for _, cb := range t.messageSubs() {
			cb(frame)
		}
	})
}

func (t *Transport) deliverError(gen uint64, err error) {
	t.deliver(func() {
		if !t.current(gen) {
			return
		}
		for _, cb := range t.errorSubs() {
			cb(err)
		}
	})
}

// deliver runs f on the serial delivery queue. Must not be called with
// t.mu held; use t.delivery.enqueue and drain after unlocking instead.
func (t *Transport) deliver(f func()) {
	t.delivery.run(f)
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen && !t.intentional
}

func (t *Transport) messageSubs() []func(Frame) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()
	return t.onMessage
}

func (t *Transport) openSubs() []func() {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()
	return t.onOpen
}

func (t *Transport) closeSubs() []func(CloseEvent) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()
	return t.onClose
}

func (t *Transport) errorSubs() []func(error) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()
	return t.onError
}

func (t *Transport) statusSubs() []func(Status) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()
	return t.onStatus
}

func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if err == nil {
		return websocket.CloseNormalClosure, ""
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// redact hides the credential in logged addresses.
func redact(addr string) string {
	if i := strings.Index(addr, "token="); i >= 0 {
		return addr[:i] + "token=REDACTED"
	}
	return addr
}

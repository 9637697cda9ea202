package transport_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rajeee/chatdf/internal/metrics"
	"github.com/rajeee/chatdf/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fireAndWait fires the pending timer and waits for the failed attempt to
// schedule the next one.
func fireAndWait(t *testing.T, c *fakeClock) {
	t.Helper()
	before := c.count()
	c.fireLast()
	require.Eventually(t, func() bool { return c.count() == before+1 }, waitFor, tick)
}

type harness struct {
	tr      *transport.Transport
	clock   *fakeClock
	dialer  *fakeDialer
	metrics *metrics.Collector
}

func newHarness(t *testing.T, fail bool) *harness {
	t.Helper()
	h := &harness{
		clock:   &fakeClock{},
		dialer:  &fakeDialer{fail: fail},
		metrics: metrics.NewCollector(),
	}
	h.tr = transport.New(transport.Options{
		Environment: transport.StaticEnvironment{Override: "ws://backend:8000/ws"},
		Dialer:      h.dialer,
		Clock:       h.clock,
		Logger:      quietLogger(),
		Metrics:     h.metrics,
	})
	t.Cleanup(h.tr.Disconnect)
	return h
}

// recorder collects events from every channel in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []string
	frames []transport.Frame
	closes []transport.CloseEvent
	errs   []error
}

func (r *recorder) attach(tr *transport.Transport) {
	tr.OnMessage(func(f transport.Frame) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "message:"+f.Type)
		r.frames = append(r.frames, f)
	})
	tr.OnOpen(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "open")
	})
	tr.OnClose(func(ev transport.CloseEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "close")
		r.closes = append(r.closes, ev)
	})
	tr.OnError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "error")
		r.errs = append(r.errs, err)
	})
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	h := newHarness(t, true)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)

	// Each fired timer makes one more failing attempt that schedules the next.
	for i := 0; i < 6; i++ {
		fireAndWait(t, h.clock)
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	assert.Equal(t, want, h.clock.delays())
	assert.Equal(t, 7, h.dialer.attempts())
	assert.Equal(t, transport.StatusReconnecting, h.tr.Status())
	assert.Equal(t, int64(6), h.metrics.Count(metrics.CounterReconnects))
}

func TestConnectResetsBackoff(t *testing.T) {
	h := newHarness(t, true)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)
	fireAndWait(t, h.clock)
	fireAndWait(t, h.clock)
	require.Equal(t, 4*time.Second, h.clock.last().d)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return h.clock.count() == 4 }, waitFor, tick)
	assert.Equal(t, time.Second, h.clock.last().d, "fresh connect restarts at the floor")
}

func TestSuccessfulReconnectKeepsBackoff(t *testing.T) {
	h := newHarness(t, false)
	rec := &recorder{}
	rec.attach(h.tr)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return rec.count("open") == 1 }, waitFor, tick)

	h.dialer.conn(0).drop()
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)
	assert.Equal(t, time.Second, h.clock.last().d)

	h.clock.fireLast()
	require.Eventually(t, func() bool { return rec.count("open") == 2 }, waitFor, tick)

	h.dialer.conn(1).drop()
	require.Eventually(t, func() bool { return h.clock.count() == 2 }, waitFor, tick)
	assert.Equal(t, 2*time.Second, h.clock.last().d, "only Connect restores the floor")
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	h := newHarness(t, true)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)
	attempts := h.dialer.attempts()

	h.tr.Disconnect()
	assert.True(t, h.clock.last().stopped, "pending reconnect is cancelled")

	// Even a timer that slipped past Stop must not dial.
	h.clock.fireLast()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, attempts, h.dialer.attempts())
	assert.Equal(t, transport.StatusDisconnected, h.tr.Status())

	// Idempotent.
	h.tr.Disconnect()
	h.tr.Disconnect()
	assert.Equal(t, transport.StatusDisconnected, h.tr.Status())
}

func TestIntentionalCloseIsReportedWithoutRetry(t *testing.T) {
	h := newHarness(t, false)
	rec := &recorder{}
	rec.attach(h.tr)

	h.tr.Connect("abc123")
	require.Eventually(t, func() bool { return rec.count("open") == 1 }, waitFor, tick)

	h.tr.Disconnect()
	require.Eventually(t, func() bool { return rec.count("close") == 1 }, waitFor, tick)

	rec.mu.Lock()
	ev := rec.closes[0]
	rec.mu.Unlock()
	assert.True(t, ev.Intentional)
	assert.Zero(t, ev.RetryIn)
	assert.Zero(t, h.clock.count())
	assert.Zero(t, rec.count("error"), "intentional close is not an error")
	assert.NotEmpty(t, h.dialer.conn(0).writes(), "close frame is sent")
}

func TestUnexpectedDropReportsCloseAndSchedulesRetry(t *testing.T) {
	h := newHarness(t, false)
	rec := &recorder{}
	rec.attach(h.tr)

	var statuses []transport.Status
	var mu sync.Mutex
	h.tr.OnStatus(func(s transport.Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	h.tr.Connect("")
	require.Eventually(t, func() bool { return rec.count("open") == 1 }, waitFor, tick)
	h.dialer.conn(0).drop()
	require.Eventually(t, func() bool { return rec.count("close") == 1 }, waitFor, tick)

	rec.mu.Lock()
	ev := rec.closes[0]
	rec.mu.Unlock()
	assert.False(t, ev.Intentional)
	assert.Equal(t, time.Second, ev.RetryIn)
	assert.Equal(t, transport.StatusReconnecting, h.tr.Status())

	h.clock.fireLast()
	require.Eventually(t, func() bool { return rec.count("open") == 2 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []transport.Status{
		transport.StatusConnecting,
		transport.StatusConnected,
		transport.StatusReconnecting,
		transport.StatusConnected,
	}, statuses)
}

func TestDialFailureReportsErrorThenClose(t *testing.T) {
	h := newHarness(t, true)
	rec := &recorder{}
	rec.attach(h.tr)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return rec.count("close") == 1 }, waitFor, tick)
	assert.Equal(t, []string{"error", "close"}, rec.snapshot())
}

func TestUnparseableFramesAreDropped(t *testing.T) {
	h := newHarness(t, false)
	rec := &recorder{}
	rec.attach(h.tr)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return rec.count("open") == 1 }, waitFor, tick)

	conn := h.dialer.conn(0)
	conn.send("not json")
	conn.send("[1,2,3]")
	conn.send("null")
	conn.send(`{"type":"chat_token","token":"x"}`)

	require.Eventually(t, func() bool { return rec.count("message:chat_token") == 1 }, waitFor, tick)
	assert.Equal(t, []string{"open", "message:chat_token"}, rec.snapshot())
	assert.Zero(t, rec.count("error"))
	assert.Equal(t, int64(3), h.metrics.Count(metrics.CounterFramesDropped))
	assert.Equal(t, int64(1), h.metrics.Count(metrics.CounterFramesReceived))
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	h := newHarness(t, false)

	var mu sync.Mutex
	var calls []int
	for i := 1; i <= 3; i++ {
		id := i
		h.tr.OnMessage(func(transport.Frame) {
			mu.Lock()
			calls = append(calls, id)
			mu.Unlock()
		})
	}
	opened := make(chan struct{}, 1)
	h.tr.OnOpen(func() { opened <- struct{}{} })

	h.tr.Connect("")
	<-opened

	conn := h.dialer.conn(0)
	conn.send(`{"type":"a"}`)
	conn.send(`{"type":"b"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 6
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, calls)
}

func TestCallbacksNeverOverlap(t *testing.T) {
	h := newHarness(t, false)

	var mu sync.Mutex
	inside, overlaps, seen := 0, 0, 0
	h.tr.OnMessage(func(transport.Frame) {
		mu.Lock()
		inside++
		if inside > 1 {
			overlaps++
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inside--
		seen++
		mu.Unlock()
	})
	opened := make(chan struct{}, 1)
	h.tr.OnOpen(func() { opened <- struct{}{} })

	h.tr.Connect("")
	<-opened

	conn := h.dialer.conn(0)
	for i := 0; i < 10; i++ {
		conn.send(`{"type":"chat_token","token":"t"}`)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 10
	}, waitFor, tick)
	assert.Zero(t, overlaps)
}

func TestConnectFromCallbackDoesNotDeadlock(t *testing.T) {
	h := newHarness(t, false)

	reconnected := make(chan struct{})
	var once sync.Once
	h.tr.OnMessage(func(f transport.Frame) {
		if f.Type == "reconnect" {
			once.Do(func() {
				h.tr.Connect("")
				close(reconnected)
			})
		}
	})
	opens := make(chan struct{}, 4)
	h.tr.OnOpen(func() { opens <- struct{}{} })

	h.tr.Connect("")
	<-opens
	h.dialer.conn(0).send(`{"type":"reconnect"}`)

	select {
	case <-reconnected:
	case <-time.After(waitFor):
		t.Fatal("Connect from inside a subscriber blocked")
	}
	select {
	case <-opens:
	case <-time.After(waitFor):
		t.Fatal("superseding connection never opened")
	}
	assert.Equal(t, 2, h.dialer.attempts())
}

func TestFramesFromSupersededConnectionAreIgnored(t *testing.T) {
	h := newHarness(t, false)
	rec := &recorder{}
	rec.attach(h.tr)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return rec.count("open") == 1 }, waitFor, tick)
	first := h.dialer.conn(0)

	h.tr.Connect("")
	require.Eventually(t, func() bool { return rec.count("open") == 2 }, waitFor, tick)

	first.send(`{"type":"stale"}`)
	h.dialer.conn(1).send(`{"type":"fresh"}`)
	require.Eventually(t, func() bool { return rec.count("message:fresh") == 1 }, waitFor, tick)
	assert.Zero(t, rec.count("message:stale"))
	assert.Zero(t, rec.count("close"), "replaced connection closes silently")
}

func TestSend(t *testing.T) {
	h := newHarness(t, false)
	assert.ErrorIs(t, h.tr.Send(map[string]string{"type": "ping"}), transport.ErrClosed)

	opened := make(chan struct{}, 1)
	h.tr.OnOpen(func() { opened <- struct{}{} })
	h.tr.Connect("")
	<-opened

	require.NoError(t, h.tr.Send(map[string]string{"type": "ping"}))
	writes := h.dialer.conn(0).writes()
	require.Len(t, writes, 1)

	var got map[string]string
	require.NoError(t, json.Unmarshal(writes[0], &got))
	assert.Equal(t, "ping", got["type"])
}

func TestConnectUsesCredential(t *testing.T) {
	h := newHarness(t, true)
	h.tr.Connect("abc123")
	require.Eventually(t, func() bool { return h.dialer.attempts() == 1 }, waitFor, tick)

	h.dialer.mu.Lock()
	defer h.dialer.mu.Unlock()
	assert.Equal(t, "ws://backend:8000/ws?token=abc123", h.dialer.urls[0])
}

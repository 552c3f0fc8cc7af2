package alertstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/notify"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) afterFunc(d time.Duration, f func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[len(s.timers)-1]
}

// feed is a test alert server. Every accepted connection is handed to
// onConn; the connection closes when onConn returns.
type feed struct {
	srv   *httptest.Server
	conns atomic.Int32
}

func newFeed(t *testing.T, onConn func(conn *websocket.Conn)) *feed {
	t.Helper()
	f := &feed{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.conns.Add(1)
		onConn(conn)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *feed) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

func expectGetAlerts(t *testing.T, conn *websocket.Conn) {
	var msg envelope
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeGetAlerts, msg.Type)
}

func liveAlert(id string, typ domain.LiveAlertType) domain.LiveAlert {
	return domain.LiveAlert{
		UPSID: id,
		Alert: domain.LiveAlertBody{Type: typ, Title: "Overheat", Message: "temp high", Metric: "temperature", Value: 52, Threshold: 45},
	}
}

func writeMsg(t *testing.T, conn *websocket.Conn, typ string, data any) {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(envelope{Type: typ, Data: raw}))
}

func newTestClient(t *testing.T, url string, sched *fakeScheduler, opts ...Option) *Client {
	t.Helper()
	opts = append(opts, withAfterFunc(sched.afterFunc))
	c, err := New(url, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrMissingURL)
}

func TestSeedsWithGetAlertsAndReplacesBuffer(t *testing.T) {
	release := make(chan struct{})
	f := newFeed(t, func(conn *websocket.Conn) {
		expectGetAlerts(t, conn)
		writeMsg(t, conn, TypeCurrentAlerts, []domain.LiveAlert{
			liveAlert("U1", domain.LiveAlertWarning),
			liveAlert("U2", domain.LiveAlertCritical),
		})
		<-release
	})
	defer close(release)

	c := newTestClient(t, f.url(), &fakeScheduler{})
	c.Start()

	require.Eventually(t, func() bool { return len(c.Alerts()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, "U1", c.Alerts()[0].UPSID)
	assert.Zero(t, c.Unread())
}

func TestBurstKeepsTenNewestFirst(t *testing.T) {
	release := make(chan struct{})
	f := newFeed(t, func(conn *websocket.Conn) {
		expectGetAlerts(t, conn)
		for i := 0; i < 15; i++ {
			writeMsg(t, conn, TypeNewAlert, liveAlert(fmt.Sprintf("U%d", i), domain.LiveAlertCritical))
		}
		<-release
	})
	defer close(release)

	var mu sync.Mutex
	var notes []notify.Notification
	sink := notify.Func(func(_ context.Context, n notify.Notification) error {
		mu.Lock()
		notes = append(notes, n)
		mu.Unlock()
		return nil
	})

	c := newTestClient(t, f.url(), &fakeScheduler{}, WithNotifier(sink))
	c.Start()

	require.Eventually(t, func() bool { return c.Unread() == 15 }, time.Second, 5*time.Millisecond)
	alerts := c.Alerts()
	require.Len(t, alerts, BufferSize)
	assert.Equal(t, "U14", alerts[0].UPSID)
	assert.Equal(t, "U5", alerts[9].UPSID)
	assert.Len(t, c.Recent(), DisplaySize)

	mu.Lock()
	require.Len(t, notes, 15)
	assert.Equal(t, notify.PriorityCritical, notes[0].Priority)
	assert.Equal(t, notify.CriticalDuration, notes[0].Duration)
	mu.Unlock()

	c.MarkRead()
	assert.Zero(t, c.Unread())
}

func TestIgnoresUnknownAndMalformedMessages(t *testing.T) {
	release := make(chan struct{})
	f := newFeed(t, func(conn *websocket.Conn) {
		expectGetAlerts(t, conn)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		writeMsg(t, conn, "mystery", map[string]int{"x": 1})
		writeMsg(t, conn, TypeStatusUpdate, map[string]string{"upsId": "U1"})
		writeMsg(t, conn, TypePong, nil)
		writeMsg(t, conn, TypeNewAlert, map[string]string{"upsId": ""})
		writeMsg(t, conn, TypeNewAlert, liveAlert("U9", domain.LiveAlertWarning))
		<-release
	})
	defer close(release)

	c := newTestClient(t, f.url(), &fakeScheduler{})
	c.Start()

	require.Eventually(t, func() bool { return c.Unread() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Connected, c.State())
	require.Len(t, c.Alerts(), 1)
	assert.Equal(t, "U9", c.Alerts()[0].UPSID)
}

func TestCloseSchedulesExactlyOneRetry(t *testing.T) {
	f := newFeed(t, func(conn *websocket.Conn) {
		expectGetAlerts(t, conn)
	})
	sched := &fakeScheduler{}
	c := newTestClient(t, f.url(), sched)
	c.Start()

	require.Eventually(t, func() bool { return sched.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, DefaultReconnectDelay, sched.last().d)
	assert.EqualValues(t, 1, f.conns.Load())

	// Nothing is dialed until the timer fires.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, f.conns.Load())
	assert.Equal(t, 1, sched.count())

	sched.last().f()
	require.Eventually(t, func() bool { return f.conns.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestRetryIsNoOpWhileConnected(t *testing.T) {
	release := make(chan struct{})
	f := newFeed(t, func(conn *websocket.Conn) {
		expectGetAlerts(t, conn)
		<-release
	})
	defer close(release)

	c := newTestClient(t, f.url(), &fakeScheduler{})
	c.Start()
	require.Eventually(t, func() bool { return c.State() == Connected }, time.Second, 5*time.Millisecond)

	c.Start()
	c.connect()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, f.conns.Load())
}

func TestDialFailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	sched := &fakeScheduler{}
	c := newTestClient(t, url, sched, WithReconnectDelay(2*time.Second))
	c.Start()

	require.Eventually(t, func() bool { return sched.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2*time.Second, sched.last().d)
	assert.Equal(t, Disconnected, c.State())
}

func TestCloseCancelsRetryAndStaysDown(t *testing.T) {
	f := newFeed(t, func(conn *websocket.Conn) {
		expectGetAlerts(t, conn)
	})
	sched := &fakeScheduler{}
	c, err := New(f.url(), withAfterFunc(sched.afterFunc))
	require.NoError(t, err)
	c.Start()

	require.Eventually(t, func() bool { return sched.count() == 1 }, time.Second, 5*time.Millisecond)
	pending := sched.last()
	c.Close()
	assert.True(t, pending.stopped)

	pending.f()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, f.conns.Load())
	assert.Equal(t, Disconnected, c.State())
}

func TestPingKeepsConnectionAlive(t *testing.T) {
	pings := make(chan struct{}, 4)
	f := newFeed(t, func(conn *websocket.Conn) {
		expectGetAlerts(t, conn)
		for {
			var msg envelope
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == TypePing {
				select {
				case pings <- struct{}{}:
				default:
				}
				writeMsg(t, conn, TypePong, nil)
			}
		}
	})

	c := newTestClient(t, f.url(), &fakeScheduler{}, WithPingInterval(10*time.Millisecond))
	c.Start()

	select {
	case <-pings:
	case <-time.After(time.Second):
		t.Fatal("no ping received")
	}
	assert.Equal(t, Connected, c.State())
}

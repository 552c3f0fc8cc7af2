// Package alertstream consumes the pushed alert feed over a websocket and
// keeps a bounded most-recent-first buffer of alerts.
package alertstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/metrics"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/notify"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	BufferSize            = 10
	DisplaySize           = 5
	DefaultReconnectDelay = 5 * time.Second
	writeWait             = 10 * time.Second
)

var ErrMissingURL = errors.New("alert stream url is empty")

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Message types of the feed.
const (
	TypeGetAlerts     = "get_alerts"
	TypePing          = "ping"
	TypeCurrentAlerts = "current_alerts"
	TypeNewAlert      = "new_alert"
	TypeStatusUpdate  = "status_update"
	TypePong          = "pong"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type stopper interface{ Stop() bool }

type Client struct {
	url            string
	dialer         *websocket.Dialer
	notifier       notify.Notifier
	reconnectDelay time.Duration
	pingInterval   time.Duration
	afterFunc      func(time.Duration, func()) stopper
	validate       *validator.Validate

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	retry  stopper
	closed bool
	alerts []domain.LiveAlert
	unread int

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option { return func(c *Client) { c.dialer = d } }

func WithNotifier(n notify.Notifier) Option { return func(c *Client) { c.notifier = n } }

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithPingInterval sends {"type":"ping"} while connected. Zero disables it.
func WithPingInterval(d time.Duration) Option { return func(c *Client) { c.pingInterval = d } }

func withAfterFunc(fn func(time.Duration, func()) stopper) Option {
	return func(c *Client) { c.afterFunc = fn }
}

func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, ErrMissingURL
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:            url,
		dialer:         websocket.DefaultDialer,
		notifier:       notify.Log{},
		reconnectDelay: DefaultReconnectDelay,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		validate: validator.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start opens the connection. It is a no-op unless the client is
// disconnected.
func (c *Client) Start() { c.connect() }

// Close tears the connection down and cancels any pending retry. The client
// cannot be restarted.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.wg.Wait()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Alerts returns the whole buffer, newest first.
func (c *Client) Alerts() []domain.LiveAlert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.LiveAlert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Recent returns the displayed part of the buffer.
func (c *Client) Recent() []domain.LiveAlert {
	all := c.Alerts()
	if len(all) > DisplaySize {
		all = all[:DisplaySize]
	}
	return all
}

func (c *Client) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

func (c *Client) MarkRead() {
	c.mu.Lock()
	c.unread = 0
	c.mu.Unlock()
}

// setState must be called with c.mu held.
func (c *Client) setState(s State) {
	c.state = s
	metrics.StreamState.Set(float64(s))
}

func (c *Client) connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.closed || c.state != Disconnected {
		return
	}
	c.setState(Connecting)
	c.wg.Add(1)
	go c.run()
}

func (c *Client) run() {
	defer c.wg.Done()

	conn, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", c.url).Msg("alert stream dial failed")
		c.handleClose(nil)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		c.handleClose(nil)
		return
	}
	c.conn = conn
	c.setState(Connected)
	c.mu.Unlock()
	log.Info().Str("url", c.url).Msg("alert stream connected")

	if err := c.send(conn, envelope{Type: TypeGetAlerts}); err != nil {
		log.Warn().Err(err).Msg("alert stream seed request failed")
	}

	done := make(chan struct{})
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.keepAlive(conn, done)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("alert stream read ended")
			}
			break
		}
		c.handleMessage(data)
	}
	close(done)
	c.handleClose(conn)
}

func (c *Client) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := c.send(conn, envelope{Type: TypePing}); err != nil {
				log.Debug().Err(err).Msg("alert stream ping failed")
				return
			}
		}
	}
}

func (c *Client) send(conn *websocket.Conn, msg envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// handleClose is the only path that schedules a reconnect.
func (c *Client) handleClose(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn != nil && c.conn == conn {
		c.conn = nil
	}
	c.setState(Disconnected)
	if c.closed {
		return
	}
	c.scheduleRetryLocked()
}

func (c *Client) scheduleRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = c.afterFunc(c.reconnectDelay, c.connect)
	metrics.StreamReconnects.Inc()
	log.Info().Dur("delay", c.reconnectDelay).Msg("alert stream reconnect scheduled")
}

func (c *Client) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Msg("ignoring non-JSON alert stream message")
		return
	}

	switch env.Type {
	case TypeCurrentAlerts:
		var list []domain.LiveAlert
		if err := json.Unmarshal(env.Data, &list); err != nil {
			log.Warn().Err(err).Msg("ignoring malformed current_alerts")
			return
		}
		valid := list[:0]
		for _, a := range list {
			if err := c.validate.Struct(a); err != nil {
				log.Warn().Err(err).Msg("dropping invalid alert from current_alerts")
				continue
			}
			valid = append(valid, a)
		}
		if len(valid) > BufferSize {
			valid = valid[:BufferSize]
		}
		c.mu.Lock()
		c.alerts = valid
		c.mu.Unlock()

	case TypeNewAlert:
		var a domain.LiveAlert
		if err := json.Unmarshal(env.Data, &a); err != nil {
			log.Warn().Err(err).Msg("ignoring malformed new_alert")
			return
		}
		if err := c.validate.Struct(a); err != nil {
			log.Warn().Err(err).Msg("ignoring invalid new_alert")
			return
		}
		c.push(a)

	case TypeStatusUpdate, TypePong:
		log.Debug().Str("type", env.Type).Msg("alert stream message")

	default:
		log.Warn().Str("type", env.Type).Msg("ignoring unknown alert stream message")
	}
}

// push prepends a by arrival order, regardless of its embedded timestamp.
func (c *Client) push(a domain.LiveAlert) {
	c.mu.Lock()
	next := make([]domain.LiveAlert, 0, BufferSize)
	next = append(next, a)
	next = append(next, c.alerts...)
	if len(next) > BufferSize {
		next = next[:BufferSize]
	}
	c.alerts = next
	c.unread++
	c.mu.Unlock()

	metrics.LiveAlerts.WithLabelValues(string(a.Alert.Type)).Inc()

	n, ok := notify.FromAlert(a, time.Now())
	if !ok || c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(c.ctx, n); err != nil {
		log.Error().Err(err).Str("ups_id", a.UPSID).Msg("alert notification failed")
	}
}

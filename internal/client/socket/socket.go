// Package socket owns the client's single long-lived websocket connection.
// Requests are correlated with their acks by id and bounded by a timeout;
// push events are dispatched to subscribers in delivery order.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cloudzz-dev/cldzchat/internal/client/metrics"
	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64

	DefaultRequestTimeout = 10 * time.Second
)

var (
	ErrNotConnected     = errors.New("socket: not connected")
	ErrAlreadyConnected = errors.New("socket: already connected")
	ErrNoIdentity       = errors.New("socket: missing user identity")
	ErrTimeout          = errors.New("socket: request timed out")
	ErrDisconnected     = errors.New("socket: connection closed")
)

// Handler receives the raw payload of a push event.
type Handler func(payload json.RawMessage)

// Status describes a connection transition.
type Status struct {
	Connected  bool
	UserID     string
	Generation uint64
	Err        error
}

type Option func(*Manager)

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l.Named("socket") }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

type pendingRequest struct {
	event string
	ch    chan Ack
}

type connection struct {
	ws         *websocket.Conn
	userID     string
	generation uint64
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	pending map[string]pendingRequest
}

type handlerEntry struct {
	id uint64
	fn Handler
}

type listenerEntry struct {
	id uint64
	fn func(Status)
}

type Manager struct {
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	conn       *connection
	dialing    bool
	generation uint64

	hmu       sync.RWMutex
	nextSubID uint64
	handlers  map[string][]handlerEntry
	listeners []listenerEntry
}

func New(serverURL string, opts ...Option) *Manager {
	m := &Manager{
		url:      serverURL,
		dialer:   websocket.DefaultDialer,
		timeout:  DefaultRequestTimeout,
		log:      zap.NewNop(),
		handlers: make(map[string][]handlerEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) dialURL(userID string) (string, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens the connection for userID. Only one connection may be live;
// reconnecting requires Disconnect first.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoIdentity
	}

	m.mu.Lock()
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.dialing = true
	m.mu.Unlock()

	ws, err := m.dial(ctx, userID)

	m.mu.Lock()
	m.dialing = false
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.generation++
	c := &connection{
		ws:         ws,
		userID:     userID,
		generation: m.generation,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		pending:    make(map[string]pendingRequest),
	}
	m.conn = c
	m.mu.Unlock()

	go m.writePump(c)
	go m.readPump(c)

	m.metrics.SetConnected(true)
	m.log.Info("connected", zap.String("user_id", userID), zap.Uint64("generation", c.generation))
	m.notify(Status{Connected: true, UserID: userID, Generation: c.generation})
	return nil
}

func (m *Manager) dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	target, err := m.dialURL(userID)
	if err != nil {
		return nil, err
	}
	ws, resp, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", m.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	ws.SetReadLimit(maxMessageSize)
	return ws, nil
}

// Disconnect closes the live connection. Pending requests fail with
// ErrDisconnected. It is a no-op when not connected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	m.teardown(c, nil)
	return nil
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// UserID returns the identity of the live connection, or "".
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.userID
}

func (m *Manager) teardown(c *connection, cause error) {
	c.closeOnce.Do(func() {
		m.mu.Lock()
		if m.conn == c {
			m.conn = nil
		}
		m.mu.Unlock()

		close(c.done)
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.ws.Close()

		m.metrics.SetConnected(false)
		if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			m.log.Warn("connection lost", zap.String("user_id", c.userID), zap.Error(cause))
		} else {
			m.log.Info("disconnected", zap.String("user_id", c.userID))
		}
		m.notify(Status{Connected: false, UserID: c.userID, Generation: c.generation, Err: cause})
	})
}

func (m *Manager) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				m.teardown(c, err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.teardown(c, err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (m *Manager) readPump(c *connection) {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			m.teardown(c, err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f models.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			m.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		if f.Type == models.EventAck {
			m.resolve(c, f)
			continue
		}
		m.dispatch(f)
	}
}

func (m *Manager) resolve(c *connection, f models.Frame) {
	c.mu.Lock()
	p, ok := c.pending[f.ID]
	c.mu.Unlock()
	if !ok {
		m.log.Debug("ack for unknown request", zap.String("id", f.ID))
		return
	}

	ack, err := ParseAck(p.event, f.Payload)
	if err != nil {
		m.log.Warn("malformed ack", zap.String("event", p.event), zap.Error(err))
		ack = Ack{Event: p.event, Message: "malformed response"}
	}
	select {
	case p.ch <- ack:
	default:
	}
}

func (m *Manager) dispatch(f models.Frame) {
	m.hmu.RLock()
	entries := append([]handlerEntry(nil), m.handlers[f.Type]...)
	m.hmu.RUnlock()

	m.metrics.IncPushEvent(f.Type)
	if len(entries) == 0 {
		m.log.Debug("unhandled push event", zap.String("event", f.Type))
		return
	}
	for _, e := range entries {
		e.fn(f.Payload)
	}
}

// Request emits event with payload and waits for its ack. A {success:false}
// ack is returned together with an *AckError.
func (m *Manager) Request(ctx context.Context, event string, payload any) (Ack, error) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return Ack{}, ErrNotConnected
	}

	body := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Ack{}, fmt.Errorf("encode %s payload: %w", event, err)
		}
		body = b
	}

	id := uuid.NewString()
	frame, err := json.Marshal(models.Frame{Type: event, ID: id, Payload: body})
	if err != nil {
		return Ack{}, err
	}

	ch := make(chan Ack, 1)
	c.mu.Lock()
	c.pending[id] = pendingRequest{event: event, ch: ch}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := time.Now()

	select {
	case c.send <- frame:
	case <-c.done:
		m.metrics.ObserveRequest(event, metrics.OutcomeError, time.Since(start))
		return Ack{}, fmt.Errorf("%s: %w", event, ErrDisconnected)
	case <-ctx.Done():
		return Ack{}, m.contextErr(ctx, event, start)
	}

	select {
	case ack := <-ch:
		if !ack.Success {
			m.metrics.ObserveRequest(event, metrics.OutcomeFailure, time.Since(start))
			return ack, ack.Err()
		}
		m.metrics.ObserveRequest(event, metrics.OutcomeSuccess, time.Since(start))
		return ack, nil
	case <-c.done:
		m.metrics.ObserveRequest(event, metrics.OutcomeError, time.Since(start))
		return Ack{}, fmt.Errorf("%s: %w", event, ErrDisconnected)
	case <-ctx.Done():
		return Ack{}, m.contextErr(ctx, event, start)
	}
}

func (m *Manager) contextErr(ctx context.Context, event string, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.metrics.ObserveRequest(event, metrics.OutcomeTimeout, time.Since(start))
		m.log.Warn("request timed out", zap.String("event", event))
		return fmt.Errorf("%s: %w", event, ErrTimeout)
	}
	m.metrics.ObserveRequest(event, metrics.OutcomeError, time.Since(start))
	return ctx.Err()
}

// On subscribes h to a push event. Handlers run on the read goroutine and
// must not wait on Request.
func (m *Manager) On(event string, h Handler) (off func()) {
	m.hmu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.handlers[event] = append(m.handlers[event], handlerEntry{id: id, fn: h})
	m.hmu.Unlock()

	return func() {
		m.hmu.Lock()
		defer m.hmu.Unlock()
		entries := m.handlers[event]
		for i, e := range entries {
			if e.id == id {
				m.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(m.handlers[event]) == 0 {
			delete(m.handlers, event)
		}
	}
}

// OnStatus subscribes to connection transitions.
func (m *Manager) OnStatus(fn func(Status)) (off func()) {
	m.hmu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	m.hmu.Unlock()

	return func() {
		m.hmu.Lock()
		defer m.hmu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) notify(s Status) {
	m.hmu.RLock()
	listeners := append([]listenerEntry(nil), m.listeners...)
	m.hmu.RUnlock()
	for _, l := range listeners {
		l.fn(s)
	}
}

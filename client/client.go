// Package client owns the physical connection to the warehouse backend.
//
// A Manager holds at most one live WebSocket at a time. It performs the
// authentication handshake on open, hands every readable frame to the
// dispatch handler, and heals unplanned closes with bounded exponential
// backoff. Sends are fire-and-forget: a frame sent while disconnected is
// dropped and surfaced as an error notice, never queued.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/warebridge/warebridge/notice"
	"github.com/warebridge/warebridge/protocol"
	"github.com/warebridge/warebridge/session"
)

const (
	DefaultMaxReconnects = 100
	DefaultReconnectBase = 5 * time.Second
	DefaultReconnectCap  = 30 * time.Second

	// User-facing notice text, kept stable so the UI layer can rely on it.
	noticeNotConnected    = "WebSocket is not connected"
	noticeConnectionError = "WebSocket encountered an error and will attempt to reconnect."
)

var ErrMissingStore = errors.New("session store is required")

// Handler receives every validated inbound envelope, in transport order.
type Handler interface {
	Handle(protocol.Inbound)
}

// conn is the subset of a websocket connection the manager uses. Tests
// substitute a scripted fake.
type conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(endpoint string) (conn, error)

// scheduleFunc runs fn after d and returns a cancel function. The default is
// a time.AfterFunc wrapper; tests inject a recording scheduler.
type scheduleFunc func(d time.Duration, fn func()) (cancel func())

// Options configures the Manager.
type Options struct {
	// Endpoint is the WebSocket URL of the backend.
	Endpoint string

	// UserID identifies the acting user in the auth handshake.
	UserID string

	// Token is the previously obtained credential sent with the handshake.
	Token string

	// Store receives connection status and transport-level notices.
	Store *session.Store

	// Handler receives parsed inbound envelopes.
	Handler Handler

	// Logger is the zap logger instance.
	Logger *zap.Logger

	// MaxReconnects bounds the reconnect loop. Default 100.
	MaxReconnects int

	// ReconnectBase is the backoff base delay. Default 5s.
	ReconnectBase time.Duration

	// ReconnectCap is the backoff ceiling. Default 30s.
	ReconnectCap time.Duration
}

// Manager owns the socket lifecycle.
type Manager struct {
	opts    Options
	logger  *zap.Logger
	store   *session.Store
	handler Handler

	dialFn     dialFunc
	scheduleFn scheduleFunc

	mu            sync.Mutex
	conn          conn
	attempts      int
	closed        bool
	cancelPending func()

	writeMu sync.Mutex
}

// New creates a Manager. It does not connect; call Connect.
func New(opts Options) (*Manager, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if opts.Store == nil {
		return nil, ErrMissingStore
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = DefaultReconnectBase
	}
	if opts.ReconnectCap <= 0 {
		opts.ReconnectCap = DefaultReconnectCap
	}

	return &Manager{
		opts:       opts,
		logger:     opts.Logger,
		store:      opts.Store,
		handler:    opts.Handler,
		dialFn:     gorillaDial,
		scheduleFn: afterFunc,
	}, nil
}

// Connect opens the socket. It returns immediately; the handshake and read
// loop run in the background. Concurrent duplicate calls while a socket is
// live are ignored.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return
	}
	if m.cancelPending != nil {
		m.cancelPending()
		m.cancelPending = nil
	}
	m.closed = false
	m.mu.Unlock()

	go m.dialAndRun()
}

// Send stamps a fresh correlation id (unless the action is the auth
// handshake) and transmits the request if the socket is open. Otherwise the
// frame is dropped and a "not connected" notice is published; the caller gets
// no error either way.
func (m *Manager) Send(req *protocol.Request) {
	if req.Action != protocol.ActionAuth {
		if req.Env == nil {
			req.Env = &protocol.Env{}
		}
		req.Env.Transaction = uuid.NewString()
	}

	data, err := req.Encode()
	if err != nil {
		// Requests are built from plain JSON-able data; an encode failure
		// is a caller bug.
		m.logger.Error("dropping unencodable request",
			zap.String("action", req.Action),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()

	if c == nil {
		m.logger.Warn("send while disconnected, dropping frame",
			zap.String("action", req.Action),
		)
		m.store.SetNotice(notice.SeverityError, noticeNotConnected)
		return
	}

	m.writeMu.Lock()
	err = c.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		// The read loop observes the broken socket and drives reconnect.
		m.logger.Warn("write failed",
			zap.String("action", req.Action),
			zap.Error(err),
		)
		return
	}

	m.logger.Debug("sent request",
		zap.String("action", req.Action),
		zap.Int("frame_len", len(data)),
	)
}

// Close shuts the manager down: the socket is closed and no reconnect is
// scheduled until a new Connect call.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	if m.cancelPending != nil {
		m.cancelPending()
		m.cancelPending = nil
	}
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	if c != nil {
		_ = c.Close()
		m.store.SetConnected(false)
	}
	return nil
}

// IsConnected reports whether a socket is currently live.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) dialAndRun() {
	m.logger.Info("connecting", zap.String("endpoint", m.opts.Endpoint))

	c, err := m.dialFn(m.opts.Endpoint)
	if err != nil {
		m.logger.Warn("dial failed", zap.Error(err))
		m.store.SetNotice(notice.SeverityError, noticeConnectionError)
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = c.Close()
		return
	}
	m.conn = c
	m.attempts = 0
	m.mu.Unlock()

	m.store.SetConnected(true)
	m.logger.Info("connected", zap.String("endpoint", m.opts.Endpoint))

	m.sendAuth()
	m.readLoop(c)
}

// sendAuth performs the authentication handshake: the first frame after every
// open carries the user id and credential token. The token travels in the
// transaction slot, which is why auth frames are exempt from stamping.
func (m *Manager) sendAuth() {
	m.Send(&protocol.Request{
		Kind:   protocol.KindAction,
		Action: protocol.ActionAuth,
		Env: &protocol.Env{
			User:        m.opts.UserID,
			Transaction: m.opts.Token,
		},
	})
}

func (m *Manager) readLoop(c conn) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			m.handleReadError(c, err)
			return
		}

		in, perr := protocol.ParseInbound(data)
		if perr != nil {
			m.logger.Warn("dropping unparseable frame",
				zap.Error(perr),
				zap.Int("frame_len", len(data)),
			)
			continue
		}

		m.handler.Handle(in)
	}
}

func (m *Manager) handleReadError(c conn, err error) {
	m.mu.Lock()
	planned := m.closed || m.conn != c
	if m.conn == c {
		m.conn = nil
	}
	m.mu.Unlock()

	_ = c.Close()

	if planned {
		return
	}

	m.store.SetConnected(false)

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		m.logger.Error("transport error", zap.Error(err))
		m.store.SetNotice(notice.SeverityError, noticeConnectionError)
	} else {
		m.logger.Warn("connection closed", zap.Error(err))
	}

	m.scheduleReconnect()
}

// scheduleReconnect arms at most one pending reconnect timer. Once the
// attempt budget is exhausted the manager stays down until an explicit
// Connect call.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.cancelPending != nil {
		return
	}
	if m.attempts >= m.opts.MaxReconnects {
		m.logger.Error("reconnect attempts exhausted, giving up",
			zap.Int("attempts", m.attempts),
		)
		return
	}

	m.attempts++
	delay := backoffDelay(m.attempts, m.opts.ReconnectBase, m.opts.ReconnectCap)
	m.logger.Info("scheduling reconnect",
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay),
	)

	m.cancelPending = m.scheduleFn(delay, func() {
		m.mu.Lock()
		m.cancelPending = nil
		m.mu.Unlock()
		m.dialAndRun()
	})
}

// backoffDelay doubles the base per attempt, capped at max: 10s, 20s, 30s,
// 30s, … for the defaults.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

func gorillaDial(endpoint string) (conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

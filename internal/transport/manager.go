// Package transport owns the WebSocket connection to the chat backend and
// keeps it alive with a fixed-delay reconnect loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"storefront/internal/protocol"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"
)

const (
	// DefaultReconnectDelay is the flat wait between a close and the next dial.
	DefaultReconnectDelay = 3 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultMaxMessageSize   = 1024 * 1024

	closeGracePeriod = time.Second
)

// State of the connection manager.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Manager maintains at most one live connection. Callbacks run on the
// manager's read goroutine and must not block for long.
type Manager struct {
	url            string
	dialer         Dialer
	delay          time.Duration
	writeTimeout   time.Duration
	readTimeout    time.Duration
	maxMessageSize int64

	onOpen  func()
	onFrame func([]byte)
	onClose func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	retry    *time.Timer
	attempts int
	closed   bool

	writeMu sync.Mutex

	log zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithReconnectDelay sets the wait between a close and the next dial.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithDialer replaces the default gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithHandshakeTimeout bounds the opening handshake of the default dialer.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if wd, ok := m.dialer.(*websocket.Dialer); ok && d > 0 {
			wd.HandshakeTimeout = d
		}
	}
}

// WithWriteTimeout bounds each outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// WithReadTimeout sets how long the socket may stay silent before it is
// considered dead. Pings go out every half of it, so a live peer answering
// with pongs keeps the connection open.
func WithReadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readTimeout = d
		}
	}
}

// WithMaxMessageSize limits inbound frame size.
func WithMaxMessageSize(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxMessageSize = n
		}
	}
}

// WithOnOpen sets the callback run once per successful dial.
func WithOnOpen(fn func()) Option {
	return func(m *Manager) {
		m.onOpen = fn
	}
}

// WithOnFrame sets the callback receiving every inbound text frame.
func WithOnFrame(fn func([]byte)) Option {
	return func(m *Manager) {
		m.onFrame = fn
	}
}

// WithOnClose sets the callback run when a connection or dial ends.
func WithOnClose(fn func(error)) Option {
	return func(m *Manager) {
		m.onClose = fn
	}
}

// NewManager returns a disconnected manager for url. Call Connect to start.
func NewManager(url string, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		delay:          DefaultReconnectDelay,
		writeTimeout:   defaultWriteTimeout,
		readTimeout:    defaultReadTimeout,
		maxMessageSize: defaultMaxMessageSize,
		ctx:            ctx,
		cancel:         cancel,
		log:            logger.Component("transport"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BuildURL derives the chat socket address from the server base URL. The
// socket scheme mirrors the base scheme: http gives ws, https gives wss.
func BuildURL(base, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("empty session id")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + sessionID
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// URL returns the address the manager dials.
func (m *Manager) URL() string {
	return m.url
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many dials have been started.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect starts a dial unless one is in flight or the socket is open.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state != Disconnected {
		return
	}
	m.startLocked()
}

func (m *Manager) startLocked() {
	m.attempts++
	metrics.ConnectAttempts.Inc()
	m.setStateLocked(Connecting)

	m.wg.Add(1)
	go m.run(m.attempts)
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	metrics.ConnectionState.Set(float64(s))
}

func (m *Manager) run(attempt int) {
	defer m.wg.Done()

	m.log.Debug().Str("url", m.url).Int("attempt", attempt).Msg("dialing")
	conn, resp, err := m.dialer.DialContext(m.ctx, m.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.disconnected(fmt.Errorf("dial: %w", err))
		return
	}

	m.mu.Lock()
	if m.closed {
		m.setStateLocked(Disconnected)
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.setStateLocked(Open)
	m.mu.Unlock()

	m.log.Info().Str("url", m.url).Int("attempt", attempt).Msg("connected")
	if m.onOpen != nil {
		m.onOpen()
	}

	done := make(chan struct{})
	m.wg.Add(1)
	go m.pingLoop(conn, done)

	err = m.readLoop(conn)
	close(done)
	m.disconnected(err)
}

func (m *Manager) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(m.maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(m.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.readTimeout))
	})
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.readTimeout))
		if kind != websocket.TextMessage {
			m.log.Debug().Int("kind", kind).Msg("ignoring non-text frame")
			continue
		}
		metrics.FramesReceived.Inc()
		if m.onFrame != nil {
			m.onFrame(data)
		}
	}
}

// pingLoop keeps the peer answering so a half-open socket trips the read
// deadline. It exits when the read loop ends or a ping cannot be written.
func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.readTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.writeTimeout))
			if err != nil {
				m.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// disconnected tears down the current socket and schedules exactly one retry.
func (m *Manager) disconnected(cause error) {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(Disconnected)
	closed := m.closed
	if !closed && m.retry == nil {
		m.retry = time.AfterFunc(m.delay, m.reconnect)
	}
	m.mu.Unlock()

	if closed {
		return
	}
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.log.Info().Dur("retry_in", m.delay).Msg("connection closed by server")
	} else {
		m.log.Warn().Err(cause).Dur("retry_in", m.delay).Msg("connection lost")
	}
	if m.onClose != nil {
		m.onClose(cause)
	}
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retry = nil
	if m.closed || m.state != Disconnected {
		return
	}
	m.startLocked()
}

// Send writes {"message": text} when the socket is open. It reports false,
// without transmitting, in any other state or if the write fails.
func (m *Manager) Send(text string) bool {
	m.mu.Lock()
	conn, st := m.conn, m.state
	m.mu.Unlock()

	if st != Open || conn == nil {
		metrics.MessagesSent.WithLabelValues("offline").Inc()
		return false
	}

	data, err := protocol.EncodeOutbound(text)
	if err != nil {
		metrics.MessagesSent.WithLabelValues("error").Inc()
		return false
	}

	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		m.log.Warn().Err(err).Msg("send failed")
		metrics.MessagesSent.WithLabelValues("error").Inc()
		return false
	}

	metrics.MessagesSent.WithLabelValues("sent").Inc()
	return true
}

// Close stops reconnecting, closes the socket with a normal-closure frame
// and waits for the read goroutine to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		m.writeMu.Unlock()
		conn.Close()
	}

	m.wg.Wait()
	return nil
}

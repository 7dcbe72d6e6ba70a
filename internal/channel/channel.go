// Package channel maintains the duplex orchestrator connection. One
// connection at a time, redialed on a fixed delay forever; there is no
// backoff schedule and no retry cap, because the agent is useless without
// the channel and the orchestrator tolerates reconnect storms.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/protocol"
	"github.com/arenabridge/agent/internal/shared/id"
)

// ErrNotConnected is returned by Send while the channel is down. The manager
// never queues outbound frames; callers decide whether dropping is acceptable.
var ErrNotConnected = errors.New("orchestrator channel not connected")

const handshakeTimeout = 10 * time.Second

// Manager owns the WebSocket to the orchestrator. Inbound frames are handed
// to the registered handler one at a time, in arrival order; outbound writes
// from any goroutine are serialized through Send.
type Manager struct {
	cfg     config.OrchestratorConfig
	metrics *monitoring.Metrics
	log     *logging.Logger
	dialer  *websocket.Dialer

	handler      func(data []byte)
	onConnect    func()
	onDisconnect func()

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewManager creates a channel manager. Register the handler and hooks
// before calling Run.
func NewManager(cfg config.OrchestratorConfig, metrics *monitoring.Metrics, log *logging.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		metrics: metrics,
		log:     log.Component("channel"),
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// SetHandler registers the inbound frame callback. The callback runs on the
// read pump goroutine, so long work must be spawned off by the handler.
func (m *Manager) SetHandler(fn func(data []byte)) {
	m.handler = fn
}

// OnConnect registers a hook that runs after each successful dial, with the
// connection already installed so the hook can Send.
func (m *Manager) OnConnect(fn func()) {
	m.onConnect = fn
}

// OnDisconnect registers a hook that runs after each connection loss.
func (m *Manager) OnDisconnect(fn func()) {
	m.onDisconnect = fn
}

// Run dials and services the channel until ctx ends. Dial failures and
// connection losses are absorbed: the loop sleeps the reconnect delay and
// dials again.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if err := m.session(ctx); err != nil && ctx.Err() == nil {
			m.log.Warn("channel session ended", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to loss. Each connection gets its
// own identifier so interleaved logs across redials stay attributable.
func (m *Manager) session(ctx context.Context) error {
	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}

	log := m.log.WithConnection(id.NewConnectionID())

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.metrics.SetConnected(true)
	log.Info("channel connected", zap.String("url", m.cfg.URL))

	// Closing the connection is the only way to interrupt ReadMessage when
	// the context dies mid-read.
	watch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watch:
		}
	}()
	defer func() {
		close(watch)
		m.teardown(conn, log)
	}()

	if m.onConnect != nil {
		m.onConnect()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("channel read: %w", err)
		}
		if m.handler != nil {
			m.handler(data)
		}
	}
}

func (m *Manager) teardown(conn *websocket.Conn, log *logging.Logger) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()
	m.metrics.SetConnected(false)
	log.Info("channel disconnected")
	if m.onDisconnect != nil {
		m.onDisconnect()
	}
}

// Send encodes and writes one outbound message. Safe for concurrent use.
func (m *Manager) Send(v interface{}) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	if m.cfg.WriteTimeout > 0 {
		m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("channel write: %w", err)
	}
	m.metrics.RecordMessage("outbound", outboundType(v))
	return nil
}

// Connected reports whether a connection is currently installed.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func outboundType(v interface{}) string {
	switch v.(type) {
	case protocol.Data:
		return "data"
	case protocol.Pong:
		return protocol.TypePong
	case protocol.ReconnectionHandshake:
		return protocol.TypeReconnectionHandshake
	case protocol.ModelRegistry:
		return protocol.TypeModelRegistry
	case protocol.SessionCreated:
		return protocol.TypeSessionCreated
	default:
		return "other"
	}
}

package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashim-i222478/chatlink/internal/config"
	"github.com/hashim-i222478/chatlink/internal/session"
	"github.com/hashim-i222478/chatlink/internal/status"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20 // inline attachments ride in frames
)

// ErrNotConnected is returned when sending without a live connection.
var ErrNotConnected = errors.New("not connected")

// Dispatcher consumes decoded inbound frames one at a time, in delivery
// order, tagged with the epoch of the connection that produced them.
type Dispatcher interface {
	Dispatch(epoch int64, frame Frame)
}

// Manager owns the single realtime connection for the active identity.
// Every connection gets a fresh epoch; bumping the epoch before closing
// guarantees that frames from a torn-down connection are never dispatched.
type Manager struct {
	url        string
	machine    *status.Machine
	dispatcher Dispatcher
	reconnect  config.Reconnect
	logger     *zap.Logger

	epoch atomic.Int64

	mu       sync.Mutex
	conn     *websocket.Conn
	identity *session.Identity
}

// NewManager creates a connection manager. The dispatcher is attached later
// to break the construction cycle (the dispatcher needs the manager as its
// liveness guard).
func NewManager(url string, machine *status.Machine, reconnect config.Reconnect, logger *zap.Logger) *Manager {
	return &Manager{
		url:       url,
		machine:   machine,
		reconnect: reconnect,
		logger:    logger,
	}
}

// SetDispatcher attaches the frame consumer. Must be called before Connect.
func (m *Manager) SetDispatcher(d Dispatcher) { m.dispatcher = d }

// Epoch returns the current connection epoch.
func (m *Manager) Epoch() int64 { return m.epoch.Load() }

// Alive reports whether the given epoch still belongs to the live
// connection. Async work captured under an old epoch checks this before
// touching the store.
func (m *Manager) Alive(epoch int64) bool { return m.epoch.Load() == epoch }

// Connect tears down any prior connection, dials the server, and sends the
// identify frame for the given identity. At most one live connection per
// identity at any time.
func (m *Manager) Connect(id *session.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()
	m.identity = id

	_ = m.machine.Transition(status.Connecting)

	conn, _, err := websocket.DefaultDialer.Dial(m.url, nil)
	if err != nil {
		_ = m.machine.Transition(status.Disconnected)
		return err
	}

	identify := &IdentifyFrame{Type: TypeIdentify, UserID: id.UserID, Username: id.Username}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(identify); err != nil {
		_ = conn.Close()
		_ = m.machine.Transition(status.Disconnected)
		return err
	}

	m.conn = conn
	epoch := m.epoch.Add(1)
	_ = m.machine.Transition(status.Online)
	m.logger.Info("connected", zap.String("user_id", id.UserID), zap.Int64("epoch", epoch))

	go m.readLoop(conn, epoch)
	go m.pingLoop(conn, epoch)
	return nil
}

// Send writes one frame to the live connection.
func (m *Manager) Send(frame Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return m.conn.WriteJSON(frame)
}

// Logout closes and discards the connection synchronously and clears the
// identity. No frame from the old connection is dispatched afterwards.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.identity = nil
	_ = m.machine.Transition(status.LoggedOut)
}

// Disconnect closes the connection but keeps the identity (daemon shutdown).
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	_ = m.machine.Transition(status.Disconnected)
}

// teardownLocked invalidates the epoch before closing so the read loop
// cannot dispatch a racing final frame.
func (m *Manager) teardownLocked() {
	if m.conn == nil {
		return
	}
	m.epoch.Add(1)
	_ = m.conn.Close()
	m.conn = nil
}

func (m *Manager) readLoop(conn *websocket.Conn, epoch int64) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !m.Alive(epoch) {
				// Deliberate teardown, nothing to do.
				return
			}
			m.logger.Warn("connection lost", zap.Error(err), zap.Int64("epoch", epoch))
			m.handleDrop(epoch)
			return
		}
		if !m.Alive(epoch) {
			return
		}
		frame, err := Decode(data)
		if err != nil {
			// Malformed or unhandled frames are dropped, not errors.
			continue
		}
		m.dispatcher.Dispatch(epoch, frame)
	}
}

func (m *Manager) pingLoop(conn *websocket.Conn, epoch int64) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if !m.Alive(epoch) {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// handleDrop reacts to an unexpected close. Without reconnect enabled the
// connection stays down until the identity changes.
func (m *Manager) handleDrop(epoch int64) {
	m.mu.Lock()
	if m.epoch.Load() == epoch && m.conn != nil {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = m.machine.Transition(status.Disconnected)

	if !m.reconnect.Enabled {
		return
	}
	go m.redial(epoch)
}

func (m *Manager) redial(droppedEpoch int64) {
	_ = m.machine.Transition(status.Reconnecting)
	backoff := m.reconnect.MinBackoff.Std()
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		time.Sleep(backoff)

		// A newer connection or a logout supersedes this redial.
		if m.epoch.Load() != droppedEpoch {
			return
		}
		m.mu.Lock()
		id := m.identity
		m.mu.Unlock()
		if id == nil {
			return
		}

		m.logger.Info("reconnect attempt", zap.Duration("backoff", backoff))
		if err := m.Connect(id); err == nil {
			return
		}
		_ = m.machine.Transition(status.Reconnecting)

		backoff *= 2
		if max := m.reconnect.MaxBackoff.Std(); max > 0 && backoff > max {
			backoff = max
		}
	}
}

package conn

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateFailed       State = "failed"
)

type Config struct {
	Endpoint string

	HeartbeatInterval  time.Duration
	RecoveryHeartbeats int

	BackoffBase          time.Duration
	BackoffGrowth        float64
	BackoffMax           time.Duration
	MaxReconnectAttempts int

	DialTimeout time.Duration
	WriteWait   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.RecoveryHeartbeats <= 0 {
		c.RecoveryHeartbeats = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffGrowth <= 1 {
		c.BackoffGrowth = 2.0
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Snapshot is a point-in-time view of the connection for observers.
type Snapshot struct {
	State      State     `json:"state"`
	Endpoint   string    `json:"endpoint"`
	Attempts   int       `json:"reconnect_attempts"`
	LastAck    time.Time `json:"last_heartbeat_ack"`
	LastAckAge int64     `json:"last_heartbeat_ack_age_ms"`
}

// Manager owns the socket lifecycle: dialing, the liveness heartbeat, and
// bounded backoff reconnection. Application envelopes are emitted on
// Events() in arrival order; liveness traffic never leaves this package.
type Manager struct {
	cfg    Config
	dialer Dialer
	log    *slog.Logger

	events chan protocol.Envelope
	done   chan struct{}
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	sock       Socket
	gen        int
	attempts   int
	lastAck    time.Time
	missed     int
	retryTimer *time.Timer
	closed     bool
	onState    func(old, new State)
}

func NewManager(cfg Config, dialer Dialer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if dialer == nil {
		dialer = NewWebsocketDialer(cfg.DialTimeout)
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		dialer: dialer,
		log:    log.With("component", "conn"),
		events: make(chan protocol.Envelope, 64),
		done:   make(chan struct{}),
		state:  StateDisconnected,
	}
}

// Events yields inbound application envelopes in arrival order. The channel
// is closed when the manager shuts down.
func (m *Manager) Events() <-chan protocol.Envelope {
	return m.events
}

// OnStateChange registers an observer for state transitions. Must be called
// before Connect; the callback runs outside the manager's lock.
func (m *Manager) OnStateChange(fn func(old, new State)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Stats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		State:    m.state,
		Endpoint: m.cfg.Endpoint,
		Attempts: m.attempts,
		LastAck:  m.lastAck,
	}
	if !m.lastAck.IsZero() {
		snap.LastAckAge = time.Since(m.lastAck).Milliseconds()
	}
	return snap
}

// Connect begins a connection attempt. It is idempotent: a no-op while an
// attempt is in flight or the connection is open. A pending retry timer is
// cancelled so the manual attempt starts immediately, and the failed-attempt
// count is reset.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return shared.ErrClosed
	}
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.attempts = 0
	m.gen++
	gen := m.gen
	notify := m.transitionLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	go m.dial(gen)
	return nil
}

// Send writes one envelope. It succeeds only while the connection is open;
// otherwise the caller decides whether to drop or surface the failure.
func (m *Manager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	if m.state != StateOpen || m.sock == nil {
		m.mu.Unlock()
		return shared.ErrNotConnected
	}
	sock := m.sock
	m.mu.Unlock()

	return m.write(sock, env)
}

// Close performs a clean, locally initiated shutdown. It never triggers a
// reconnect and releases the events channel once the pumps have drained.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	sock := m.sock
	var notify func()
	if sock != nil {
		notify = m.transitionLocked(StateClosing)
	}
	m.mu.Unlock()
	if notify != nil {
		notify()
	}

	close(m.done)

	if sock != nil {
		deadline := time.Now().Add(m.cfg.WriteWait)
		m.writeMu.Lock()
		_ = sock.SetWriteDeadline(deadline)
		_ = sock.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"))
		m.writeMu.Unlock()
		_ = sock.Close()
	}

	m.wg.Wait()
	close(m.events)

	m.mu.Lock()
	notify = m.transitionLocked(StateDisconnected)
	m.mu.Unlock()
	notify()
	return nil
}

func (m *Manager) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	sock, err := m.dialer.Dial(ctx, m.cfg.Endpoint)
	cancel()

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		return
	}

	if err != nil {
		m.log.Warn("connection attempt failed", "endpoint", m.cfg.Endpoint, "attempt", m.attempts, "error", err)
		notify := m.scheduleRetryLocked()
		m.mu.Unlock()
		notify()
		return
	}

	m.sock = sock
	m.attempts = 0
	m.missed = 0
	m.lastAck = time.Now()
	m.wg.Add(2)
	notify := m.transitionLocked(StateOpen)
	m.mu.Unlock()
	notify()

	m.log.Info("connection open", "endpoint", m.cfg.Endpoint)

	go m.readPump(sock, gen)
	go m.heartbeatPump(sock, gen)
}

func (m *Manager) readPump(sock Socket, gen int) {
	defer m.wg.Done()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.log.Warn("socket read error", "error", err)
			}
			m.socketClosed(gen)
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			m.log.Error("failed to decode envelope", "error", err)
			continue
		}

		switch env.Type {
		case protocol.MessageTypePong, protocol.MessageTypeHeartbeatAck:
			m.markAck()
		case protocol.MessageTypeHeartbeat:
			if err := m.write(sock, protocol.HeartbeatAck(time.Now())); err != nil {
				m.log.Warn("failed to answer heartbeat", "error", err)
			}
		case protocol.MessageTypeConnectionAck:
			// Doubles as the first proof of liveness.
			m.markAck()
			m.emit(env)
		default:
			m.emit(env)
		}
	}
}

func (m *Manager) heartbeatPump(sock Socket, gen int) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.closed || gen != m.gen || m.state != StateOpen {
			m.mu.Unlock()
			return
		}
		stale := time.Since(m.lastAck) > m.cfg.HeartbeatInterval
		if stale {
			m.missed++
		} else {
			m.missed = 0
		}
		missed := m.missed
		m.mu.Unlock()

		if missed > m.cfg.RecoveryHeartbeats {
			m.log.Warn("heartbeat timed out, forcing close", "recovery_attempts", m.cfg.RecoveryHeartbeats)
			_ = sock.Close()
			return
		}

		if missed > 0 {
			m.log.Debug("heartbeat unacknowledged, sending recovery ping", "missed", missed)
		}
		if err := m.write(sock, protocol.Ping(time.Now())); err != nil {
			m.log.Warn("heartbeat write failed", "error", err)
			_ = sock.Close()
			return
		}
	}
}

func (m *Manager) write(sock Socket, env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = sock.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
	return sock.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) markAck() {
	m.mu.Lock()
	m.lastAck = time.Now()
	m.missed = 0
	m.mu.Unlock()
}

func (m *Manager) emit(env protocol.Envelope) {
	select {
	case m.events <- env:
	case <-m.done:
	}
}

// socketClosed handles any socket teardown observed by the read pump. Clean
// local shutdown never reconnects; everything else is treated as transient
// and retried with backoff.
func (m *Manager) socketClosed(gen int) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.sock = nil
	notify := m.scheduleRetryLocked()
	m.mu.Unlock()
	notify()
}

func (m *Manager) scheduleRetryLocked() func() {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.log.Error("reconnect attempts exhausted, manual connect required",
			"attempts", m.attempts)
		return m.transitionLocked(StateFailed)
	}

	delay := m.backoffDelay(m.attempts)
	m.attempts++
	m.log.Info("scheduling reconnect", "attempt", m.attempts, "delay", delay)

	m.retryTimer = time.AfterFunc(delay, m.retryFire)
	return m.transitionLocked(StateDisconnected)
}

func (m *Manager) retryFire() {
	m.mu.Lock()
	m.retryTimer = nil
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	notify := m.transitionLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	go m.dial(gen)
}

func (m *Manager) backoffDelay(attempts int) time.Duration {
	d := float64(m.cfg.BackoffBase) * math.Pow(m.cfg.BackoffGrowth, float64(attempts))
	if d > float64(m.cfg.BackoffMax) {
		return m.cfg.BackoffMax
	}
	return time.Duration(d)
}

// transitionLocked records a state change and returns the observer
// notification to run after the lock is released.
func (m *Manager) transitionLocked(next State) func() {
	prev := m.state
	m.state = next
	fn := m.onState
	if fn == nil || prev == next {
		return func() {}
	}
	return func() { fn(prev, next) }
}

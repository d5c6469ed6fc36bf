// Package client is the Go side of the live channel: a socket manager that
// dials the server, authenticates, reconnects on failure with a fixed
// retry budget, and fans incoming envelopes out to listeners.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/models"
	"github.com/lalith-99/stationchat/internal/protocol"
	"go.uber.org/zap"
)

type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingAuthAck
	Active
	Reconnecting
	GivenUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingAuthAck:
		return "awaiting_auth_ack"
	case Active:
		return "active"
	case Reconnecting:
		return "reconnecting"
	case GivenUp:
		return "given_up"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrClosed         = errors.New("client: manager closed")
	ErrAlreadyStarted = errors.New("client: already connecting or connected")
	ErrNotActive      = errors.New("client: not connected")
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 3 * time.Second
)

type Options struct {
	URL string
	// Token is called on every attempt, so a refreshed credential is
	// picked up by the next reconnect.
	Token func() string

	MaxAttempts int
	RetryDelay  time.Duration
	// KeepaliveInterval > 0 sends keepalive_ping while Active.
	KeepaliveInterval time.Duration

	Dialer Dialer
	Clock  Clock
	Logger *zap.Logger

	// OnStateChange is called after every transition, outside the
	// manager's lock.
	OnStateChange func(from, to State)
}

type listener struct {
	id int
	fn func(protocol.ServerEnvelope)
}

// Manager owns one logical connection to the server.
//
// Every transport gets a generation number. Callbacks from a transport
// whose generation is no longer current are ignored, so a late close from
// a replaced socket cannot disturb the live one.
type Manager struct {
	opts Options

	mu        sync.Mutex
	state     State
	closed    bool
	attempts  int
	gen       uint64
	transport Transport
	retry     Timer
	keepalive Timer
	ctx       context.Context
	cancel    context.CancelFunc

	listeners map[protocol.Kind][]listener
	nextID    int
}

func New(opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	return &Manager{
		opts:      opts,
		listeners: make(map[protocol.Kind][]listener),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts is the number of reconnects since the last successful handshake.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect starts the first attempt, or starts over after GivenUp.
// Failures after this point are handled by the retry loop and surface as
// state changes, not errors.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != Disconnected && m.state != GivenUp {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.attempts = 0
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.gen++
	gen := m.gen
	notify := m.setStateLocked(Connecting)
	m.mu.Unlock()

	notify()
	m.dial(gen)
	return nil
}

// Close ends the session for good: it cancels any pending reconnect,
// drops the transport and moves to Disconnected. Safe to call repeatedly.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	m.stopTimersLocked()
	tr := m.transport
	m.transport = nil
	if m.cancel != nil {
		m.cancel()
	}
	notify := func() {}
	if m.state != GivenUp {
		notify = m.setStateLocked(Disconnected)
	}
	m.mu.Unlock()

	var err error
	if tr != nil {
		err = tr.Close()
	}
	notify()
	return err
}

// On registers fn for envelopes of kind. Listeners run in registration
// order. The returned func unregisters fn.
func (m *Manager) On(kind protocol.Kind, fn func(protocol.ServerEnvelope)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[kind] = append(m.listeners[kind], listener{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		ls := m.listeners[kind]
		for i, l := range ls {
			if l.id == id {
				m.listeners[kind] = append(ls[:i:i], ls[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) SendRoom(content string) error {
	return m.send(protocol.RoomMessage{Content: content})
}

func (m *Manager) SendBroadcast(content string) error {
	return m.send(protocol.BroadcastMessage{Content: content})
}

func (m *Manager) SendDirect(target uuid.UUID, content string, subtype models.Subtype) error {
	return m.send(protocol.DirectMessage{TargetIdentity: target, Content: content, Subtype: subtype})
}

func (m *Manager) SendTyping(target uuid.UUID, isTyping bool) error {
	return m.send(protocol.Typing{TargetIdentity: target, IsTyping: isTyping})
}

// send is fire-and-forget: a nil error means the frame was written, not
// that the server accepted it.
func (m *Manager) send(in protocol.Inbound) error {
	raw, err := protocol.EncodeInbound(in)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.state != Active || m.transport == nil {
		m.mu.Unlock()
		return ErrNotActive
	}
	tr := m.transport
	m.mu.Unlock()
	return tr.Send(raw)
}

func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	tr, err := m.opts.Dialer.Dial(ctx, m.opts.URL, Events{
		OnMessage: func(data []byte) { m.handleMessage(gen, data) },
		OnClose:   func(err error) { m.handleClose(gen, err) },
	})

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		if tr != nil {
			tr.Close()
		}
		return
	}
	if err != nil {
		notify := m.failLocked(err)
		m.mu.Unlock()
		notify()
		return
	}

	m.transport = tr
	raw, err := protocol.EncodeInbound(protocol.Auth{Token: m.opts.Token()})
	if err == nil {
		err = tr.Send(raw)
	}
	if err != nil {
		notify := m.failLocked(fmt.Errorf("send auth: %w", err))
		m.mu.Unlock()
		notify()
		return
	}
	notify := m.setStateLocked(AwaitingAuthAck)
	m.mu.Unlock()
	notify()
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if m.closed || m.state != Reconnecting || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.gen++
	next := m.gen
	notify := m.setStateLocked(Connecting)
	m.mu.Unlock()

	notify()
	m.dial(next)
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	env, err := protocol.DecodeServer(data)
	if err != nil {
		m.opts.Logger.Debug("dropping undecodable frame", zap.Error(err))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	notify := func() {}
	switch m.state {
	case AwaitingAuthAck:
		switch env.Kind {
		case protocol.KindAuthSuccess:
			m.attempts = 0
			m.scheduleKeepaliveLocked(gen)
			notify = m.setStateLocked(Active)
		case protocol.KindAuthError:
			notify = m.failLocked(fmt.Errorf("auth rejected: %s", env.Reason))
			m.mu.Unlock()
			notify()
			return
		default:
			m.mu.Unlock()
			return
		}
	case Active:
	default:
		m.mu.Unlock()
		return
	}

	ls := append([]listener(nil), m.listeners[env.Kind]...)
	m.mu.Unlock()

	notify()
	for _, l := range ls {
		l.fn(env)
	}
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	switch m.state {
	case Connecting, AwaitingAuthAck, Active:
	default:
		m.mu.Unlock()
		return
	}
	if err == nil {
		err = errors.New("transport closed")
	}
	notify := m.failLocked(err)
	m.mu.Unlock()
	notify()
}

// failLocked retires the current transport and either schedules a
// reconnect or gives up. The returned func must run after unlocking.
func (m *Manager) failLocked(cause error) func() {
	tr := m.transport
	m.transport = nil
	m.gen++
	m.stopTimersLocked()

	var to State
	if m.attempts < m.opts.MaxAttempts {
		m.attempts++
		to = Reconnecting
		gen := m.gen
		m.retry = m.opts.Clock.AfterFunc(m.opts.RetryDelay, func() { m.reconnect(gen) })
		m.opts.Logger.Info("connection lost, will retry",
			zap.Error(cause),
			zap.Int("attempt", m.attempts),
			zap.Int("max_attempts", m.opts.MaxAttempts),
			zap.Duration("delay", m.opts.RetryDelay),
		)
	} else {
		to = GivenUp
		if m.cancel != nil {
			m.cancel()
		}
		m.opts.Logger.Warn("giving up on connection",
			zap.Error(cause),
			zap.Int("attempts", m.attempts),
		)
	}

	notify := m.setStateLocked(to)
	return func() {
		if tr != nil {
			tr.Close()
		}
		notify()
	}
}

func (m *Manager) scheduleKeepaliveLocked(gen uint64) {
	if m.opts.KeepaliveInterval <= 0 {
		return
	}
	m.keepalive = m.opts.Clock.AfterFunc(m.opts.KeepaliveInterval, func() { m.ping(gen) })
}

func (m *Manager) ping(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Active || m.transport == nil {
		m.mu.Unlock()
		return
	}
	tr := m.transport
	m.scheduleKeepaliveLocked(gen)
	m.mu.Unlock()

	raw, _ := protocol.EncodeInbound(protocol.KeepalivePing{})
	if err := tr.Send(raw); err != nil {
		// The transport's close callback drives the retry.
		m.opts.Logger.Debug("keepalive send failed", zap.Error(err))
	}
}

func (m *Manager) stopTimersLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
}

func (m *Manager) setStateLocked(to State) func() {
	from := m.state
	m.state = to
	cb := m.opts.OnStateChange
	if from == to || cb == nil {
		return func() {}
	}
	return func() { cb(from, to) }
}

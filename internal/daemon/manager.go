// ABOUTME: Connection manager owning the daemon's single outbound relay connection.
// ABOUTME: Handshake, heartbeats, idle detection, and reconnection with exponential backoff.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oakhq/oak-relay/internal/protocol"
)

// errIdle forces a reconnect when the edge has been silent too long.
var errIdle = errors.New("no traffic from edge within heartbeat window")

// Sock is the daemon-side transport handle for the relay socket.
type Sock interface {
	ReadFrame(ctx context.Context) (protocol.Frame, error)
	WriteFrame(ctx context.Context, f protocol.Frame) error
	Close() error
}

// Dialer opens the outbound connection, presenting the relay token during
// the handshake so the edge authenticates before any frame is processed.
type Dialer interface {
	Dial(ctx context.Context, baseURL, project, relayToken string) (Sock, error)
}

// Config carries the manager's connection parameters.
type Config struct {
	BaseURL    string
	Project    string
	RelayToken string

	HeartbeatInterval time.Duration
	MissThreshold     int
}

// Manager maintains exactly one outbound connection to the edge, delivering
// inbound call frames to the dispatcher and returning its terminal frames.
// Reconnection continues indefinitely until Stop or context cancellation;
// the remote side is bursty and unattended, so the daemon never gives up.
type Manager struct {
	cfg        Config
	dialer     Dialer
	dispatcher *Dispatcher
	logger     *slog.Logger

	state   atomic.Int32
	onState func(ConnState)

	mu     sync.Mutex
	cancel context.CancelFunc

	writeTimeout time.Duration
}

// NewManager creates a connection manager. Run starts it.
func NewManager(cfg Config, dialer Dialer, dispatcher *Dispatcher, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		dialer:       dialer,
		dispatcher:   dispatcher,
		logger:       logger,
		writeTimeout: 10 * time.Second,
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	return ConnState(m.state.Load())
}

// OnStateChange installs an observer for state transitions. The observer is
// invoked on its own goroutine so it can never block frame delivery.
func (m *Manager) OnStateChange(fn func(ConnState)) {
	m.onState = fn
}

func (m *Manager) setState(s ConnState) {
	old := ConnState(m.state.Swap(int32(s)))
	if old == s {
		return
	}
	m.logger.Info("connection state changed", "from", old.String(), "to", s.String())
	if m.onState != nil {
		go m.onState(s)
	}
}

// Run drives the connect/reconnect loop until Stop is called or the context
// is canceled. Returns nil on explicit stop or cancellation. Calling Run
// again after Stop is the explicit restart.
func (m *Manager) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	var bo backoff
	for {
		if runCtx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		m.setState(StateConnecting)
		// Credentials travel with the dial: the handshake is the auth step.
		m.setState(StateAuthenticating)
		sock, err := m.dialer.Dial(runCtx, m.cfg.BaseURL, m.cfg.Project, m.cfg.RelayToken)
		if err != nil {
			// The edge returns opaque failures; a bad token and a transient
			// outage look the same here and both go through backoff.
			delay := bo.next()
			m.logger.Warn("connection attempt failed", "error", err, "retry_in", delay)
			m.setState(StateReconnecting)
			if !m.sleep(runCtx, delay) {
				m.setState(StateDisconnected)
				return nil
			}
			continue
		}

		bo.reset()
		m.setState(StateConnected)
		m.logger.Info("connected to relay", "base_url", m.cfg.BaseURL, "project", m.cfg.Project)

		err = m.runSession(runCtx, sock)
		_ = sock.Close()
		if runCtx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		delay := bo.next()
		m.logger.Warn("connection lost", "error", err, "retry_in", delay)
		m.setState(StateReconnecting)
		if !m.sleep(runCtx, delay) {
			m.setState(StateDisconnected)
			return nil
		}
	}
}

// Stop disconnects and suppresses auto-reconnect until Run is invoked again.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.setState(StateDisconnected)
}

// sleep waits for the delay, returning false if the context ended first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runSession pumps one established connection: a read loop delivering calls
// to the dispatcher, and a write loop that owns the socket's outbound side,
// ticking heartbeats and watching for edge silence. Returns when either pump
// fails or the context is canceled.
func (m *Manager) runSession(ctx context.Context, sock Sock) error {
	g, gctx := errgroup.WithContext(ctx)

	var lastTraffic atomic.Int64
	lastTraffic.Store(time.Now().UnixNano())

	out := make(chan protocol.Frame, 16)

	g.Go(func() error {
		return m.readLoop(gctx, sock, out, &lastTraffic)
	})
	g.Go(func() error {
		return m.writeLoop(gctx, sock, out, &lastTraffic)
	})

	return g.Wait()
}

// readLoop pumps inbound frames. Call frames are dispatched concurrently,
// one goroutine per id; their terminal frames feed the write loop.
func (m *Manager) readLoop(ctx context.Context, sock Sock, out chan<- protocol.Frame, lastTraffic *atomic.Int64) error {
	for {
		f, err := sock.ReadFrame(ctx)
		if err != nil {
			// A bad frame is the edge's problem, not a reason to redial.
			if protocol.IsFrameError(err) {
				m.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		lastTraffic.Store(time.Now().UnixNano())

		switch f.Type {
		case protocol.FrameCall:
			go func(call protocol.Frame) {
				result := m.dispatcher.Dispatch(ctx, call)
				select {
				case out <- result:
				case <-ctx.Done():
				}
			}(f)
		case protocol.FrameHeartbeat:
			// Traffic already recorded; the edge echoes our heartbeats.
		default:
			m.logger.Warn("unexpected frame from edge", "type", string(f.Type), "id", f.ID)
		}
	}
}

// writeLoop owns the outbound side of the socket: dispatcher results,
// periodic heartbeats, and the idle check that declares the connection dead
// after a full missed-heartbeat window.
func (m *Manager) writeLoop(ctx context.Context, sock Sock, out <-chan protocol.Frame, lastTraffic *atomic.Int64) error {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	idleLimit := m.cfg.HeartbeatInterval * time.Duration(m.cfg.MissThreshold)

	write := func(f protocol.Frame) error {
		wctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
		defer cancel()
		return sock.WriteFrame(wctx, f)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-out:
			if err := write(f); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
		case <-ticker.C:
			if time.Since(time.Unix(0, lastTraffic.Load())) > idleLimit {
				return errIdle
			}
			if err := write(protocol.NewHeartbeat()); err != nil {
				return fmt.Errorf("writing heartbeat: %w", err)
			}
		}
	}
}

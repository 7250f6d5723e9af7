// ABOUTME: Session coordinator holding the single live session per project.
// ABOUTME: Registration with newest-wins supersession, call routing, and completion by generation.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oakhq/oak-relay/internal/auth"
	"github.com/oakhq/oak-relay/internal/protocol"
	"github.com/oakhq/oak-relay/internal/store"
)

// Coordinator errors
var (
	// ErrAuthFailed covers both bad relay tokens and unknown projects.
	// The distinction is deliberately not exposed to the connecting daemon.
	ErrAuthFailed = errors.New("relay authentication failed")

	// ErrOffline means no live session exists for the project.
	ErrOffline = errors.New("no session connected for project")

	// ErrStaleGeneration means a frame or heartbeat arrived from a superseded session.
	ErrStaleGeneration = errors.New("stale session generation")
)

// CredentialSource looks up a project's provisioned credentials.
type CredentialSource interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
}

// Hooks receives session lifecycle notifications, e.g. for metrics.
// Nil fields are skipped.
type Hooks struct {
	SessionRegistered func(project string)
	SessionClosed     func(project, reason string)
}

// Coordinator tracks the live session for each project and multiplexes
// concurrent pending requests across each session's socket. All mutation of
// the project map goes through the Coordinator's mutex; waiting for responses
// happens outside it.
type Coordinator struct {
	creds            CredentialSource
	heartbeatTimeout time.Duration
	logger           *slog.Logger
	hooks            Hooks

	mu       sync.Mutex
	sessions map[string]*Session
	// generations survives session teardown so a reconnecting project always
	// receives a strictly higher generation number.
	generations map[string]uint64
}

// NewCoordinator creates a Coordinator. heartbeatTimeout is the full liveness
// window (heartbeat interval times miss threshold); sessions silent for longer
// are closed by the reaper.
func NewCoordinator(creds CredentialSource, heartbeatTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		creds:            creds,
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger,
		sessions:         make(map[string]*Session),
		generations:      make(map[string]uint64),
	}
}

// SetHooks installs lifecycle hooks. Call before the coordinator is in use.
func (c *Coordinator) SetHooks(h Hooks) {
	c.hooks = h
}

// Register validates the relay token for the project and installs a new
// session over the given socket. If a live session already exists it is
// superseded first: its pending requests all fail with kind "superseded" and
// its socket is closed. Newest wins.
func (c *Coordinator) Register(ctx context.Context, project, relayToken string, sock Sock) (*Session, error) {
	p, err := c.creds.GetProject(ctx, project)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			return nil, ErrAuthFailed
		}
		return nil, fmt.Errorf("looking up project: %w", err)
	}
	if !auth.TokenEqual(relayToken, p.Credentials.RelayToken) {
		return nil, ErrAuthFailed
	}

	c.mu.Lock()
	prev := c.sessions[project]
	gen := c.generations[project] + 1
	c.generations[project] = gen
	sess := newSession(project, gen, relayToken, sock, c.logger.With("project", project, "generation", gen))
	c.sessions[project] = sess
	c.mu.Unlock()

	if prev != nil {
		prev.close("superseded by new connection", protocol.KindSuperseded)
		if c.hooks.SessionClosed != nil {
			c.hooks.SessionClosed(project, "superseded")
		}
	}

	c.logger.Info("session registered",
		"project", project,
		"generation", gen,
		"superseded", prev != nil,
	)
	if c.hooks.SessionRegistered != nil {
		c.hooks.SessionRegistered(project)
	}
	return sess, nil
}

// Pending is the handle a caller awaits after routing a call.
type Pending struct {
	ID      string
	session *Session
	ch      <-chan protocol.Frame
}

// Done yields the terminal frame for the call. The channel never closes; a
// caller that stops waiting must Retire the handle.
func (p *Pending) Done() <-chan protocol.Frame {
	return p.ch
}

// Retire removes the correlation entry so a late response is discarded
// instead of leaking. Safe to call after fulfillment.
func (p *Pending) Retire() {
	p.session.retirePending(p.ID)
}

// RouteCall forwards a call frame over the project's live session and returns
// the pending handle to await. Fails immediately with ErrOffline when no live
// session exists; calls are never buffered for a disconnected project.
func (c *Coordinator) RouteCall(ctx context.Context, project string, call protocol.Frame) (*Pending, error) {
	c.mu.Lock()
	sess := c.sessions[project]
	c.mu.Unlock()

	if sess == nil {
		return nil, ErrOffline
	}

	ch, ok := sess.createPending(call.ID)
	if !ok {
		return nil, ErrOffline
	}

	if err := sess.WriteFrame(ctx, call); err != nil {
		sess.retirePending(call.ID)
		// A failed write means the socket is dead; tear the session down so
		// subsequent calls fail fast instead of queueing behind a stale socket.
		c.CloseSession(project, sess.Generation, "write failed")
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}

	return &Pending{ID: call.ID, session: sess, ch: ch}, nil
}

// Complete resolves a response or error frame against its pending request,
// matching by id and generation. Frames from a superseded generation are
// dropped silently.
func (c *Coordinator) Complete(project string, generation uint64, f protocol.Frame) {
	c.mu.Lock()
	sess := c.sessions[project]
	c.mu.Unlock()

	if sess == nil || sess.Generation != generation {
		c.logger.Debug("dropping frame from stale session",
			"project", project,
			"frame_generation", generation,
			"id", f.ID,
		)
		return
	}
	sess.fulfill(f)
}

// Heartbeat records liveness for the session and revalidates its credential
// against the store, so a rotated relay token evicts the live session at the
// next heartbeat. Returns ErrStaleGeneration for superseded sessions and
// ErrAuthFailed when the credential no longer matches.
func (c *Coordinator) Heartbeat(ctx context.Context, project string, generation uint64) error {
	c.mu.Lock()
	sess := c.sessions[project]
	c.mu.Unlock()

	if sess == nil || sess.Generation != generation {
		return ErrStaleGeneration
	}

	p, err := c.creds.GetProject(ctx, project)
	if err != nil || !auth.TokenEqual(sess.relayToken, p.Credentials.RelayToken) {
		c.CloseSession(project, generation, "credentials rotated")
		return ErrAuthFailed
	}

	sess.touchHeartbeat()
	return nil
}

// IsOnline reports whether the project has a live session within its
// heartbeat window.
func (c *Coordinator) IsOnline(project string) bool {
	c.mu.Lock()
	sess := c.sessions[project]
	c.mu.Unlock()

	if sess == nil {
		return false
	}
	return time.Since(sess.LastHeartbeat()) <= c.heartbeatTimeout
}

// OnlineCount returns the number of live sessions.
func (c *Coordinator) OnlineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// CloseSession tears down the project's session if it still has the given
// generation. Pending requests are retired without a result; their callers
// run into their own deadlines. A successor session is never touched.
func (c *Coordinator) CloseSession(project string, generation uint64, reason string) {
	c.mu.Lock()
	sess := c.sessions[project]
	if sess == nil || sess.Generation != generation {
		c.mu.Unlock()
		return
	}
	delete(c.sessions, project)
	c.mu.Unlock()

	sess.close(reason, "")
	if c.hooks.SessionClosed != nil {
		c.hooks.SessionClosed(project, reason)
	}
}

// Run drives the heartbeat reaper until the context is canceled. Sessions
// that miss their full heartbeat window are closed the same way as an
// explicit disconnect.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.heartbeatTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapExpired()
		}
	}
}

// reapExpired closes every session whose last heartbeat is older than the
// liveness window.
func (c *Coordinator) reapExpired() {
	c.mu.Lock()
	var expired []*Session
	for _, sess := range c.sessions {
		if time.Since(sess.LastHeartbeat()) > c.heartbeatTimeout {
			expired = append(expired, sess)
		}
	}
	c.mu.Unlock()

	for _, sess := range expired {
		c.logger.Warn("session missed heartbeat window",
			"project", sess.Project,
			"generation", sess.Generation,
			"last_heartbeat", sess.LastHeartbeat(),
		)
		c.CloseSession(sess.Project, sess.Generation, "heartbeat timeout")
	}
}

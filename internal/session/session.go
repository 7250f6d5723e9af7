// ABOUTME: Represents one live daemon connection on the edge and its pending calls.
// ABOUTME: Owns the correlation map and the serialized write path for the socket.

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oakhq/oak-relay/internal/protocol"
)

// Sock is the transport handle a Session writes frames to. The websocket
// endpoint adapts the real connection to this; tests supply fakes.
type Sock interface {
	WriteFrame(ctx context.Context, f protocol.Frame) error
	Close(reason string) error
}

// Session is the edge-side representation of one active outbound connection
// from a daemon. At most one live Session exists per project; successive
// Sessions for the same project carry increasing generation numbers.
type Session struct {
	Project     string
	Generation  uint64
	ConnectedAt time.Time

	sock       Sock
	relayToken string
	logger     *slog.Logger

	// writeMu serializes frame writes; frames go out atomically, one at a time.
	writeMu sync.Mutex

	mu            sync.Mutex
	lastHeartbeat time.Time
	pending       map[string]chan protocol.Frame
	closed        bool
}

func newSession(project string, generation uint64, relayToken string, sock Sock, logger *slog.Logger) *Session {
	now := time.Now()
	return &Session{
		Project:       project,
		Generation:    generation,
		ConnectedAt:   now,
		sock:          sock,
		relayToken:    relayToken,
		logger:        logger,
		lastHeartbeat: now,
		pending:       make(map[string]chan protocol.Frame),
	}
}

// WriteFrame sends a frame over the session's socket. Writes are serialized
// so concurrent callers never interleave partial frames.
func (s *Session) WriteFrame(ctx context.Context, f protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sock.WriteFrame(ctx, f)
}

// createPending registers a correlation entry for an in-flight call.
// Returns false if the session is already closed.
func (s *Session) createPending(id string) (<-chan protocol.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan protocol.Frame, 1)
	s.pending[id] = ch
	return ch, true
}

// retirePending removes a correlation entry without fulfilling it.
// Late frames for the id are subsequently dropped.
func (s *Session) retirePending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// fulfill resolves the pending entry matching the frame's id. The entry is
// removed before the result is delivered, so a pending request can never be
// fulfilled twice. Frames with no matching entry are dropped.
func (s *Session) fulfill(f protocol.Frame) {
	s.mu.Lock()
	ch, ok := s.pending[f.ID]
	if ok {
		delete(s.pending, f.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("dropping frame for unknown or retired request", "id", f.ID)
		return
	}
	ch <- f
}

// touchHeartbeat records traffic from the daemon.
func (s *Session) touchHeartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// close marks the session dead and closes the socket. When failKind is
// non-empty every pending request is fulfilled with an error frame of that
// kind; otherwise pending entries are retired silently and their callers run
// into their own deadlines.
func (s *Session) close(reason, failKind string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	orphaned := s.pending
	s.pending = make(map[string]chan protocol.Frame)
	s.mu.Unlock()

	for id, ch := range orphaned {
		if failKind != "" {
			ch <- protocol.NewError(id, failKind, reason)
		}
	}

	if err := s.sock.Close(reason); err != nil {
		s.logger.Debug("closing session socket", "error", err)
	}

	s.logger.Info("session closed",
		"project", s.Project,
		"generation", s.Generation,
		"reason", reason,
		"orphaned_requests", len(orphaned),
	)
}

// pendingCount returns the number of in-flight calls, for tests and status.
func (s *Session) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

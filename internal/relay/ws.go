// ABOUTME: Daemon-facing websocket endpoint on the edge.
// ABOUTME: Authenticates the upgrade, registers the session, and pumps inbound frames to the coordinator.

package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/oakhq/oak-relay/internal/auth"
	"github.com/oakhq/oak-relay/internal/protocol"
	"github.com/oakhq/oak-relay/internal/session"
)

// handleConnect accepts a daemon's outbound websocket connection. The relay
// token rides the upgrade request, so authentication completes before any
// frame is read; a bad token never gets a socket.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	project := r.Header.Get(protocol.HeaderProject)
	if project == "" {
		project = s.config.Relay.DefaultProject
	}

	token, err := auth.ExtractToken(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Check credentials before the upgrade so a bad token is refused with a
	// plain 401 and never holds a socket.
	if p, err := s.store.GetProject(r.Context(), project); err != nil || !auth.TokenEqual(token, p.Credentials.RelayToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "project", project, "error", err)
		return
	}

	sock := &edgeSock{conn: conn}
	sess, err := s.coordinator.Register(r.Context(), project, token, sock)
	if err != nil {
		// Unknown project and bad token close identically; the daemon learns
		// nothing about which projects exist.
		if errors.Is(err, session.ErrAuthFailed) {
			conn.Close(websocket.StatusPolicyViolation, "authentication failed")
			return
		}
		s.logger.Error("session registration failed", "project", project, "error", err)
		conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}

	s.readLoop(r.Context(), conn, sess)
}

// readLoop pumps frames from the daemon until the socket dies or the session
// is superseded. Heartbeats are echoed back so the daemon's idle detector sees
// traffic; terminal frames resolve pending calls.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	project, gen := sess.Project, sess.Generation
	defer s.coordinator.CloseSession(project, gen, "connection closed")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.logger.Debug("session read ended", "project", project, "generation", gen, "error", err)
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "project", project, "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameHeartbeat:
			if err := s.coordinator.Heartbeat(ctx, project, gen); err != nil {
				s.logger.Info("heartbeat rejected", "project", project, "generation", gen, "error", err)
				return
			}
			if err := sess.WriteFrame(ctx, protocol.NewHeartbeat()); err != nil {
				return
			}
		case protocol.FrameResponse, protocol.FrameError:
			s.coordinator.Complete(project, gen, frame)
		default:
			s.logger.Warn("unexpected frame from daemon", "project", project, "type", frame.Type)
		}
	}
}

// edgeSock adapts a websocket connection to the session.Sock interface.
type edgeSock struct {
	conn *websocket.Conn
}

func (s *edgeSock) WriteFrame(ctx context.Context, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *edgeSock) Close(reason string) error {
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}

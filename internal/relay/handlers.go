// ABOUTME: Agent-facing HTTP handlers: the relay call façade and the health probe.
// ABOUTME: Correlates each call with a fresh id and maps error kinds to HTTP statuses.

package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oakhq/oak-relay/internal/auth"
	"github.com/oakhq/oak-relay/internal/protocol"
	"github.com/oakhq/oak-relay/internal/session"
	"github.com/oakhq/oak-relay/internal/store"
)

// relayRequest is the body an agent posts to /relay. The id is the agent's own
// request identity and is echoed back verbatim; the edge correlates on the
// socket with its own fresh id.
type relayRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type relayResponse struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *relayError     `json:"error,omitempty"`
}

type relayError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// handleRelay terminates one agent tool call: authenticate, forward over the
// project's live session, and wait for the terminal frame or the deadline.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	project := s.resolveProject(r)

	p, err := s.store.GetProject(r.Context(), project)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			s.metrics.RelayCalls.WithLabelValues("unauthorized").Inc()
			renderError(w, http.StatusUnauthorized, "", "unauthorized", "invalid credentials")
			return
		}
		s.logger.Error("project lookup failed", "project", project, "error", err)
		renderError(w, http.StatusInternalServerError, "", "internal", "internal error")
		return
	}

	token, err := auth.ExtractToken(r.Header.Get("Authorization"))
	if err != nil || !auth.TokenEqual(token, p.Credentials.AgentToken) {
		s.metrics.RelayCalls.WithLabelValues("unauthorized").Inc()
		renderError(w, http.StatusUnauthorized, "", "unauthorized", "invalid credentials")
		return
	}

	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RelayCalls.WithLabelValues("bad_request").Inc()
		renderError(w, http.StatusBadRequest, "", protocol.KindBadParams, "invalid request body")
		return
	}
	if req.Method == "" {
		s.metrics.RelayCalls.WithLabelValues("bad_request").Inc()
		renderError(w, http.StatusBadRequest, req.ID, protocol.KindBadParams, "method is required")
		return
	}

	// The socket correlation id is minted here, never taken from the agent, so
	// two agents reusing an id can never collide on the session's pending map.
	callID := uuid.New().String()
	call := protocol.NewCall(callID, req.Method, req.Params)

	pending, err := s.coordinator.RouteCall(r.Context(), project, call)
	if err != nil {
		if errors.Is(err, session.ErrOffline) {
			s.metrics.RelayCalls.WithLabelValues("offline").Inc()
			renderError(w, http.StatusServiceUnavailable, req.ID, protocol.KindOffline, "daemon is not connected")
			return
		}
		s.logger.Error("routing call failed", "project", project, "method", req.Method, "error", err)
		renderError(w, http.StatusInternalServerError, req.ID, "internal", "internal error")
		return
	}

	timer := time.NewTimer(s.config.Relay.RequestTimeout)
	defer timer.Stop()

	var frame protocol.Frame
	select {
	case frame = <-pending.Done():
	case <-timer.C:
		pending.Retire()
		s.metrics.RelayCalls.WithLabelValues("timeout").Inc()
		s.metrics.CallDuration.Observe(time.Since(start).Seconds())
		s.logger.Warn("relay call timed out", "project", project, "method", req.Method, "call_id", callID)
		renderError(w, http.StatusGatewayTimeout, req.ID, protocol.KindTimeout, "daemon did not respond in time")
		return
	case <-r.Context().Done():
		// Agent went away; stop holding the correlation entry.
		pending.Retire()
		s.metrics.RelayCalls.WithLabelValues("canceled").Inc()
		return
	}

	s.metrics.CallDuration.Observe(time.Since(start).Seconds())
	s.renderFrame(w, req.ID, frame)
}

// renderFrame translates the terminal frame into the agent-facing response.
// Tool-level failures are successful relays and render as 200 with an error
// body; relay-level failures map to distinct statuses so the agent can tell
// retry-later conditions apart from its own mistakes.
func (s *Server) renderFrame(w http.ResponseWriter, agentID string, frame protocol.Frame) {
	switch frame.Type {
	case protocol.FrameResponse:
		s.metrics.RelayCalls.WithLabelValues("ok").Inc()
		renderJSON(w, http.StatusOK, relayResponse{ID: agentID, Result: frame.Result})
	case protocol.FrameError:
		status, label := statusForKind(frame.Kind)
		s.metrics.RelayCalls.WithLabelValues(label).Inc()
		renderError(w, status, agentID, frame.Kind, frame.Message)
	default:
		s.logger.Error("non-terminal frame delivered to pending call", "type", frame.Type)
		renderError(w, http.StatusInternalServerError, agentID, "internal", "internal error")
	}
}

// statusForKind maps a daemon error kind to an HTTP status and metric label.
func statusForKind(kind string) (int, string) {
	switch kind {
	case protocol.KindToolExecutionFailed:
		return http.StatusOK, "tool_error"
	case protocol.KindUnknownMethod, protocol.KindBadParams:
		return http.StatusBadRequest, "bad_request"
	case protocol.KindSuperseded:
		return http.StatusBadGateway, "superseded"
	case protocol.KindOffline:
		return http.StatusServiceUnavailable, "offline"
	case protocol.KindTimeout:
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "unknown_kind"
	}
}

// healthStatus is the unauthenticated health probe body. It reveals only
// whether a daemon is online, never credentials or session detail.
type healthStatus struct {
	Project string `json:"project"`
	Online  bool   `json:"online"`
}

// handleHealth reports daemon liveness for the resolved project. Unknown
// projects report offline rather than erroring; the probe leaks nothing about
// which projects exist.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	project := s.resolveProject(r)
	online := false
	if _, err := s.store.GetProject(r.Context(), project); err == nil {
		online = s.coordinator.IsOnline(project)
	}
	renderJSON(w, http.StatusOK, healthStatus{Project: project, Online: online})
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, status int, agentID, reason, message string) {
	renderJSON(w, status, relayResponse{ID: agentID, Error: &relayError{Reason: reason, Message: message}})
}

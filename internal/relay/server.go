// ABOUTME: Edge relay server wiring the HTTP surface, websocket endpoint, and coordinator.
// ABOUTME: Manages listeners (TCP or Tailscale), lifecycle, and graceful shutdown.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsnet"

	"github.com/oakhq/oak-relay/internal/config"
	"github.com/oakhq/oak-relay/internal/protocol"
	"github.com/oakhq/oak-relay/internal/session"
	"github.com/oakhq/oak-relay/internal/store"
)

// Server is the edge relay process: it terminates agent-facing HTTP calls,
// accepts daemon websocket connections, and pairs the two per project.
type Server struct {
	config      *config.Edge
	store       store.Store
	coordinator *session.Coordinator
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
	metrics     *metrics
	registry    *prometheus.Registry
}

// New creates a Server from configuration. The credential store is opened
// from the configured database path.
func New(cfg *config.Edge, logger *slog.Logger) (*Server, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	heartbeatWindow := cfg.Relay.HeartbeatInterval * time.Duration(cfg.Relay.MissThreshold)
	coord := session.NewCoordinator(s, heartbeatWindow, logger.With("component", "coordinator"))

	registry := prometheus.NewRegistry()
	m := newMetrics(registry)

	srv := &Server{
		config:      cfg,
		store:       s,
		coordinator: coord,
		logger:      logger.With("component", "relay"),
		metrics:     m,
		registry:    registry,
	}

	coord.SetHooks(session.Hooks{
		SessionRegistered: func(string) { m.LiveSessions.Inc() },
		SessionClosed:     func(string, string) { m.LiveSessions.Dec() },
	})

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// routes builds the HTTP mux: the agent-facing relay surface, the daemon
// connect endpoint, the unauthenticated health probe, and optional metrics.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /relay", s.handleRelay)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /connect", s.handleConnect)

	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Store exposes the credential store, e.g. for provisioning in tests.
func (s *Server) Store() store.Store {
	return s.store
}

// Run starts the relay and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	// Reap sessions that miss their heartbeat window.
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go s.coordinator.Run(reaperCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down relay")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		return s.setupTailscaleListener(ctx)
	}
	return net.Listen("tcp", s.config.Server.HTTPAddr)
}

// resolveTailscaleStateDir returns the state directory, using a default under
// the user's data dir if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "oak-relay", "tailscale"), nil
}

// setupTailscaleListener joins the tailnet and listens there. With funnel
// enabled the relay gets a public HTTPS URL, which is how a daemon behind NAT
// and a cloud agent both reach the same endpoint.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := tsCfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return nil, errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "funnel", tsCfg.Funnel)
	if _, err := s.tsnetServer.Up(ctx); err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	if tsCfg.Funnel {
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	}

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}

// resolveProject picks the project for an inbound request: the header when
// present, the configured default otherwise.
func (s *Server) resolveProject(r *http.Request) string {
	if p := r.Header.Get(protocol.HeaderProject); p != "" {
		return p
	}
	return s.config.Relay.DefaultProject
}

// Package relay implements the edge server that pairs cloud agents with
// local daemons.
//
// # Surfaces
//
// The edge exposes three HTTP endpoints:
//
//   - GET /connect - daemon websocket upgrade, authenticated by relay token
//   - POST /relay - agent tool call, authenticated by agent token
//   - GET /health - unauthenticated liveness probe, reports online/offline only
//
// A /metrics endpoint (Prometheus) can be enabled in configuration.
//
// # Call Flow
//
// handleRelay mints a fresh correlation id for each call, routes it over the
// project's live session, and blocks until the terminal frame, the request
// timeout, or the agent hanging up. Tool-level failures relay as 200 with an
// error body; relay-level failures map to distinct statuses:
//
//   - 400 unknown_method / bad_params
//   - 401 bad or missing agent token
//   - 502 superseded
//   - 503 no daemon connected
//   - 504 daemon did not answer in time
//
// # Listeners
//
// The relay serves plain TCP by default. With tailscale enabled it joins a
// tailnet via tsnet instead, and with funnel on it gets a public HTTPS URL,
// which lets both the cloud agent and a daemon behind NAT reach it without a
// public host.
package relay

// ABOUTME: Tests for edge and daemon configuration loading.
// ABOUTME: Covers env expansion, duration parsing, defaults, and the timing consistency rule.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadEdge(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8484"
database:
  path: ":memory:"
relay:
  default_project: demo
  heartbeat_interval: 5s
  miss_threshold: 3
  request_timeout: 30s
logging:
  level: debug
  format: json
`)

	cfg, err := LoadEdge(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8484", cfg.Server.HTTPAddr)
	assert.Equal(t, "demo", cfg.Relay.DefaultProject)
	assert.Equal(t, 5*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEdgeDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8484"
database:
  path: ":memory:"
`)

	cfg, err := LoadEdge(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, DefaultMissThreshold, cfg.Relay.MissThreshold)
	assert.Equal(t, DefaultRequestTimeout, cfg.Relay.RequestTimeout)
}

func TestLoadEdgeRejectsInconsistentTimeouts(t *testing.T) {
	// 20s timeout < 10s * 3 heartbeat window: a session could be declared
	// offline mid-request, so loading must fail.
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8484"
database:
  path: ":memory:"
relay:
  heartbeat_interval: 10s
  miss_threshold: 3
  request_timeout: 20s
`)

	_, err := LoadEdge(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout")
}

func TestLoadEdgeRequiresAddrOrTailscale(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ":memory:"
`)
	_, err := LoadEdge(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_addr")

	path = writeConfig(t, `
tailscale:
  enabled: true
  hostname: oak-relay
database:
  path: ":memory:"
`)
	_, err = LoadEdge(path)
	require.NoError(t, err)
}

func TestLoadDaemon(t *testing.T) {
	t.Setenv("OAK_RELAY_TOKEN", "tok-from-env")

	path := writeConfig(t, `
base_url: "https://relay.example.com"
project: demo
relay_token: "${OAK_RELAY_TOKEN}"
tools:
  base_url: "http://127.0.0.1:7777"
relay:
  heartbeat_interval: 20s
`)

	cfg, err := LoadDaemon(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-from-env", cfg.RelayToken)
	assert.Equal(t, "https://relay.example.com", cfg.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.Relay.HeartbeatInterval)
}

func TestLoadDaemonMissingFields(t *testing.T) {
	path := writeConfig(t, `
base_url: "https://relay.example.com"
project: demo
`)
	_, err := LoadDaemon(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay_token")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadEdge(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

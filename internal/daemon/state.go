// ABOUTME: Connection state machine values for the local connection manager.
// ABOUTME: Exactly one instance per daemon process; transitions are serialized.

package daemon

// ConnState is the daemon's connection lifecycle state.
type ConnState int32

// Connection states. Transitions are driven by discrete events (dial result,
// frame received, heartbeat timeout, explicit stop) on the manager's run loop.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

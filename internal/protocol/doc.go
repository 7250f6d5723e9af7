// Package protocol defines the frame vocabulary of the relay socket.
//
// # Frames
//
// The daemon and the edge exchange JSON frames over a single websocket.
// Frame is a tagged union discriminated by Type:
//
//   - call: edge -> daemon, carries a method and params under a correlation id
//   - response: daemon -> edge, carries the result for a call's id
//   - error: daemon -> edge (or edge-internal), carries a kind and message
//   - heartbeat: both directions, no id, liveness only
//
// Every call receives exactly one terminal frame (response or error) with the
// same id. Heartbeats never correlate with anything.
//
// # Error Kinds
//
// Error frames carry a machine-readable kind so the edge can map daemon
// failures onto its HTTP surface:
//
//   - tool_execution_failed: the tool ran and failed
//   - unknown_method: the daemon does not serve this method
//   - bad_params: the request body was unusable
//   - superseded: the session was replaced mid-request
//   - offline: no daemon session exists
//   - timeout: the daemon did not answer in time
//
// # Validation
//
// Decode rejects frames that parse as JSON but violate the union shape, so
// malformed frames never travel past the socket boundary. Encode validates
// symmetrically.
package protocol

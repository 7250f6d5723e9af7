// Package daemon implements the local process that holds the outbound relay
// connection and executes tool calls.
//
// # Connection Manager
//
// Manager owns the connection lifecycle as a state machine:
//
//	disconnected -> connecting -> authenticating -> connected
//	                     ^                              |
//	                     +------- reconnecting <--------+
//
// Run drives the loop: dial, serve the session, and on any failure back off
// exponentially (1s base, 60s cap) and retry forever. Stop disconnects and
// suppresses further reconnects. State observers are invoked on their own
// goroutines so a slow observer never stalls frame delivery.
//
// # Session Pumps
//
// A live session runs two pumps under an errgroup. The read pump decodes
// inbound frames and dispatches calls concurrently; the write pump owns the
// socket's write side, interleaving responses with periodic heartbeats and
// watching for idleness. A connection with no inbound traffic for the full
// heartbeat window (interval times miss threshold) is declared dead and
// redialed.
//
// # Dispatch
//
// Dispatcher turns one call frame into exactly one terminal frame. Tool
// failures become error frames with kind "tool_execution_failed", unknown
// methods become "unknown_method", and a panicking executor is recovered into
// an error frame rather than taking down the connection.
package daemon

// Package session holds the edge-side state for connected daemons.
//
// # One Session Per Project
//
// Each provisioned project has at most one live Session. A daemon that
// connects while a session already exists supersedes it: the old session's
// pending requests all fail with kind "superseded", its socket is closed, and
// the new session takes over. Newest wins, always.
//
// # Generations
//
// Every registration for a project gets a strictly increasing generation
// number, and the counter survives session teardown. Frames and heartbeats
// are matched against the generation they arrived on, so a response from a
// superseded connection can never fulfill a request routed to its successor.
//
// # Correlation
//
// The Coordinator routes a call frame over the project's session and hands
// back a Pending. The session keeps a correlation map from frame id to a
// buffered channel; fulfillment deletes the entry before delivering, which
// makes completion exactly-once. Callers that stop waiting must Retire the
// handle so late responses are dropped instead of leaking.
//
// # Liveness
//
// Heartbeats stamp the session and revalidate its relay token against the
// credential store, so rotated credentials evict the live session at the next
// heartbeat. Run drives a reaper that closes sessions silent for the full
// heartbeat window.
package session

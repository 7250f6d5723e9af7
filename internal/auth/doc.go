// Package auth provides credential generation and comparison for the relay.
//
// Each project is provisioned with a pair of opaque bearer tokens: the relay
// token authenticates the daemon's websocket connection, the agent token
// authenticates the cloud agent's HTTP calls. The tokens carry no claims and
// are never interchangeable; possession is the whole credential.
//
// Tokens are 32 bytes from crypto/rand, base64url-encoded, and compared in
// constant time.
package auth

// ABOUTME: Opaque credential handling for the relay: generation and constant-time comparison.
// ABOUTME: Tokens carry no claims; they are high-entropy random strings compared byte-for-byte.

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// tokenBytes is the entropy of a generated token. 32 bytes = 256 bits.
const tokenBytes = 32

// Token errors
var (
	ErrMissingToken = errors.New("missing token")
	ErrEmptyToken   = errors.New("empty token")
)

// Credentials is the pair provisioned once per project. RelayToken
// authenticates the local daemon's socket; AgentToken authenticates inbound
// HTTP callers. The two are independent so either side can be rotated alone.
type Credentials struct {
	RelayToken string
	AgentToken string
}

// GenerateToken returns a new opaque token with at least 256 bits of entropy,
// base64url-encoded without padding.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateCredentials returns a freshly generated credential pair.
func GenerateCredentials() (Credentials, error) {
	relay, err := GenerateToken()
	if err != nil {
		return Credentials{}, err
	}
	agent, err := GenerateToken()
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{RelayToken: relay, AgentToken: agent}, nil
}

// TokenEqual compares two tokens in constant time. Empty tokens never match.
func TokenEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ExtractToken pulls a token out of an Authorization header value. Both
// "Bearer <token>" and a bare token are accepted for client compatibility.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingToken
	}
	token := authHeader
	if strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

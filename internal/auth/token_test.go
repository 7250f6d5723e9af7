// ABOUTME: Tests for opaque token generation, comparison, and header extraction.
// ABOUTME: Covers bearer and bare token forms plus the empty-token edge cases.

package auth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenEntropy(t *testing.T) {
	tok, err := GenerateToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, 32, "token must carry 256 bits of entropy")

	other, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestGenerateCredentialsIndependent(t *testing.T) {
	creds, err := GenerateCredentials()
	require.NoError(t, err)
	assert.NotEmpty(t, creds.RelayToken)
	assert.NotEmpty(t, creds.AgentToken)
	assert.NotEqual(t, creds.RelayToken, creds.AgentToken)
}

func TestTokenEqual(t *testing.T) {
	assert.True(t, TokenEqual("secret", "secret"))
	assert.False(t, TokenEqual("secret", "Secret"))
	assert.False(t, TokenEqual("secret", "secret2"))
	assert.False(t, TokenEqual("", ""))
	assert.False(t, TokenEqual("secret", ""))
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"bearer form", "Bearer tok123", "tok123", nil},
		{"bare token", "tok123", "tok123", nil},
		{"missing header", "", "", ErrMissingToken},
		{"bearer with empty token", "Bearer ", "", ErrEmptyToken},
		{"whitespace only", "   ", "", ErrEmptyToken},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractToken(tc.header)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

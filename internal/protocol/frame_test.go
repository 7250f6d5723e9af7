// ABOUTME: Tests for relay frame decoding and union validation.
// ABOUTME: Covers each frame type plus the malformed shapes rejected at the boundary.

package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCall(t *testing.T) {
	f, err := Decode([]byte(`{"id":"abc","type":"call","method":"oak_search","params":{"query":"relay"}}`))
	require.NoError(t, err)
	assert.Equal(t, FrameCall, f.Type)
	assert.Equal(t, "abc", f.ID)
	assert.Equal(t, "oak_search", f.Method)
	assert.JSONEq(t, `{"query":"relay"}`, string(f.Params))
}

func TestDecodeHeartbeat(t *testing.T) {
	f, err := Decode([]byte(`{"type":"heartbeat"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameHeartbeat, f.Type)
	assert.Empty(t, f.ID)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{{{`, ErrMalformedFrame},
		{"unknown type", `{"id":"x","type":"ping"}`, ErrUnknownType},
		{"call without id", `{"type":"call","method":"m"}`, ErrMissingID},
		{"call without method", `{"id":"x","type":"call"}`, ErrMissingMethod},
		{"response without id", `{"type":"response","result":{}}`, ErrMissingID},
		{"error without kind", `{"id":"x","type":"error","message":"boom"}`, ErrMalformedFrame},
		{"heartbeat with id", `{"id":"x","type":"heartbeat"}`, ErrUnexpectedField},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEncodeValidates(t *testing.T) {
	_, err := Encode(Frame{Type: FrameCall, Method: "m"})
	assert.ErrorIs(t, err, ErrMissingID)

	data, err := Encode(NewError("id-1", KindToolExecutionFailed, "tool raised"))
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindToolExecutionFailed, f.Kind)
	assert.True(t, f.IsTerminal())
}

func TestIsFrameError(t *testing.T) {
	_, err := Decode([]byte(`{"id":"x","type":"ping"}`))
	require.Error(t, err)
	assert.True(t, IsFrameError(err))

	assert.False(t, IsFrameError(context.DeadlineExceeded))
}

func TestHeartbeatRoundTrip(t *testing.T) {
	data, err := Encode(NewHeartbeat())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"heartbeat"}`, string(data))
}

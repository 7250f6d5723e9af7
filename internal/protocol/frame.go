// ABOUTME: Relay frame types exchanged over the daemon-to-edge socket.
// ABOUTME: Tagged union of call/response/error/heartbeat, validated at decode time.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// HeaderProject carries the project identity on the connect handshake and,
// optionally, on agent-facing HTTP calls when the edge hosts several projects.
const HeaderProject = "X-Relay-Project"

// FrameType discriminates the frame union.
type FrameType string

// Frame types carried on the wire.
const (
	FrameCall      FrameType = "call"
	FrameResponse  FrameType = "response"
	FrameError     FrameType = "error"
	FrameHeartbeat FrameType = "heartbeat"
)

// Error kinds carried by error frames.
const (
	KindToolExecutionFailed = "tool_execution_failed"
	KindUnknownMethod       = "unknown_method"
	KindBadParams           = "bad_params"
	KindSuperseded          = "superseded"
	KindOffline             = "offline"
	KindTimeout             = "timeout"
)

// Frame decode errors
var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrUnknownType     = errors.New("unknown frame type")
	ErrMissingID       = errors.New("frame id is required")
	ErrMissingMethod   = errors.New("call frame requires a method")
	ErrUnexpectedField = errors.New("unexpected field for frame type")
)

// Frame is the unit of exchange over the relay socket. The ID is empty only
// for heartbeats. Which of the remaining fields are populated depends on Type.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Type    FrameType       `json:"type"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
}

// NewCall builds a call frame for the given correlation id and method.
func NewCall(id, method string, params json.RawMessage) Frame {
	return Frame{ID: id, Type: FrameCall, Method: method, Params: params}
}

// NewResponse builds a response frame carrying a tool result.
func NewResponse(id string, result json.RawMessage) Frame {
	return Frame{ID: id, Type: FrameResponse, Result: result}
}

// NewError builds an error frame with the given kind and message.
func NewError(id, kind, message string) Frame {
	return Frame{ID: id, Type: FrameError, Kind: kind, Message: message}
}

// NewHeartbeat builds a heartbeat frame.
func NewHeartbeat() Frame {
	return Frame{Type: FrameHeartbeat}
}

// IsTerminal reports whether the frame resolves a pending call.
func (f Frame) IsTerminal() bool {
	return f.Type == FrameResponse || f.Type == FrameError
}

// Validate checks the per-type field requirements of the union.
func (f Frame) Validate() error {
	switch f.Type {
	case FrameCall:
		if f.ID == "" {
			return ErrMissingID
		}
		if f.Method == "" {
			return ErrMissingMethod
		}
	case FrameResponse:
		if f.ID == "" {
			return ErrMissingID
		}
	case FrameError:
		if f.ID == "" {
			return ErrMissingID
		}
		if f.Kind == "" {
			return fmt.Errorf("%w: error frame requires a kind", ErrMalformedFrame)
		}
	case FrameHeartbeat:
		if f.ID != "" {
			return fmt.Errorf("%w: heartbeat carries no id", ErrUnexpectedField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return nil
}

// Decode parses and validates a single frame from wire bytes.
// Frames that parse as JSON but violate the union shape are rejected here so
// no malformed frame travels further into the system.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// IsFrameError reports whether err is a decode or validation failure, as
// opposed to a transport failure. Callers can drop the frame and keep the
// connection.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrMissingID) ||
		errors.Is(err, ErrMissingMethod) ||
		errors.Is(err, ErrUnexpectedField)
}

// Encode serializes a frame to wire bytes.
func Encode(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

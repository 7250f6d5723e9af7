// ABOUTME: Tool execution interface and the HTTP client for the local tool service.
// ABOUTME: Tool implementations live in an external service; this only invokes them.

package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Executor errors
var (
	// ErrUnknownMethod means the tool service has no tool by that name.
	ErrUnknownMethod = errors.New("unknown tool method")
)

// Executor invokes a named local tool and returns its raw JSON result.
type Executor interface {
	Execute(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// HTTPExecutor invokes tools over the local tool service's HTTP endpoint.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExecutor creates an executor pointed at the tool service base URL.
func NewHTTPExecutor(baseURL string) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: baseURL,
		// Tool executions can be slow (search queries); the relay request
		// timeout is the real deadline, enforced by the caller's context.
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

type executeRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Execute posts the tool invocation to the local service and returns the
// response body as the result. A 404 maps to ErrUnknownMethod; any other
// non-2xx status is a tool execution failure.
func (e *HTTPExecutor) Execute(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(executeRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tools/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tool service: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tool response: %w", err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, fmt.Errorf("tool service returned %d: %s", res.StatusCode, truncate(data, 256))
	}

	if len(data) == 0 {
		data = []byte("null")
	}
	return json.RawMessage(data), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

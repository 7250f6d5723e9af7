// ABOUTME: Local dispatcher turning inbound call frames into tool executions.
// ABOUTME: Produces exactly one response or error frame per call, never crashes the manager.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oakhq/oak-relay/internal/protocol"
	"github.com/oakhq/oak-relay/internal/tool"
)

// Dispatcher invokes the local tool-execution service for call frames.
// Calls for distinct ids may run concurrently; the manager spawns one
// goroutine per call.
type Dispatcher struct {
	exec   tool.Executor
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher backed by the given executor.
func NewDispatcher(exec tool.Executor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{exec: exec, logger: logger}
}

// Dispatch executes the call and returns its terminal frame, tagged with the
// same id the call carried. Executor failures and panics become
// tool_execution_failed error frames; an unknown method is a protocol-level
// error. The call is always answered.
func (d *Dispatcher) Dispatch(ctx context.Context, call protocol.Frame) (out protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool execution panicked", "method", call.Method, "id", call.ID, "panic", r)
			out = protocol.NewError(call.ID, protocol.KindToolExecutionFailed, fmt.Sprintf("tool panicked: %v", r))
		}
	}()

	result, err := d.exec.Execute(ctx, call.Method, call.Params)
	if err != nil {
		if errors.Is(err, tool.ErrUnknownMethod) {
			return protocol.NewError(call.ID, protocol.KindUnknownMethod, err.Error())
		}
		d.logger.Warn("tool execution failed", "method", call.Method, "id", call.ID, "error", err)
		return protocol.NewError(call.ID, protocol.KindToolExecutionFailed, err.Error())
	}

	return protocol.NewResponse(call.ID, result)
}

package engine

import (
	"context"
	"encoding/json"

	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
	"github.com/soyeahso/playground/internal/tools"
)

// unknownTool is returned when no registry is configured at all.
var unknownTool = json.RawMessage(`{"error":"unknown tool"}`)

// toolExecutor runs completed tool calls. It never returns an error: every
// failure becomes a result document fed back to the model.
type toolExecutor struct {
	registry *tools.Registry
	log      *logging.Logger
}

func (x *toolExecutor) definitions() []provider.ToolDefinition {
	if x.registry == nil {
		return nil
	}
	return x.registry.Definitions()
}

func (x *toolExecutor) run(ctx context.Context, tc provider.ToolCall) domain.ToolCallRecord {
	args := tc.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result := unknownTool
	if x.registry != nil {
		result = x.registry.Execute(ctx, tc.Name, args)
	}

	ev := x.log.Debug()
	if tools.IsError(result) {
		ev = x.log.Warn()
	}
	ev.Str("tool", tc.Name).Str("callId", tc.ID).RawJSON("result", result).Msg("tool executed")

	return domain.ToolCallRecord{
		ID:        tc.ID,
		Name:      tc.Name,
		Arguments: append(json.RawMessage(nil), args...),
		Result:    result,
	}
}

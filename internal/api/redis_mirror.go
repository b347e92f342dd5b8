package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/frankawp/data-agent/internal/events"
	"github.com/frankawp/data-agent/internal/telemetry"
)

// RedisMirror republishes every Event Bus event onto a Redis pub/sub channel
// keyed by turn id, so a second process can attach to the same turn's
// stream without sharing this process's in-memory events.Bus.
type RedisMirror struct {
	client *redis.Client
	log    telemetry.Logger
}

// NewRedisMirror wraps an already-configured *redis.Client.
func NewRedisMirror(client *redis.Client, log telemetry.Logger) *RedisMirror {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &RedisMirror{client: client, log: log}
}

// Channel returns the pub/sub channel name for a turn.
func (m *RedisMirror) Channel(turnID string) string {
	return fmt.Sprintf("data-agent:events:%s", turnID)
}

// Publish mirrors one event as JSON. Failures are logged and swallowed —
// Redis is a secondary fan-out path, never allowed to fail a turn that is
// already being delivered to local subscribers.
func (m *RedisMirror) Publish(ctx context.Context, turnID string, eventType string, payload any) {
	if m == nil || m.client == nil {
		return
	}
	encoded, err := json.Marshal(wireEvent{Type: eventType, Data: payload})
	if err != nil {
		m.log.Warn(ctx, "redis mirror: marshal failed", "turn_id", turnID, "error", err.Error())
		return
	}
	if err := m.client.Publish(ctx, m.Channel(turnID), encoded).Err(); err != nil {
		m.log.Warn(ctx, "redis mirror: publish failed", "turn_id", turnID, "error", err.Error())
	}
}

// wireEvent is the JSON envelope mirrored to Redis, matching the SSE/
// WebSocket frame shape so a remote subscriber needs no translation layer.
type wireEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// eventTypeAndPayload maps an events.Event to its SSE/WebSocket wire type
// and JSON-able payload.
func eventTypeAndPayload(e events.Event) (string, any) {
	switch ev := e.(type) {
	case *events.ThinkingEvent:
		return "thinking", map[string]any{"content": ev.Content}
	case *events.ToolCallEvent:
		return "tool_call", map[string]any{"step": ev.Step, "tool_name": ev.ToolName, "args": ev.Args}
	case *events.ToolResultEvent:
		return "tool_result", map[string]any{"step": ev.Step, "tool_name": ev.ToolName, "result": ev.Result}
	case *events.SubagentToolCallEvent:
		return "subagent_tool_call", map[string]any{"step": ev.Step, "subagent_name": ev.SubagentName, "tool_name": ev.ToolName, "args": ev.Args}
	case *events.SubagentToolResultEvent:
		return "subagent_tool_result", map[string]any{"step": ev.Step, "subagent_name": ev.SubagentName, "tool_name": ev.ToolName, "result": ev.Result}
	case *events.MessageEvent:
		return "message", map[string]any{"content": ev.Content}
	case *events.ErrorEvent:
		return "error", map[string]any{"error": ev.Err}
	case *events.DoneEvent:
		return "done", map[string]any{}
	case *events.ConfirmationRequestEvent:
		return "confirmation_request", map[string]any{"tool_call_id": ev.ToolCallID, "tool_name": ev.ToolName, "args": ev.Args, "description": ev.Description}
	case *events.FeedbackAckEvent:
		return "feedback_ack", map[string]any{"message": ev.Msg}
	default:
		return "unknown", map[string]any{}
	}
}

// Package events implements the streaming Event Bus: a per-turn ordered
// stream of observable events (thinking, tool calls, results, sub-agent
// activity, confirmation requests) fanned out to many concurrent
// subscribers — CLI, SSE, and WebSocket transports.
package events

import "encoding/json"

// Type identifies the kind of event carried on the bus. Values match the
// SSE/WebSocket event-type strings exactly.
type Type string

const (
	Thinking            Type = "thinking"
	ToolCall            Type = "tool_call"
	ToolResult          Type = "tool_result"
	SubagentToolCall    Type = "subagent_tool_call"
	SubagentToolResult  Type = "subagent_tool_result"
	Message             Type = "message"
	Error               Type = "error"
	Done                Type = "done"
	ConfirmationRequest Type = "confirmation_request"
	FeedbackAck         Type = "feedback_ack"
)

// Event is the interface every concrete event struct implements. Subscribers
// type-switch on the concrete type, or use Type() to filter without one.
type Event interface {
	// Type returns the event's SSE/WebSocket wire type.
	Type() Type
	// TurnID identifies the conversational turn this event belongs to.
	TurnID() string
}

type base struct {
	turnID string
}

func (b base) TurnID() string { return b.turnID }

// ThinkingEvent carries an intermediate reasoning fragment from the LLM.
type ThinkingEvent struct {
	base
	Content string `json:"content"`
}

func (ThinkingEvent) Type() Type { return Thinking }

// NewThinkingEvent constructs a ThinkingEvent.
func NewThinkingEvent(turnID, content string) *ThinkingEvent {
	return &ThinkingEvent{base: base{turnID: turnID}, Content: content}
}

// ToolCallEvent fires when the scheduler dispatches a tool. Step is the
// turn-monotonic step index.
type ToolCallEvent struct {
	base
	Step     int            `json:"step"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

func (ToolCallEvent) Type() Type { return ToolCall }

// NewToolCallEvent constructs a ToolCallEvent.
func NewToolCallEvent(turnID string, step int, toolName string, args map[string]any) *ToolCallEvent {
	return &ToolCallEvent{base: base{turnID: turnID}, Step: step, ToolName: toolName, Args: args}
}

// ToolResultEvent fires when a dispatched tool completes. Result carries
// the tool's full result text; no size cap is applied before publication.
type ToolResultEvent struct {
	base
	Step     int    `json:"step"`
	ToolName string `json:"tool_name"`
	Result   any    `json:"result"`
}

func (ToolResultEvent) Type() Type { return ToolResult }

// NewToolResultEvent constructs a ToolResultEvent.
func NewToolResultEvent(turnID string, step int, toolName string, result any) *ToolResultEvent {
	return &ToolResultEvent{base: base{turnID: turnID}, Step: step, ToolName: toolName, Result: result}
}

// SubagentToolCallEvent mirrors ToolCallEvent for sub-agent delegated tool
// calls, threaded through the mutable callback holder. Step is drawn from
// a separate, sub-agent-local monotonic counter.
type SubagentToolCallEvent struct {
	base
	Step         int            `json:"step"`
	SubagentName string         `json:"subagent_name"`
	ToolName     string         `json:"tool_name"`
	Args         map[string]any `json:"args"`
}

func (SubagentToolCallEvent) Type() Type { return SubagentToolCall }

// NewSubagentToolCallEvent constructs a SubagentToolCallEvent.
func NewSubagentToolCallEvent(turnID string, step int, subagentName, toolName string, args map[string]any) *SubagentToolCallEvent {
	return &SubagentToolCallEvent{base: base{turnID: turnID}, Step: step, SubagentName: subagentName, ToolName: toolName, Args: args}
}

// SubagentToolResultEvent mirrors ToolResultEvent for sub-agent tool calls.
type SubagentToolResultEvent struct {
	base
	Step         int    `json:"step"`
	SubagentName string `json:"subagent_name"`
	ToolName     string `json:"tool_name"`
	Result       any    `json:"result"`
}

func (SubagentToolResultEvent) Type() Type { return SubagentToolResult }

// NewSubagentToolResultEvent constructs a SubagentToolResultEvent.
func NewSubagentToolResultEvent(turnID string, step int, subagentName, toolName string, result any) *SubagentToolResultEvent {
	return &SubagentToolResultEvent{base: base{turnID: turnID}, Step: step, SubagentName: subagentName, ToolName: toolName, Result: result}
}

// MessageEvent carries the final assistant text for a turn.
type MessageEvent struct {
	base
	Content string `json:"content"`
}

func (MessageEvent) Type() Type { return Message }

// NewMessageEvent constructs a MessageEvent.
func NewMessageEvent(turnID, content string) *MessageEvent {
	return &MessageEvent{base: base{turnID: turnID}, Content: content}
}

// ErrorEvent carries a user-visible failure for the turn. The Runtime
// translates internal error kinds into this event and still returns
// normally from ChatStream — ErrorEvent is not itself fatal to the process.
type ErrorEvent struct {
	base
	Err string `json:"error"`
}

func (ErrorEvent) Type() Type { return Error }

// NewErrorEvent constructs an ErrorEvent.
func NewErrorEvent(turnID, err string) *ErrorEvent {
	return &ErrorEvent{base: base{turnID: turnID}, Err: err}
}

// DoneEvent marks the end of a turn's event stream.
type DoneEvent struct{ base }

func (DoneEvent) Type() Type { return Done }

// NewDoneEvent constructs a DoneEvent.
func NewDoneEvent(turnID string) *DoneEvent { return &DoneEvent{base: base{turnID: turnID}} }

// ConfirmationRequestEvent fires from the Privilege Gate before a sensitive
// tool dispatch. Subscribers must respond via the session's confirmation
// channel; the gate blocks up to 300s.
type ConfirmationRequestEvent struct {
	base
	ToolCallID  string          `json:"tool_call_id"`
	ToolName    string          `json:"tool_name"`
	Args        map[string]any  `json:"args"`
	Description string          `json:"description"`
	RawArgs     json.RawMessage `json:"-"`
}

func (ConfirmationRequestEvent) Type() Type { return ConfirmationRequest }

// NewConfirmationRequestEvent constructs a ConfirmationRequestEvent.
func NewConfirmationRequestEvent(turnID, toolCallID, toolName string, args map[string]any, description string) *ConfirmationRequestEvent {
	return &ConfirmationRequestEvent{
		base:        base{turnID: turnID},
		ToolCallID:  toolCallID,
		ToolName:    toolName,
		Args:        args,
		Description: description,
	}
}

// FeedbackAckEvent acknowledges a WebSocket `feedback` client frame: the
// feedback text was appended to the next LLM turn.
type FeedbackAckEvent struct {
	base
	Msg string `json:"message"`
}

func (FeedbackAckEvent) Type() Type { return FeedbackAck }

// NewFeedbackAckEvent constructs a FeedbackAckEvent.
func NewFeedbackAckEvent(turnID, msg string) *FeedbackAckEvent {
	return &FeedbackAckEvent{base: base{turnID: turnID}, Msg: msg}
}

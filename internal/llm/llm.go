// Package llm defines the provider-agnostic model client boundary: the
// interface the Agent Runtime drives, with no concrete provider wired in.
// The message/request/response shape covers plain text, tool use, and
// tool results only.
package llm

import "context"

// Role identifies a message's speaker in a conversation passed to the model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model inside an assistant
// message.
type ToolCall struct {
	// ID correlates this call to the tool-role Message carrying its result.
	ID   string
	Name string
	Args map[string]any
}

// Message is a single entry in the transcript passed to Complete. Assistant
// messages either carry final Content or a non-empty ToolCalls slice, never
// both meaningfully populated at once. Tool-role messages carry ToolCallID
// linking back to the ToolCall.ID they answer.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolDefinition describes one tool available to the model for the current
// request, derived from the Tool Registry's registered invocables.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// Request captures one model invocation: the system prompt, ordered
// transcript, and the tools currently available to the model.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// Response is the result of a non-streaming invocation. Message.ToolCalls
// being non-empty signals the runtime must dispatch tools and loop again;
// an empty ToolCalls slice with non-empty Content signals a final answer.
type Response struct {
	Message Message
}

// Client is the model client the Agent Runtime depends on to generate plans,
// decide on tool calls, and produce final turn text.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Package subagent implements the mutable sub-agent callback holder: a
// long-lived coordinator delegates to sub-agents whose tool calls must be
// forwarded as subagent_tool_call/subagent_tool_result events to whichever
// streaming request is currently in flight, without mutating the
// sub-agent's own middleware wiring per request.
package subagent

import (
	"sync/atomic"
)

// ToolCallInfo is passed to OnToolCall when a sub-agent begins a tool call.
type ToolCallInfo struct {
	SubagentName string
	ToolName     string
	Args         map[string]any
	Step         int
}

// ToolResultInfo is passed to OnToolResult when a sub-agent's tool call
// completes. Result is pre-truncated by the caller before publication if a
// size cap applies.
type ToolResultInfo struct {
	SubagentName string
	ToolName     string
	Result       string
	Step         int
}

// Callbacks are the pair a streaming request installs on a CallbackHolder
// for the duration of its turn.
type Callbacks struct {
	OnToolCall   func(ToolCallInfo)
	OnToolResult func(ToolResultInfo)
}

// CallbackHolder is a mutable, atomically-swappable container for the
// current request's sub-agent callbacks. One long-lived Monitor instance is
// shared across many concurrent streaming requests; each request calls
// SetCallbacks before dispatch and ClearCallbacks on completion.
type CallbackHolder struct {
	current atomic.Pointer[Callbacks]
}

// NewCallbackHolder constructs an empty holder (no callbacks installed).
func NewCallbackHolder() *CallbackHolder {
	return &CallbackHolder{}
}

// SetCallbacks installs cb as the active callback pair. Safe to call
// concurrently with Monitor invocations from other requests; those in-flight
// invocations observe either the old or the new pair, never a partial mix
// of the two (the swap is a single atomic store).
func (h *CallbackHolder) SetCallbacks(cb Callbacks) {
	h.current.Store(&cb)
}

// ClearCallbacks removes the active callback pair, so subsequent sub-agent
// tool activity is observed by no request.
func (h *CallbackHolder) ClearCallbacks() {
	h.current.Store(nil)
}

func (h *CallbackHolder) get() (Callbacks, bool) {
	cb := h.current.Load()
	if cb == nil {
		return Callbacks{}, false
	}
	return *cb, true
}

// Monitor wraps a single named sub-agent's tool dispatch, forwarding
// start/end notifications through a shared CallbackHolder. Step is a
// monitor-local monotonic counter, forming a sequence separate from the
// parent turn's own step numbering.
type Monitor struct {
	subagentName string
	holder       *CallbackHolder
	step         int32
}

// NewMonitor constructs a Monitor for subagentName, forwarding through
// holder.
func NewMonitor(subagentName string, holder *CallbackHolder) *Monitor {
	return &Monitor{subagentName: subagentName, holder: holder}
}

// WrapToolCall invokes fn, notifying the holder's current callbacks before
// and after, with a monitor-local step index. A panicking or failing
// callback never prevents fn from running or its result from being
// returned — callback errors are swallowed.
func (m *Monitor) WrapToolCall(toolName string, args map[string]any, fn func() (string, error)) (string, error) {
	step := int(atomic.AddInt32(&m.step, 1))

	if cb, ok := m.holder.get(); ok && cb.OnToolCall != nil {
		safeInvoke(func() {
			cb.OnToolCall(ToolCallInfo{SubagentName: m.subagentName, ToolName: toolName, Args: args, Step: step})
		})
	}

	result, err := fn()

	if cb, ok := m.holder.get(); ok && cb.OnToolResult != nil {
		content := result
		if err != nil {
			content = err.Error()
		}
		safeInvoke(func() {
			cb.OnToolResult(ToolResultInfo{SubagentName: m.subagentName, ToolName: toolName, Result: content, Step: step})
		})
	}

	return result, err
}

func safeInvoke(f func()) {
	defer func() { _ = recover() }()
	f()
}

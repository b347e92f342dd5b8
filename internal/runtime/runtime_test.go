package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frankawp/data-agent/internal/confirm"
	"github.com/frankawp/data-agent/internal/events"
	"github.com/frankawp/data-agent/internal/llm"
	"github.com/frankawp/data-agent/internal/tools"
)

// scriptedClient returns each queued Response in order, regardless of the
// request content, so a test can script an exact multi-round conversation.
type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.Response
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.responses) {
		return llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: "done"}}, nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func echoTool(result string) tools.Invocable {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return result, nil
	}
}

func newTestRuntime(t *testing.T, client llm.Client, registry *tools.Registry, opts ...Option) (*Runtime, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	settings := func() Settings {
		return Settings{PlanMode: "off", SafeMode: false, MaxContextTokens: 0}
	}
	isSQLGroup := func(name string) bool { return name == "run_sql" }
	isWrite := func(args map[string]any) bool {
		stmt, _ := args["statement"].(string)
		return stmt == "write"
	}
	rt := New(client, registry, bus, nil, settings, isSQLGroup, isWrite, nil, opts...)
	return rt, bus
}

func drainEvents(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestChatStream_DirectNoToolsReturnsFinalText(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "the answer is 42"}},
	}}
	registry := tools.NewRegistry()
	rt, bus := newTestRuntime(t, client, registry)
	sub := bus.Subscribe()
	defer sub.Close()

	text, err := rt.Chat(context.Background(), TurnInput{TurnID: "t1", UserText: "what is the answer"})
	require.NoError(t, err)
	require.Equal(t, "the answer is 42", text)

	evs := drainEvents(sub)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	require.Equal(t, events.Done, last.Type())
}

func TestChatStream_LinearTwoStepToolSequence(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "list_tables", Args: map[string]any{}},
		}}},
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call-2", Name: "describe_table", Args: map[string]any{"table": "orders"}},
		}}},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "orders has 3 columns"}},
	}}
	registry := tools.NewRegistry()
	registry.Register("list_tables", tools.GroupSQL, echoTool("orders,customers"))
	registry.Register("describe_table", tools.GroupSQL, echoTool("id,total,created_at"))

	rt, bus := newTestRuntime(t, client, registry)
	sub := bus.Subscribe()
	defer sub.Close()

	text, err := rt.Chat(context.Background(), TurnInput{TurnID: "t2", UserText: "describe the orders table"})
	require.NoError(t, err)
	require.Equal(t, "orders has 3 columns", text)

	evs := drainEvents(sub)
	var steps []int
	for _, ev := range evs {
		switch e := ev.(type) {
		case *events.ToolCallEvent:
			steps = append(steps, e.Step)
		}
	}
	require.Equal(t, []int{1, 2}, steps, "step indices must form a contiguous 1..N sequence for the turn")

	// tool_call(step=k) must precede tool_result(step=k) for every node.
	seenCall := map[int]int{}
	for i, ev := range evs {
		if e, ok := ev.(*events.ToolCallEvent); ok {
			seenCall[e.Step] = i
		}
		if e, ok := ev.(*events.ToolResultEvent); ok {
			callIdx, ok := seenCall[e.Step]
			require.True(t, ok, "tool_result for step %d with no preceding tool_call", e.Step)
			require.Less(t, callIdx, i, "tool_call(step=%d) must precede tool_result(step=%d)", e.Step, e.Step)
		}
	}
}

func TestChatStream_ParallelFanOutGetsDistinctContiguousSteps(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call-a", Name: "tool_a", Args: map[string]any{}},
			{ID: "call-b", Name: "tool_b", Args: map[string]any{}},
		}}},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "both done"}},
	}}
	registry := tools.NewRegistry()
	registry.Register("tool_a", tools.GroupPython, echoTool("a-result"))
	registry.Register("tool_b", tools.GroupPython, echoTool("b-result"))

	rt, bus := newTestRuntime(t, client, registry)
	sub := bus.Subscribe()
	defer sub.Close()

	text, err := rt.Chat(context.Background(), TurnInput{TurnID: "t3", UserText: "run both tools"})
	require.NoError(t, err)
	require.Equal(t, "both done", text)

	evs := drainEvents(sub)
	var steps []int
	for _, ev := range evs {
		if e, ok := ev.(*events.ToolCallEvent); ok {
			steps = append(steps, e.Step)
		}
	}
	require.ElementsMatch(t, []int{1, 2}, steps)
}

func TestChatStream_NoConfirmationEventsWhenSafeModeOff(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "run_sql", Args: map[string]any{"statement": "write"}},
		}}},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "updated"}},
	}}
	registry := tools.NewRegistry()
	registry.Register("run_sql", tools.GroupSQL, echoTool("1 row updated"))

	rt, bus := newTestRuntime(t, client, registry) // settings.SafeMode = false
	sub := bus.Subscribe()
	defer sub.Close()

	_, err := rt.Chat(context.Background(), TurnInput{TurnID: "t4", UserText: "update the table"})
	require.NoError(t, err)

	for _, ev := range drainEvents(sub) {
		require.NotEqual(t, events.ConfirmationRequest, ev.Type(), "safe_mode is off: no confirmation_request should ever be emitted")
	}
}

func TestChatStream_SafeModeGatesWriteAndApprovalProceeds(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "run_sql", Args: map[string]any{"statement": "write"}},
		}}},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "row deleted"}},
	}}
	registry := tools.NewRegistry()
	registry.Register("run_sql", tools.GroupSQL, echoTool("1 row deleted"))

	bus := events.NewBus()
	safeGate := confirm.New(func() bool { return true },
		func(name string) bool { return name == "run_sql" },
		func(args map[string]any) bool { stmt, _ := args["statement"].(string); return stmt == "write" },
		confirm.WithTimeout(200*time.Millisecond))

	settings := func() Settings { return Settings{PlanMode: "off", SafeMode: true} }
	rt := New(client, registry, bus, nil, settings,
		func(name string) bool { return name == "run_sql" },
		func(args map[string]any) bool { stmt, _ := args["statement"].(string); return stmt == "write" },
		nil, WithGate(safeGate))

	sub := bus.Subscribe()
	defer sub.Close()

	resultCh := make(chan struct {
		text string
		err  error
	}, 1)
	go func() {
		text, err := rt.Chat(context.Background(), TurnInput{TurnID: "t5", UserText: "delete a row"})
		resultCh <- struct {
			text string
			err  error
		}{text, err}
	}()

	// Wait for the confirmation_request, then approve it.
	var toolCallID string
	deadline := time.After(2 * time.Second)
	for toolCallID == "" {
		select {
		case ev := <-sub.Events:
			if e, ok := ev.(*events.ConfirmationRequestEvent); ok {
				toolCallID = e.ToolCallID
			}
		case <-deadline:
			t.Fatal("timed out waiting for confirmation_request event")
		}
	}

	require.True(t, safeGate.Resolve(toolCallID, confirm.Decision{Outcome: confirm.OutcomeApprove}))

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.Equal(t, "row deleted", res.text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat to complete after approval")
	}
}

// TestChatStream_ConfirmationTimeoutIsNonFatalAtTurnLevel verifies spec
// §7/§4.E.5: an unresolved confirmation times out into errkind.UserRejected,
// which is surfaced as the tool's result content (so the model can react to
// it next round) rather than aborting the turn with an error.
func TestChatStream_ConfirmationTimeoutIsNonFatalAtTurnLevel(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "run_sql", Args: map[string]any{"statement": "write"}},
		}}},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "the write was not confirmed in time"}},
	}}
	registry := tools.NewRegistry()
	registry.Register("run_sql", tools.GroupSQL, echoTool("should not run"))

	bus := events.NewBus()
	shortGate := confirm.New(func() bool { return true },
		func(name string) bool { return name == "run_sql" },
		func(args map[string]any) bool { return true },
		confirm.WithTimeout(50*time.Millisecond))

	settings := func() Settings { return Settings{PlanMode: "off", SafeMode: true} }
	rt := New(client, registry, bus, nil, settings,
		func(name string) bool { return name == "run_sql" },
		func(args map[string]any) bool { return true },
		nil, WithGate(shortGate))

	sub := bus.Subscribe()
	defer sub.Close()

	text, err := rt.Chat(context.Background(), TurnInput{TurnID: "t6", UserText: "drop the table"})
	require.NoError(t, err)
	require.Equal(t, "the write was not confirmed in time", text)

	var sawRejection bool
	for _, ev := range drainEvents(sub) {
		if e, ok := ev.(*events.ToolResultEvent); ok {
			if result, ok := e.Result.(string); ok && strings.Contains(result, "user_rejected") {
				sawRejection = true
			}
		}
	}
	require.True(t, sawRejection, "the timed-out confirmation should appear as the tool's result content")
}

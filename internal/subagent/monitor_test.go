package subagent

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapToolCall_NoCallbacksInstalledStillRunsFn(t *testing.T) {
	holder := NewCallbackHolder()
	m := NewMonitor("worker", holder)

	result, err := m.WrapToolCall("list_tables", nil, func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestWrapToolCall_NotifiesInstalledCallbacks(t *testing.T) {
	holder := NewCallbackHolder()
	m := NewMonitor("worker", holder)

	var mu sync.Mutex
	var calls []ToolCallInfo
	var results []ToolResultInfo
	holder.SetCallbacks(Callbacks{
		OnToolCall: func(info ToolCallInfo) {
			mu.Lock()
			calls = append(calls, info)
			mu.Unlock()
		},
		OnToolResult: func(info ToolResultInfo) {
			mu.Lock()
			results = append(results, info)
			mu.Unlock()
		},
	})

	_, _ = m.WrapToolCall("describe_table", map[string]any{"table": "x"}, func() (string, error) {
		return "schema", nil
	})

	require.Len(t, calls, 1)
	require.Equal(t, "worker", calls[0].SubagentName)
	require.Equal(t, "describe_table", calls[0].ToolName)
	require.Equal(t, 1, calls[0].Step)

	require.Len(t, results, 1)
	require.Equal(t, "schema", results[0].Result)
	require.Equal(t, 1, results[0].Step)
}

func TestWrapToolCall_ClearedCallbacksStopNotifications(t *testing.T) {
	holder := NewCallbackHolder()
	m := NewMonitor("worker", holder)

	calledCount := 0
	holder.SetCallbacks(Callbacks{OnToolCall: func(ToolCallInfo) { calledCount++ }})
	holder.ClearCallbacks()

	_, _ = m.WrapToolCall("x", nil, func() (string, error) { return "y", nil })
	require.Equal(t, 0, calledCount)
}

func TestWrapToolCall_StepCounterIsMonotonicPerMonitor(t *testing.T) {
	holder := NewCallbackHolder()
	m := NewMonitor("worker", holder)

	var steps []int
	holder.SetCallbacks(Callbacks{OnToolCall: func(info ToolCallInfo) { steps = append(steps, info.Step) }})

	for i := 0; i < 3; i++ {
		_, _ = m.WrapToolCall("t", nil, func() (string, error) { return "", nil })
	}
	require.Equal(t, []int{1, 2, 3}, steps)
}

func TestWrapToolCall_PanickingCallbackDoesNotAffectResult(t *testing.T) {
	holder := NewCallbackHolder()
	m := NewMonitor("worker", holder)
	holder.SetCallbacks(Callbacks{OnToolCall: func(ToolCallInfo) { panic("boom") }})

	result, err := m.WrapToolCall("t", nil, func() (string, error) { return "fine", nil })
	require.NoError(t, err)
	require.Equal(t, "fine", result)
}

func TestWrapToolCall_ErrorResultIsPassedThrough(t *testing.T) {
	holder := NewCallbackHolder()
	m := NewMonitor("worker", holder)

	boom := errors.New("tool failed")
	_, err := m.WrapToolCall("t", nil, func() (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
}

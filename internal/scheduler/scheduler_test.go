package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frankawp/data-agent/internal/dag"
	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/tools"
	"github.com/stretchr/testify/require"
)

func echoRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register("echo", tools.GroupSQL, func(ctx context.Context, args map[string]any) (any, error) {
		return args["value"], nil
	})
	r.Register("list_tables", tools.GroupSQL, func(ctx context.Context, args map[string]any) (any, error) {
		return []string{"customers", "orders"}, nil
	})
	r.Register("fail", tools.GroupSQL, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	r.Register("slow", tools.GroupSQL, func(ctx context.Context, args map[string]any) (any, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return r
}

func TestExecute_EmptyPlanSucceeds(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("empty", "")
	result, err := s.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.False(t, result.Failed)
	require.False(t, result.Interrupted)
}

func TestExecute_SingleNodeRecordsResult(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("single", "")
	p.AddNode(dag.NewNode("A", "", "echo", map[string]dag.Param{"value": dag.Literal("hi")}))

	result, err := s.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.False(t, result.Failed)
	require.Equal(t, dag.StatusCompleted, p.Node("A").Status)
	require.Equal(t, "hi", p.Node("A").Result)
	require.Equal(t, "hi", result.Values["A"])
}

func TestExecute_ChainResolvesExactReference(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("chain", "")
	p.AddNode(dag.NewNode("A", "", "list_tables", nil))
	p.AddNode(dag.NewNode("B", "", "echo", map[string]dag.Param{"value": dag.Literal("${A}")}, "A"))

	result, err := s.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.False(t, result.Failed)
	require.Equal(t, []string{"customers", "orders"}, p.Node("B").Result)
}

func TestExecute_EmbeddedReferenceIsStringified(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("embed", "")
	p.AddNode(dag.NewNode("A", "", "echo", map[string]dag.Param{"value": dag.Literal("x")}))
	p.AddNode(dag.NewNode("B", "", "echo", map[string]dag.Param{"value": dag.Literal("got: ${A}")}, "A"))

	result, err := s.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.False(t, result.Failed)
	require.Equal(t, "got: x", p.Node("B").Result)
}

func TestExecute_UnresolvedReferenceIsNodeFailureNotSchedulerError(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("badref", "")
	p.AddNode(dag.NewNode("A", "", "echo", map[string]dag.Param{"value": dag.Literal("${missing}")}))

	var completed []string
	hooks := Hooks{OnComplete: func(n *dag.Node) { completed = append(completed, n.ID) }}
	result, err := s.Execute(context.Background(), p, hooks)
	require.NoError(t, err)
	require.True(t, result.Failed)
	require.Equal(t, dag.StatusFailed, p.Node("A").Status)
	kind, ok := errkind.Of(p.Node("A").Error)
	require.True(t, ok)
	require.Equal(t, errkind.ToolFailure, kind)
	require.Equal(t, []string{"A"}, completed, "OnComplete must fire even when a node fails before invocation")
}

func TestExecute_UnknownToolIsNodeFailure(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("notool", "")
	p.AddNode(dag.NewNode("A", "", "does_not_exist", nil))

	var completed []string
	hooks := Hooks{OnComplete: func(n *dag.Node) { completed = append(completed, n.ID) }}
	result, err := s.Execute(context.Background(), p, hooks)
	require.NoError(t, err)
	require.True(t, result.Failed)
	kind, ok := errkind.Of(p.Node("A").Error)
	require.True(t, ok)
	require.Equal(t, errkind.ToolNotFound, kind)
	require.Equal(t, []string{"A"}, completed, "OnComplete must fire even when the tool is not registered")
}

func TestExecute_FailureHaltsSubsequentLayers(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("halt", "")
	p.AddNode(dag.NewNode("A", "", "fail", nil))
	p.AddNode(dag.NewNode("B", "", "echo", map[string]dag.Param{"value": dag.Literal("x")}, "A"))

	result, err := s.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.True(t, result.Failed)
	require.Equal(t, dag.StatusFailed, p.Node("A").Status)
	require.Equal(t, dag.StatusPending, p.Node("B").Status)
	require.NotNil(t, p.Node("B").Error)
}

func TestExecute_ParallelFanOutOneFailureStillRunsSiblings(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("fanout", "")
	p.AddNode(dag.NewNode("A", "", "echo", map[string]dag.Param{"value": dag.Literal("a")}))
	p.AddNode(dag.NewNode("B", "", "fail", nil))
	p.AddNode(dag.NewNode("C", "", "echo", map[string]dag.Param{"value": dag.Literal("c")}))

	result, err := s.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.True(t, result.Failed)
	require.Equal(t, dag.StatusCompleted, p.Node("A").Status)
	require.Equal(t, dag.StatusFailed, p.Node("B").Status)
	require.Equal(t, dag.StatusCompleted, p.Node("C").Status)
}

func TestExecute_LargeSingleLayerRunsAllNodes(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("wide", "")
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("n%04d", i)
		p.AddNode(dag.NewNode(id, "", "echo", map[string]dag.Param{"value": dag.Literal(id)}))
	}

	result, err := s.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.False(t, result.Failed)
	for _, n := range p.Nodes() {
		require.Equal(t, dag.StatusCompleted, n.Status)
	}
}

func TestExecute_HookOrderingOnLinearChain(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("linear", "")
	p.AddNode(dag.NewNode("A", "", "echo", map[string]dag.Param{"value": dag.Literal("a")}))
	p.AddNode(dag.NewNode("B", "", "echo", map[string]dag.Param{"value": dag.Literal("b")}, "A"))

	var mu sync.Mutex
	var events []string
	hooks := Hooks{
		OnStart: func(n *dag.Node) {
			mu.Lock()
			events = append(events, "start:"+n.ID)
			mu.Unlock()
		},
		OnComplete: func(n *dag.Node) {
			mu.Lock()
			events = append(events, "complete:"+n.ID)
			mu.Unlock()
		},
	}

	_, err := s.Execute(context.Background(), p, hooks)
	require.NoError(t, err)
	require.Equal(t, []string{"start:A", "complete:A", "start:B", "complete:B"}, events)
}

func TestExecuteCancellable_CancelBeforeFirstDispatchInterruptsAll(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("cancelled", "")
	p.AddNode(dag.NewNode("A", "", "echo", map[string]dag.Param{"value": dag.Literal("a")}))
	p.AddNode(dag.NewNode("B", "", "echo", map[string]dag.Param{"value": dag.Literal("b")}, "A"))

	cancel := make(chan struct{})
	close(cancel)

	result, err := s.ExecuteCancellable(context.Background(), p, cancel, Hooks{})
	require.NoError(t, err)
	require.True(t, result.Interrupted)
	require.Equal(t, dag.StatusPending, p.Node("A").Status)
	kind, ok := errkind.Of(p.Node("A").Error)
	require.True(t, ok)
	require.Equal(t, errkind.Interrupted, kind)
}

func TestExecuteCancellable_CancelMidRunStopsLaterLayers(t *testing.T) {
	s := New(echoRegistry())
	p := dag.NewPlan("midrun", "")
	p.AddNode(dag.NewNode("A", "", "slow", nil))
	p.AddNode(dag.NewNode("B", "", "echo", map[string]dag.Param{"value": dag.Literal("b")}, "A"))

	cancel := make(chan struct{})
	var closed int32
	go func() {
		time.Sleep(10 * time.Millisecond)
		if atomic.CompareAndSwapInt32(&closed, 0, 1) {
			close(cancel)
		}
	}()

	result, err := s.ExecuteCancellable(context.Background(), p, cancel, Hooks{})
	require.NoError(t, err)
	require.True(t, result.Interrupted)
	require.Equal(t, dag.StatusCompleted, p.Node("A").Status)
	require.Equal(t, dag.StatusPending, p.Node("B").Status)
}

func TestExecute_PerToolTimeoutOverrideFailsSlowTool(t *testing.T) {
	s := New(echoRegistry(), WithToolTimeout("slow", 5*time.Millisecond))
	p := dag.NewPlan("timeout", "")
	p.AddNode(dag.NewNode("A", "", "slow", nil))

	result, err := s.Execute(context.Background(), p, Hooks{})
	require.NoError(t, err)
	require.True(t, result.Failed)
	kind, ok := errkind.Of(p.Node("A").Error)
	require.True(t, ok)
	require.Equal(t, errkind.ExecutionTimeout, kind)
}

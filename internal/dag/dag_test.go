package dag

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/stretchr/testify/require"
)

func linearPlan() *Plan {
	p := NewPlan("linear", "list then describe")
	p.AddNode(NewNode("A", "list tables", "list_tables", nil))
	p.AddNode(NewNode("B", "describe table", "describe_table", map[string]Param{
		"table": Literal("${A}[0]"),
	}, "A"))
	return p
}

func TestTopologicalSort_ValidDAGOrdersDependenciesFirst(t *testing.T) {
	p := linearPlan()
	ordered, err := p.TopologicalSort()
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	require.Equal(t, "A", ordered[0].ID)
	require.Equal(t, "B", ordered[1].ID)
}

func TestTopologicalSort_CycleIsDetected(t *testing.T) {
	p := NewPlan("cycle", "")
	p.AddNode(NewNode("A", "", "t", nil, "B"))
	p.AddNode(NewNode("B", "", "t", nil, "A"))

	_, err := p.TopologicalSort()
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.CyclicDependency, kind)

	errs := p.Validate()
	require.NotEmpty(t, errs)
}

func TestValidate_DanglingReference(t *testing.T) {
	p := NewPlan("dangling", "")
	p.AddNode(NewNode("A", "", "t", nil, "missing"))

	errs := p.Validate()
	require.Len(t, errs, 1)
	kind, ok := errkind.Of(errs[0])
	require.True(t, ok)
	require.Equal(t, errkind.DanglingReference, kind)
}

func TestLevels_ParallelFanOut(t *testing.T) {
	p := NewPlan("fanout", "")
	p.AddNode(NewNode("A", "", "t", nil))
	p.AddNode(NewNode("B", "", "t", nil))
	p.AddNode(NewNode("C", "", "t", nil))
	p.AddNode(NewNode("D", "", "t", nil, "A", "B", "C"))

	levels, err := p.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 2)
	require.ElementsMatch(t, []string{"A", "B", "C"}, levels[0])
	require.Equal(t, []string{"D"}, levels[1])
}

func TestLevels_ChainIsFullySequential(t *testing.T) {
	p := NewPlan("chain", "")
	prev := ""
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("n%03d", i)
		if prev == "" {
			p.AddNode(NewNode(id, "", "t", nil))
		} else {
			p.AddNode(NewNode(id, "", "t", nil, prev))
		}
		prev = id
	}
	levels, err := p.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 100)
	for _, layer := range levels {
		require.Len(t, layer, 1)
	}
}

func TestPlan_EmptyIsCompleteAndSuccessful(t *testing.T) {
	p := NewPlan("empty", "")
	require.True(t, p.IsComplete())
	require.True(t, p.IsSuccessful())
	levels, err := p.Levels()
	require.NoError(t, err)
	require.Empty(t, levels)
}

func TestPlan_FailedNodeBlocksDependents(t *testing.T) {
	p := NewPlan("fanout", "")
	p.AddNode(NewNode("A", "", "t", nil))
	p.AddNode(NewNode("B", "", "t", nil))
	p.AddNode(NewNode("D", "", "t", nil, "A", "B"))

	p.Node("A").Status = StatusCompleted
	p.Node("B").Status = StatusFailed
	p.Node("B").Error = errkind.New(errkind.ToolFailure, "boom")

	require.False(t, p.IsComplete())
	require.Empty(t, p.ReadyNodes())
	require.Equal(t, StatusPending, p.Node("D").Status)
}

func TestPlan_JSONRoundTrip(t *testing.T) {
	p := linearPlan()
	p.Node("A").Status = StatusCompleted
	p.Node("A").Result = []string{"customers", "orders"}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded Plan
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Equal(t, p.Name, decoded.Name)
	require.ElementsMatch(t, []string{"A", "B"}, idsOf(decoded.Nodes()))
	require.Equal(t, StatusCompleted, decoded.Node("A").Status)
	require.Equal(t, "describe_table", decoded.Node("B").Tool)
	_, hasDepA := decoded.Node("B").Dependencies["A"]
	require.True(t, hasDepA)
}

func idsOf(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// Package dag implements the DAG data model: an immutable plan structure
// (Plan, Node) plus mutable per-node execution state, a topological sort,
// level partitioning for parallel scheduling, and validation.
package dag

import (
	"encoding/json"
	"time"

	"github.com/frankawp/data-agent/internal/errkind"
)

// Status is a node's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Param is a single node parameter value. It is either a literal JSON-ish
// value or a reference expression ${node_id} to be substituted with the
// referenced node's result at dispatch time.
type Param struct {
	value any
}

// Literal constructs a Param holding a literal value.
func Literal(v any) Param { return Param{value: v} }

// Raw returns the underlying value as stored (may itself be a string such
// as "${node_id}" or a string containing one or more embedded references;
// resolution happens in the scheduler package, which knows about node
// results).
func (p Param) Raw() any { return p.value }

// Node is a single tool invocation within a Plan.
type Node struct {
	ID           string
	Name         string
	Tool         string
	Params       map[string]Param
	Dependencies map[string]struct{}

	// Mutable execution state, owned exclusively by the scheduler that runs
	// the enclosing Plan.
	Status        Status
	Result        any
	Error         error
	ExecutionTime time.Duration
}

// NewNode constructs a Node in the initial pending state.
func NewNode(id, name, tool string, params map[string]Param, deps ...string) *Node {
	depSet := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		depSet[d] = struct{}{}
	}
	return &Node{
		ID:           id,
		Name:         name,
		Tool:         tool,
		Params:       params,
		Dependencies: depSet,
		Status:       StatusPending,
	}
}

// Plan is a named, described collection of Nodes. Node insertion order is
// preserved for topological sort tie-breaking.
type Plan struct {
	Name        string
	Description string

	order []string
	nodes map[string]*Node
}

// NewPlan constructs an empty Plan.
func NewPlan(name, description string) *Plan {
	return &Plan{
		Name:        name,
		Description: description,
		nodes:       make(map[string]*Node),
	}
}

// AddNode appends a node to the plan, preserving insertion order for the
// topological sort's stable tie-break. AddNode does not validate; call
// Validate before scheduling.
func (p *Plan) AddNode(n *Node) {
	if _, exists := p.nodes[n.ID]; !exists {
		p.order = append(p.order, n.ID)
	}
	p.nodes[n.ID] = n
}

// Node returns the node with the given id, or nil if absent.
func (p *Plan) Node(id string) *Node { return p.nodes[id] }

// Nodes returns all nodes in insertion order.
func (p *Plan) Nodes() []*Node {
	out := make([]*Node, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.nodes[id])
	}
	return out
}

// Len returns the number of nodes in the plan.
func (p *Plan) Len() int { return len(p.order) }

// IsComplete reports whether every node has reached a terminal status.
func (p *Plan) IsComplete() bool {
	for _, id := range p.order {
		switch p.nodes[id].Status {
		case StatusCompleted, StatusFailed, StatusSkipped:
		default:
			return false
		}
	}
	return true
}

// IsSuccessful reports whether every node completed successfully. A plan
// with any failed or skipped node is not successful.
func (p *Plan) IsSuccessful() bool {
	for _, id := range p.order {
		if p.nodes[id].Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Validate returns the union of duplicate ids, dangling dependencies, and
// cycles. AddNode replaces an earlier node with the same id, and
// UnmarshalJSON builds the plan through AddNode, so a plan's id list never
// holds a repeat and the duplicate-id check reports nothing: a repeated id
// is not detected, the last node with that id is the one kept.
func (p *Plan) Validate() []error {
	var errs []error

	seen := make(map[string]int, len(p.order))
	for _, id := range p.order {
		seen[id]++
		if seen[id] > 1 {
			errs = append(errs, errkind.Errorf(errkind.DuplicateNodeID, "duplicate node id %q", id))
		}
	}

	for _, id := range p.order {
		n := p.nodes[id]
		for dep := range n.Dependencies {
			if _, ok := p.nodes[dep]; !ok {
				errs = append(errs, errkind.Errorf(errkind.DanglingReference, "node %q depends on unknown node %q", id, dep))
			}
		}
	}

	if _, _, err := p.topoSort(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// TopologicalSort returns all nodes ordered so that every node appears
// strictly after its dependencies, using Kahn's algorithm with ties broken
// by insertion order. Returns errkind.CyclicDependency if the graph
// contains a cycle.
func (p *Plan) TopologicalSort() ([]*Node, error) {
	ordered, _, err := p.topoSort()
	return ordered, err
}

// Levels partitions nodes into execution layers: level(node) = 1 +
// max(level(dep)) over dependencies, or 0 if none. Layers are independent
// of same-level peers and are the unit the Scheduler dispatches
// concurrently.
func (p *Plan) Levels() ([][]string, error) {
	_, levelOf, err := p.topoSort()
	if err != nil {
		return nil, err
	}
	maxLevel := -1
	for _, lvl := range levelOf {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	layers := make([][]string, maxLevel+1)
	// Preserve insertion order within each layer.
	for _, id := range p.order {
		lvl := levelOf[id]
		layers[lvl] = append(layers[lvl], id)
	}
	return layers, nil
}

// ReadyNodes returns the nodes whose dependencies have all completed
// successfully and which are themselves still pending.
func (p *Plan) ReadyNodes() []*Node {
	var ready []*Node
	for _, id := range p.order {
		n := p.nodes[id]
		if n.Status != StatusPending {
			continue
		}
		allDone := true
		for dep := range n.Dependencies {
			if d := p.nodes[dep]; d == nil || d.Status != StatusCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, n)
		}
	}
	return ready
}

// topoSort runs Kahn's algorithm once and returns both the flat ordering
// and each node's level (longest path from a root), since both are cheap
// to derive from the same in-degree sweep.
func (p *Plan) topoSort() ([]*Node, map[string]int, error) {
	inDegree := make(map[string]int, len(p.order))
	dependents := make(map[string][]string, len(p.order))
	for _, id := range p.order {
		inDegree[id] = 0
	}
	for _, id := range p.order {
		n := p.nodes[id]
		for dep := range n.Dependencies {
			if _, ok := p.nodes[dep]; !ok {
				// Dangling references are reported by Validate; topoSort
				// treats the missing dependency as already satisfied so a
				// single bad edge does not mask other structural errors.
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	// queue holds zero-in-degree node ids, processed in insertion order for
	// a stable tie-break.
	var queue []string
	for _, id := range p.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	level := make(map[string]int, len(p.order))
	ordered := make([]*Node, 0, len(p.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, p.nodes[id])

		for _, child := range orderedDependents(p, dependents[id]) {
			if level[child] < level[id]+1 {
				level[child] = level[id] + 1
			}
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(ordered) != len(p.order) {
		return nil, nil, errkind.New(errkind.CyclicDependency, "dag contains a dependency cycle")
	}
	return ordered, level, nil
}

// orderedDependents returns ids already in plan insertion order, so the
// queue processes same-level ties deterministically regardless of map
// iteration order.
func orderedDependents(p *Plan, ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range p.order {
		if _, ok := want[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// MarshalJSON and UnmarshalJSON round-trip a Plan through JSON, preserving
// ids, tools, params, dependencies, and terminal statuses.
type planJSON struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Nodes       []nodeJSON `json:"nodes"`
}

type nodeJSON struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Tool          string         `json:"tool"`
	Params        map[string]any `json:"params"`
	Dependencies  []string       `json:"dependencies"`
	Status        Status         `json:"status"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time_ns,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p *Plan) MarshalJSON() ([]byte, error) {
	out := planJSON{Name: p.Name, Description: p.Description}
	for _, id := range p.order {
		n := p.nodes[id]
		params := make(map[string]any, len(n.Params))
		for k, v := range n.Params {
			params[k] = v.Raw()
		}
		deps := make([]string, 0, len(n.Dependencies))
		for dep := range n.Dependencies {
			deps = append(deps, dep)
		}
		nj := nodeJSON{
			ID:            n.ID,
			Name:          n.Name,
			Tool:          n.Tool,
			Params:        params,
			Dependencies:  deps,
			Status:        n.Status,
			Result:        n.Result,
			ExecutionTime: n.ExecutionTime,
		}
		if n.Error != nil {
			nj.Error = n.Error.Error()
		}
		out.Nodes = append(out.Nodes, nj)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var in planJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Name = in.Name
	p.Description = in.Description
	p.order = nil
	p.nodes = make(map[string]*Node, len(in.Nodes))
	for _, nj := range in.Nodes {
		params := make(map[string]Param, len(nj.Params))
		for k, v := range nj.Params {
			params[k] = Literal(v)
		}
		n := NewNode(nj.ID, nj.Name, nj.Tool, params, nj.Dependencies...)
		n.Status = nj.Status
		n.Result = nj.Result
		n.ExecutionTime = nj.ExecutionTime
		if nj.Error != "" {
			n.Error = errkind.New(errkind.ToolFailure, nj.Error)
		}
		p.AddNode(n)
	}
	return nil
}

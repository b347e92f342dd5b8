// Package scheduler implements level-parallel execution of a dag.Plan:
// resolution of ${node_id} parameter references, cancellation propagation,
// and per-node result/error/timing bookkeeping. go.opentelemetry.io/otel/trace
// spans wrap each run and each node's dispatch.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/frankawp/data-agent/internal/dag"
	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/telemetry"
	"github.com/frankawp/data-agent/internal/tools"
)

// DefaultTimeout is the deadline applied to a tool invocation when no
// per-tool override is configured.
const DefaultTimeout = 5 * time.Minute

// Hooks are optional callbacks fired around each node's dispatch. A nil
// hook is skipped.
type Hooks struct {
	OnStart    func(n *dag.Node)
	OnComplete func(n *dag.Node)
}

// Scheduler executes dag.Plans with level-parallel fan-out.
type Scheduler struct {
	registry *tools.Registry
	timeouts map[string]time.Duration
	tracer   telemetry.Tracer
	metrics  telemetry.Metrics
	log      telemetry.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithToolTimeout overrides the dispatch deadline for a specific tool name.
func WithToolTimeout(toolName string, d time.Duration) Option {
	return func(s *Scheduler) { s.timeouts[toolName] = d }
}

// WithTracer installs a tracer for run/node spans.
func WithTracer(t telemetry.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithMetrics installs a metrics recorder for node dispatch counters.
func WithMetrics(m telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger installs a structured logger.
func WithLogger(log telemetry.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New constructs a Scheduler bound to registry.
func New(registry *tools.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		timeouts: make(map[string]time.Duration),
		tracer:   telemetry.NewNoopTracer(),
		metrics:  telemetry.NewNoopMetrics(),
		log:      telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is returned by Execute/ExecuteCancellable: the per-node result map
// plus whether the run was interrupted by a failure or cancellation.
type Result struct {
	Values      map[string]any
	Failed      bool
	Interrupted bool
}

// Execute runs dag blocking to completion with level-parallel fan-out and
// no cancellation support.
func (s *Scheduler) Execute(ctx context.Context, plan *dag.Plan, hooks Hooks) (Result, error) {
	return s.run(ctx, plan, nil, hooks)
}

// ExecuteCancellable runs dag the same way as Execute, but polls cancel at
// layer boundaries and before each tool dispatch. cancel firing mid-run
// lets in-flight work finish (tools are non-preemptive from the
// scheduler's view) and marks nodes that never started as Interrupted.
func (s *Scheduler) ExecuteCancellable(ctx context.Context, plan *dag.Plan, cancel <-chan struct{}, hooks Hooks) (Result, error) {
	return s.run(ctx, plan, cancel, hooks)
}

func (s *Scheduler) run(ctx context.Context, plan *dag.Plan, cancel <-chan struct{}, hooks Hooks) (Result, error) {
	levels, err := plan.Levels()
	if err != nil {
		return Result{}, err
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.execute", telemetry.KV{Key: "plan", Value: plan.Name})
	defer span.End()

	results := make(map[string]any, plan.Len())
	out := Result{Values: results}

	for layerIdx, layer := range levels {
		if cancelled(cancel) {
			s.markInterrupted(plan, levels[layerIdx:])
			out.Interrupted = true
			return out, nil
		}
		if len(layer) == 0 {
			continue
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		layerFailed := false

		for _, nodeID := range layer {
			node := plan.Node(nodeID)
			if cancelled(cancel) {
				mu.Lock()
				node.Status = dag.StatusPending
				node.Error = errkind.New(errkind.Interrupted, "cancelled before dispatch")
				mu.Unlock()
				out.Interrupted = true
				continue
			}

			wg.Add(1)
			go func(n *dag.Node) {
				defer wg.Done()
				s.dispatch(ctx, n, results, &mu, hooks)
				mu.Lock()
				if n.Status == dag.StatusFailed {
					layerFailed = true
				}
				mu.Unlock()
			}(node)
		}
		wg.Wait()

		if layerFailed {
			out.Failed = true
			s.markInterrupted(plan, levels[layerIdx+1:])
			return out, nil
		}
	}

	return out, nil
}

// dispatch resolves params, invokes the tool under a deadline, and records
// status/result/error/timing on n. Safe to call from a per-node goroutine;
// mu guards the shared results map.
func (s *Scheduler) dispatch(ctx context.Context, n *dag.Node, results map[string]any, mu *sync.Mutex, hooks Hooks) {
	n.Status = dag.StatusRunning
	if hooks.OnStart != nil {
		hooks.OnStart(n)
	}

	nodeCtx, span := s.tracer.Start(ctx, "scheduler.node", telemetry.KV{Key: "node_id", Value: n.ID}, telemetry.KV{Key: "tool", Value: n.Tool})
	defer span.End()
	if hooks.OnComplete != nil {
		defer hooks.OnComplete(n)
	}

	raw := make(map[string]any, len(n.Params))
	for k, p := range n.Params {
		raw[k] = p.Raw()
	}

	mu.Lock()
	snapshot := make(map[string]any, len(results))
	for k, v := range results {
		snapshot[k] = v
	}
	mu.Unlock()

	args, err := resolveParams(raw, snapshot)
	if err != nil {
		s.fail(n, errkind.Wrap(errkind.ToolFailure, "parameter resolution failed", err), span)
		return
	}

	fn, ok := s.registry.Get(n.Tool)
	if !ok {
		s.fail(n, errkind.Errorf(errkind.ToolNotFound, "tool %q not registered", n.Tool), span)
		return
	}

	timeout := DefaultTimeout
	if d, ok := s.timeouts[n.Tool]; ok {
		timeout = d
	}
	deadlineCtx, cancel := context.WithTimeout(nodeCtx, timeout)
	defer cancel()

	start := time.Now()
	result, invokeErr := fn(deadlineCtx, args)
	elapsed := time.Since(start)
	n.ExecutionTime = elapsed
	s.metrics.RecordDuration(ctx, "scheduler.node.duration_ms", float64(elapsed.Milliseconds()), telemetry.KV{Key: "tool", Value: n.Tool})

	if invokeErr != nil {
		if deadlineCtx.Err() == context.DeadlineExceeded {
			s.fail(n, errkind.Errorf(errkind.ExecutionTimeout, "tool %q exceeded %s", n.Tool, timeout), span)
		} else {
			s.fail(n, errkind.Wrap(errkind.ToolFailure, "", invokeErr), span)
		}
		return
	}

	n.Status = dag.StatusCompleted
	n.Result = result
	mu.Lock()
	results[n.ID] = result
	mu.Unlock()
	s.metrics.IncCounter(ctx, "scheduler.node.completed", 1, telemetry.KV{Key: "tool", Value: n.Tool})
}

func (s *Scheduler) fail(n *dag.Node, err error, span telemetry.Span) {
	n.Status = dag.StatusFailed
	n.Error = err
	span.SetError(err)
	s.log.Warn(context.Background(), "scheduler: node failed", "node_id", n.ID, "tool", n.Tool, "error", err.Error())
	s.metrics.IncCounter(context.Background(), "scheduler.node.failed", 1, telemetry.KV{Key: "tool", Value: n.Tool})
}

// markInterrupted marks every still-pending node across the given layers as
// a scheduler-level interruption target: a node whose dependency failed or
// whose run was cancelled stays pending and is never scheduled, so this
// only records the interruption for observability without flipping Status
// away from pending.
func (s *Scheduler) markInterrupted(plan *dag.Plan, remaining [][]string) {
	for _, layer := range remaining {
		for _, id := range layer {
			n := plan.Node(id)
			if n.Status == dag.StatusPending {
				n.Error = errkind.New(errkind.Interrupted, "not scheduled: upstream failure or cancellation")
			}
		}
	}
}

func cancelled(cancel <-chan struct{}) bool {
	if cancel == nil {
		return false
	}
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}

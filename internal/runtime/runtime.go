// Package runtime implements the Agent Runtime: accepts a user turn, runs
// history preparation (compaction) → plan gating → optional plan
// confirmation → step-isolated or direct execution, threading events from
// the DAG Scheduler and sub-agents through the Event Bus to whichever
// transport is subscribed, honouring per-turn cancellation and the
// Privilege Gate for sensitive tool calls.
//
// Each round of LLM-requested tool calls becomes a single-layer dag.Plan
// executed through internal/dag and internal/scheduler, so concurrent tool
// calls within one model response get the same level-parallel fan-out the
// Scheduler gives any other plan, rather than a second ad hoc concurrency
// mechanism.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/frankawp/data-agent/internal/confirm"
	"github.com/frankawp/data-agent/internal/dag"
	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/events"
	"github.com/frankawp/data-agent/internal/history"
	"github.com/frankawp/data-agent/internal/llm"
	"github.com/frankawp/data-agent/internal/scheduler"
	"github.com/frankawp/data-agent/internal/subagent"
	"github.com/frankawp/data-agent/internal/telemetry"
	"github.com/frankawp/data-agent/internal/tools"
)

// DefaultMaxToolRounds caps the number of LLM/tool round-trips within a
// single direct-execution or plan-step loop, guarding against a model that
// never stops requesting tools.
const DefaultMaxToolRounds = 25

// Settings is the live snapshot of the process-wide mode configuration the
// runtime consults each turn. Runtime reads this fresh per decision point
// rather than caching it, since a user can toggle modes mid-session.
type Settings struct {
	PlanMode        string // "off" | "on" | "auto"
	SafeMode        bool
	MaxContextTokens int
	CompactThreshold float64
	CompactKeepRatio float64
}

// SettingsFunc returns the current Settings snapshot, read live on every
// turn.
type SettingsFunc func() Settings

// SQLWriteClassifier reports whether args describe a data-modifying SQL
// statement. Supplied by the caller's concrete SQL tool integration; the
// runtime itself has no SQL parser. Alias of confirm.SQLStatementClassifier,
// the type the Privilege Gate itself expects.
type SQLWriteClassifier = confirm.SQLStatementClassifier

// Runtime is the Agent Runtime: the only component that drives the LLM,
// the Scheduler, the Privilege Gate, the Event Bus, and sub-agent
// monitoring together for a single conversational turn.
type Runtime struct {
	model          llm.Client
	registry       *tools.Registry
	bus            *events.Bus
	gate           *confirm.Gate
	planGate       *confirm.Gate
	subagentHolder *subagent.CallbackHolder
	compactor      *history.Compactor
	settings       SettingsFunc
	toolDefs       []llm.ToolDefinition
	maxToolRounds  int

	tracer  telemetry.Tracer
	metrics telemetry.Metrics
	log     telemetry.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxToolRounds overrides DefaultMaxToolRounds.
func WithMaxToolRounds(n int) Option {
	return func(r *Runtime) { r.maxToolRounds = n }
}

// WithTracer installs a tracer used for turn/round spans.
func WithTracer(t telemetry.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithLogger installs a structured logger.
func WithLogger(log telemetry.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

// WithGate overrides the default Privilege Gate. Intended for tests that
// need a short confirm.WithTimeout rather than the production 5-minute
// default.
func WithGate(g *confirm.Gate) Option {
	return func(r *Runtime) { r.gate = g }
}

// WithPlanGate overrides the default plan-confirmation gate, for the same
// reason as WithGate.
func WithPlanGate(g *confirm.Gate) Option {
	return func(r *Runtime) { r.planGate = g }
}

// New constructs a Runtime. isSQLGroup and isWrite feed the Privilege
// Gate's confirmation rule; settings is consulted live for
// plan_mode/safe_mode/compaction thresholds every turn.
func New(
	model llm.Client,
	registry *tools.Registry,
	bus *events.Bus,
	compactor *history.Compactor,
	settings SettingsFunc,
	isSQLGroup func(toolName string) bool,
	isWrite SQLWriteClassifier,
	toolDefs []llm.ToolDefinition,
	opts ...Option,
) *Runtime {
	r := &Runtime{
		model:          model,
		registry:       registry,
		bus:            bus,
		compactor:      compactor,
		settings:       settings,
		toolDefs:       toolDefs,
		subagentHolder: subagent.NewCallbackHolder(),
		maxToolRounds:  DefaultMaxToolRounds,
		tracer:         telemetry.NewNoopTracer(),
		metrics:        telemetry.NewNoopMetrics(),
		log:            telemetry.NewNoopLogger(),
	}
	r.gate = confirm.New(func() bool { return r.settings().SafeMode }, isSQLGroup, isWrite)
	r.planGate = confirm.New(func() bool { return true }, func(string) bool { return true }, func(map[string]any) bool { return true })
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Gate exposes the Privilege Gate so a transport can deliver decisions for
// pending tool-call confirmations.
func (r *Runtime) Gate() *confirm.Gate { return r.gate }

// PlanGate exposes the plan-confirmation gate so a transport can deliver
// accept/reject decisions for a pending plan.
func (r *Runtime) PlanGate() *confirm.Gate { return r.planGate }

// TurnInput is one user turn.
type TurnInput struct {
	TurnID  string
	History []history.Message // prior conversation, not yet including UserText
	UserText string
}

// Callbacks are the optional streaming hooks ChatStream drives; any nil
// callback is skipped. cancel is polled before every scheduler layer, tool
// dispatch, and plan-step boundary.
type Callbacks struct {
	OnThinking   func(content string)
	OnToolCall   func(step int, toolName string, args map[string]any)
	OnToolResult func(step int, toolName string, result string)
}

// Chat runs a turn to completion with no event stream.
func (r *Runtime) Chat(ctx context.Context, in TurnInput) (string, error) {
	return r.ChatStream(ctx, in, Callbacks{}, nil)
}

// ChatStream runs a turn, publishing every observable moment on the Event
// Bus in addition to driving the supplied Callbacks directly. cancel may be
// nil, meaning the turn is not cancellable.
func (r *Runtime) ChatStream(ctx context.Context, in TurnInput, cb Callbacks, cancel <-chan struct{}) (finalText string, err error) {
	ctx, span := r.tracer.Start(ctx, "runtime.chat", telemetry.KV{Key: "turn_id", Value: in.TurnID})
	defer span.End()

	r.installSubagentForwarding(ctx, in.TurnID)
	defer r.subagentHolder.ClearCallbacks()

	defer func() {
		if err != nil {
			r.bus.Publish(ctx, events.NewErrorEvent(in.TurnID, err.Error()))
		}
		r.bus.Publish(ctx, events.NewDoneEvent(in.TurnID))
	}()

	if cancelledNow(cancel) {
		return "", errkind.New(errkind.Interrupted, "cancelled before turn start")
	}

	messages, err := r.prepareHistory(ctx, in)
	if err != nil {
		if kind, ok := errkind.Of(err); !ok || kind != errkind.CompactionFailed {
			return "", err
		}
		// CompactionFailed is non-fatal: prepareHistory already returns the
		// full un-compacted message slice in this case, so proceed with a
		// warning rather than aborting the turn.
		r.log.Warn(ctx, "runtime: compaction failed, proceeding uncompacted", "turn_id", in.TurnID, "error", err.Error())
	}

	step := new(int32)
	settings := r.settings()

	planEnabled := false
	switch settings.PlanMode {
	case "on":
		planEnabled = true
	case "auto":
		planEnabled = ShouldPlan(in.UserText)
	}

	if planEnabled {
		text, handled, perr := r.runPlanned(ctx, in, messages, cb, cancel, step)
		if handled {
			return text, perr
		}
		// Parse failure or plan rejection falls through to direct execution.
	}

	return r.runDirect(ctx, in, messages, cb, cancel, step)
}

// prepareHistory appends the user turn and compacts if the compactor
// reports the context is over threshold.
func (r *Runtime) prepareHistory(ctx context.Context, in TurnInput) ([]history.Message, error) {
	messages := append(append([]history.Message{}, in.History...), history.Message{Role: history.RoleUser, Content: in.UserText})

	settings := r.settings()
	if settings.MaxContextTokens <= 0 || r.compactor == nil {
		return messages, nil
	}
	if !r.compactor.ShouldCompact(messages, settings.MaxContextTokens, settings.CompactThreshold) {
		return messages, nil
	}
	compacted, err := r.compactor.Compact(ctx, messages, settings.MaxContextTokens, settings.CompactKeepRatio)
	if err != nil {
		return messages, err
	}
	return compacted, nil
}

// runPlanned asks the LLM for a plan, surfaces it for confirmation, and on
// acceptance executes it step by step. handled=false tells the caller to
// fall back to direct execution (parse failure or rejection).
func (r *Runtime) runPlanned(ctx context.Context, in TurnInput, messages []history.Message, cb Callbacks, cancel <-chan struct{}, step *int32) (text string, handled bool, err error) {
	resp, err := r.model.Complete(ctx, llm.Request{
		System:   "You are a planning assistant for a data-analysis agent.",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: PlanPrompt(in.UserText)}},
	})
	if err != nil {
		return "", false, errkind.Wrap(errkind.ToolFailure, "plan generation failed", err)
	}

	plan, ok := ParsePlanResponse(resp.Message.Content, in.UserText)
	if !ok {
		return "", false, nil
	}

	planCallID := "plan:" + in.TurnID
	planArgs := map[string]any{"goal": plan.Goal, "steps": plan.Steps, "estimated_tools": plan.EstimatedTools}
	r.bus.Publish(ctx, events.NewConfirmationRequestEvent(in.TurnID, planCallID, "plan", planArgs, plan.Goal))

	decision, err := r.planGate.Await(ctx, planCallID, planArgs)
	if err != nil {
		if kind, ok := errkind.Of(err); ok && (kind == errkind.UserRejected || kind == errkind.Interrupted) {
			// Rejection of the plan itself falls back to direct execution
			// rather than aborting the turn; cancellation aborts it.
			if kind == errkind.Interrupted {
				return "", true, err
			}
			return "", false, nil
		}
		return "", false, err
	}
	_ = decision

	for i := range plan.Steps {
		if cancelledNow(cancel) {
			return "", true, errkind.New(errkind.Interrupted, "cancelled at plan-step boundary")
		}
		s := &plan.Steps[i]
		s.Status = StepRunning

		stepMessages := []llm.Message{{Role: llm.RoleUser, Content: StepPrompt(plan, *s)}}
		_, finalText, rerr := r.runToolLoop(ctx, in.TurnID, "You are executing one step of a larger data-analysis plan.", stepMessages, cb, cancel, step)
		if rerr != nil {
			s.Status = StepFailed
			s.Result = rerr.Error()
			continue
		}
		s.Status = StepCompleted
		s.Result = finalText
	}

	summary := SummarizeResults(plan)
	r.bus.Publish(ctx, events.NewMessageEvent(in.TurnID, summary))
	return summary, true, nil
}

// runDirect streams the main LLM/tool loop directly against the turn's
// full message history.
func (r *Runtime) runDirect(ctx context.Context, in TurnInput, messages []history.Message, cb Callbacks, cancel <-chan struct{}, step *int32) (string, error) {
	llmMessages := toLLMMessages(messages)
	_, finalText, err := r.runToolLoop(ctx, in.TurnID, "You are a data-analysis agent.", llmMessages, cb, cancel, step)
	if err != nil {
		return "", err
	}
	r.bus.Publish(ctx, events.NewMessageEvent(in.TurnID, finalText))
	return finalText, nil
}

// runToolLoop drives one self-contained LLM/tool loop: call the model,
// dispatch any requested tool calls through the Scheduler and Privilege
// Gate, append results, and repeat until the model returns text with no
// further tool calls or maxToolRounds is exceeded.
func (r *Runtime) runToolLoop(ctx context.Context, turnID, system string, messages []llm.Message, cb Callbacks, cancel <-chan struct{}, step *int32) ([]llm.Message, string, error) {
	for round := 0; round < r.maxToolRounds; round++ {
		if cancelledNow(cancel) {
			return messages, "", errkind.New(errkind.Interrupted, "cancelled before model call")
		}

		resp, err := r.model.Complete(ctx, llm.Request{System: system, Messages: messages, Tools: r.toolDefs})
		if err != nil {
			return messages, "", errkind.Wrap(errkind.ToolFailure, "model completion failed", err)
		}
		assistant := resp.Message
		messages = append(messages, assistant)

		if assistant.Content != "" {
			if cb.OnThinking != nil {
				cb.OnThinking(assistant.Content)
			}
			r.bus.Publish(ctx, events.NewThinkingEvent(turnID, assistant.Content))
		}

		if len(assistant.ToolCalls) == 0 {
			return messages, assistant.Content, nil
		}

		if cancelledNow(cancel) {
			return messages, "", errkind.New(errkind.Interrupted, "cancelled before tool dispatch")
		}

		results, err := r.dispatchToolCalls(ctx, turnID, assistant.ToolCalls, cb, cancel, step)
		if err != nil {
			return messages, "", err
		}
		messages = append(messages, results...)
	}
	return messages, "", errkind.New(errkind.ToolFailure, "tool loop exceeded max rounds")
}

// dispatchToolCalls builds a single-layer dag.Plan from calls (one node per
// requested tool call, no inter-dependencies, since they come from one
// model response) and executes it through the Scheduler, so concurrent
// calls get level-parallel fan-out. Each node's invocable is a gated
// closure: the Privilege Gate is consulted with the call's real args before
// the real tool ever runs.
func (r *Runtime) dispatchToolCalls(ctx context.Context, turnID string, calls []llm.ToolCall, cb Callbacks, cancel <-chan struct{}, step *int32) ([]llm.Message, error) {
	plan := dag.NewPlan("turn-round", "one round of model-requested tool calls")
	ephemeral := tools.NewRegistry()
	argsByID := make(map[string]map[string]any, len(calls))
	nameByID := make(map[string]string, len(calls))
	stepByID := make(map[string]int, len(calls))

	for _, call := range calls {
		nodeTool := "call:" + call.ID
		argsByID[call.ID] = call.Args
		nameByID[call.ID] = call.Name
		stepByID[call.ID] = int(atomic.AddInt32(step, 1))

		fn, ok := r.registry.Get(call.Name)
		ephemeral.Register(nodeTool, "", r.gatedInvocable(ctx, turnID, call.Name, fn, ok))

		params := make(map[string]dag.Param, len(call.Args))
		for k, v := range call.Args {
			params[k] = dag.Literal(v)
		}
		plan.AddNode(dag.NewNode(call.ID, call.Name, nodeTool, params))
	}

	sched := scheduler.New(ephemeral, scheduler.WithTracer(r.tracer), scheduler.WithMetrics(r.metrics), scheduler.WithLogger(r.log))
	hooks := scheduler.Hooks{
		OnStart: func(n *dag.Node) {
			args := argsByID[n.ID]
			s := stepByID[n.ID]
			if cb.OnToolCall != nil {
				cb.OnToolCall(s, nameByID[n.ID], args)
			}
			r.bus.Publish(ctx, events.NewToolCallEvent(turnID, s, nameByID[n.ID], args))
		},
		OnComplete: func(n *dag.Node) {
			s := stepByID[n.ID]
			text := resultText(n)
			if cb.OnToolResult != nil {
				cb.OnToolResult(s, nameByID[n.ID], text)
			}
			r.bus.Publish(ctx, events.NewToolResultEvent(turnID, s, nameByID[n.ID], text))
		},
	}

	res, err := sched.ExecuteCancellable(ctx, plan, cancel, hooks)
	if err != nil {
		return nil, err
	}
	if res.Interrupted {
		return nil, errkind.New(errkind.Interrupted, "cancelled during tool dispatch")
	}

	out := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		node := plan.Node(call.ID)
		out = append(out, llm.Message{Role: llm.RoleTool, Content: resultText(node), ToolCallID: call.ID})
	}
	return out, nil
}

// gatedInvocable wraps a real tool invocable with the Privilege Gate check,
// evaluated with the call's actual args every dispatch, since whether a
// call needs confirmation depends on the statement, not just the tool name.
func (r *Runtime) gatedInvocable(ctx context.Context, turnID, realName string, fn tools.Invocable, found bool) tools.Invocable {
	return func(callCtx context.Context, args map[string]any) (any, error) {
		if !found {
			return nil, errkind.Errorf(errkind.ToolNotFound, "tool %q not registered", realName)
		}
		if r.gate.NeedsConfirmation(realName, args) {
			toolCallID := uuid.NewString()
			r.bus.Publish(ctx, events.NewConfirmationRequestEvent(turnID, toolCallID, realName, args, "confirm "+realName))
			approved, err := r.gate.Await(callCtx, toolCallID, args)
			if err != nil {
				return nil, err
			}
			args = approved
		}
		return fn(callCtx, args)
	}
}

// installSubagentForwarding wires the shared subagent.CallbackHolder for
// the duration of this turn, translating ToolCallInfo/ToolResultInfo into
// subagent_tool_call/subagent_tool_result events.
func (r *Runtime) installSubagentForwarding(ctx context.Context, turnID string) {
	r.subagentHolder.SetCallbacks(subagent.Callbacks{
		OnToolCall: func(info subagent.ToolCallInfo) {
			r.bus.Publish(ctx, events.NewSubagentToolCallEvent(turnID, info.Step, info.SubagentName, info.ToolName, info.Args))
		},
		OnToolResult: func(info subagent.ToolResultInfo) {
			r.bus.Publish(ctx, events.NewSubagentToolResultEvent(turnID, info.Step, info.SubagentName, info.ToolName, info.Result))
		},
	})
}

// SubagentHolder exposes the runtime's shared callback holder so concrete
// sub-agent tools can construct a subagent.Monitor bound to it.
func (r *Runtime) SubagentHolder() *subagent.CallbackHolder { return r.subagentHolder }

func resultText(n *dag.Node) string {
	if n.Status == dag.StatusFailed {
		if n.Error != nil {
			return "error: " + n.Error.Error()
		}
		return "error: tool failed"
	}
	if n.Result == nil {
		return ""
	}
	if s, ok := n.Result.(string); ok {
		return s
	}
	b, err := json.Marshal(n.Result)
	if err != nil {
		return fmt.Sprintf("%v", n.Result)
	}
	return string(b)
}

func toLLMMessages(messages []history.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		role := llm.RoleUser
		switch m.Role {
		case history.RoleAssistant:
			role = llm.RoleAssistant
		case history.RoleSystem:
			role = llm.RoleSystem
		case history.RoleTool:
			role = llm.RoleTool
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func cancelledNow(cancel <-chan struct{}) bool {
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

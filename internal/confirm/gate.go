// Package confirm implements the Privilege Gate: before dispatching a
// sensitive tool call, the runtime asks a per-session gate whether
// confirmation is required, publishes a confirmation_request event, and
// blocks on a decision channel with a timeout.
package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/frankawp/data-agent/internal/errkind"
)

// Timeout is the duration the gate waits for an operator decision before
// treating the call as rejected.
const Timeout = 5 * time.Minute

// Outcome is the operator's response to a confirmation request.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeEdit    Outcome = "edit"
	OutcomeReject  Outcome = "reject"
)

// Decision carries the operator's response to a pending confirmation.
type Decision struct {
	Outcome    Outcome
	EditedArgs map[string]any
}

// SQLStatementClassifier reports whether args describe a data-modifying SQL
// statement (INSERT/UPDATE/DELETE/DDL, as opposed to a read-only SELECT).
// The runtime supplies a concrete classifier; the gate itself has no SQL
// parser.
type SQLStatementClassifier func(args map[string]any) bool

// Gate evaluates needs_confirmation and brokers the confirm/reject/edit
// round-trip for one session. Safe for concurrent use across the session's
// tool dispatches.
type Gate struct {
	mu         sync.Mutex
	pending    map[string]chan Decision
	safeMode   func() bool
	isSQLGroup func(toolName string) bool
	isWrite    SQLStatementClassifier
	timeout    time.Duration
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTimeout overrides the confirmation wait duration. Intended for tests;
// production callers should rely on the Timeout default.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// New constructs a Gate. safeMode reports whether the session currently
// has safe_mode enabled; it is consulted live, not snapshotted, since a
// user can toggle safe_mode mid-turn. isSQLGroup reports whether toolName
// belongs to the SQL tool group. isWrite classifies a call's args as
// data-modifying.
func New(safeMode func() bool, isSQLGroup func(toolName string) bool, isWrite SQLStatementClassifier, opts ...GateOption) *Gate {
	g := &Gate{
		pending:    make(map[string]chan Decision),
		safeMode:   safeMode,
		isSQLGroup: isSQLGroup,
		isWrite:    isWrite,
		timeout:    Timeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NeedsConfirmation reports whether toolName/args require operator
// sign-off: safe_mode is on AND the tool is in the SQL group AND the call
// is a data-modifying statement.
func (g *Gate) NeedsConfirmation(toolName string, args map[string]any) bool {
	if !g.safeMode() {
		return false
	}
	if !g.isSQLGroup(toolName) {
		return false
	}
	return g.isWrite(args)
}

// Await registers toolCallID as awaiting a decision and blocks until one
// arrives, ctx is cancelled, or Timeout elapses. A Resolve call or a
// cancellation/timeout both unregister the pending request.
//
// Outcome mapping: approve -> args returned unchanged; edit -> provided
// edited_args merged into args, returned; reject or timeout ->
// errkind.UserRejected, which the caller surfaces as a visible tool result
// without aborting the turn.
func (g *Gate) Await(ctx context.Context, toolCallID string, args map[string]any) (map[string]any, error) {
	ch := make(chan Decision, 1)
	g.mu.Lock()
	g.pending[toolCallID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, toolCallID)
		g.mu.Unlock()
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		switch decision.Outcome {
		case OutcomeApprove:
			return args, nil
		case OutcomeEdit:
			merged := make(map[string]any, len(args)+len(decision.EditedArgs))
			for k, v := range args {
				merged[k] = v
			}
			for k, v := range decision.EditedArgs {
				merged[k] = v
			}
			return merged, nil
		default:
			return nil, errkind.New(errkind.UserRejected, "operator rejected tool call "+toolCallID)
		}
	case <-timer.C:
		return nil, errkind.New(errkind.UserRejected, "confirmation timed out after "+g.timeout.String())
	case <-ctx.Done():
		return nil, errkind.Wrap(errkind.Interrupted, "confirmation cancelled", ctx.Err())
	}
}

// Resolve delivers a decision for a pending tool_call_id. It reports false
// if no request is currently pending under that id (already resolved,
// timed out, or never requested).
func (g *Gate) Resolve(toolCallID string, decision Decision) bool {
	g.mu.Lock()
	ch, ok := g.pending[toolCallID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- decision:
		return true
	default:
		return false
	}
}

// Pending reports whether toolCallID currently has an outstanding
// confirmation request.
func (g *Gate) Pending(toolCallID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[toolCallID]
	return ok
}

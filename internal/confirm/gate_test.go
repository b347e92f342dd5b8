package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/stretchr/testify/require"
)

func alwaysWrite(args map[string]any) bool { return true }
func neverWrite(args map[string]any) bool  { return false }

func sqlGroup(name string) bool { return name == "execute_sql" }

func TestNeedsConfirmation_OffWhenSafeModeDisabled(t *testing.T) {
	g := New(func() bool { return false }, sqlGroup, alwaysWrite)
	require.False(t, g.NeedsConfirmation("execute_sql", nil))
}

func TestNeedsConfirmation_OffForNonSQLTool(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite)
	require.False(t, g.NeedsConfirmation("train_model", nil))
}

func TestNeedsConfirmation_OffForReadOnlyStatement(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, neverWrite)
	require.False(t, g.NeedsConfirmation("execute_sql", nil))
}

func TestNeedsConfirmation_OnForSafeModeSQLWrite(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite)
	require.True(t, g.NeedsConfirmation("execute_sql", map[string]any{"query": "DELETE FROM x"}))
}

func TestAwait_ApproveReturnsArgsUnchanged(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite)
	args := map[string]any{"query": "DELETE FROM x"}

	go func() {
		time.Sleep(5 * time.Millisecond)
		g.Resolve("call-1", Decision{Outcome: OutcomeApprove})
	}()

	result, err := g.Await(context.Background(), "call-1", args)
	require.NoError(t, err)
	require.Equal(t, args, result)
}

func TestAwait_EditMergesEditedArgs(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite)
	args := map[string]any{"query": "DELETE FROM x", "limit": 10}

	go func() {
		time.Sleep(5 * time.Millisecond)
		g.Resolve("call-2", Decision{Outcome: OutcomeEdit, EditedArgs: map[string]any{"limit": 1}})
	}()

	result, err := g.Await(context.Background(), "call-2", args)
	require.NoError(t, err)
	require.Equal(t, "DELETE FROM x", result["query"])
	require.Equal(t, 1, result["limit"])
}

func TestAwait_RejectRaisesUserRejected(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite)

	go func() {
		time.Sleep(5 * time.Millisecond)
		g.Resolve("call-3", Decision{Outcome: OutcomeReject})
	}()

	_, err := g.Await(context.Background(), "call-3", nil)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.UserRejected, kind)
}

func TestAwait_ContextCancelRaisesInterrupted(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := g.Await(ctx, "call-4", nil)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.Interrupted, kind)
}

func TestAwait_TimeoutRaisesUserRejected(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite, WithTimeout(10*time.Millisecond))

	_, err := g.Await(context.Background(), "call-timeout", nil)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.UserRejected, kind)
}

func TestResolve_ReturnsFalseWhenNoPendingRequest(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite)
	require.False(t, g.Resolve("no-such-call", Decision{Outcome: OutcomeApprove}))
}

func TestAwait_PendingClearedAfterResolution(t *testing.T) {
	g := New(func() bool { return true }, sqlGroup, alwaysWrite)
	done := make(chan struct{})
	go func() {
		g.Await(context.Background(), "call-5", nil)
		close(done)
	}()

	for !g.Pending("call-5") {
		time.Sleep(time.Millisecond)
	}
	g.Resolve("call-5", Decision{Outcome: OutcomeApprove})
	<-done
	require.False(t, g.Pending("call-5"))
}

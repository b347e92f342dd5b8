package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/frankawp/data-agent/internal/history"
)

func newTestREPL(t *testing.T) *replSession {
	t.Helper()
	a, err := buildApp(t.TempDir(), "", false)
	require.NoError(t, err)
	return &replSession{app: a}
}

func TestDispatch_ExitWords(t *testing.T) {
	r := newTestREPL(t)
	require.True(t, r.dispatch("exit"))
	require.True(t, r.dispatch("quit"))
	require.True(t, r.dispatch("q"))
	require.False(t, r.dispatch("/help"))
}

func TestDispatch_SetsModes(t *testing.T) {
	r := newTestREPL(t)

	require.False(t, r.dispatch("/plan on"))
	val, err := r.app.modes.Get("plan")
	require.NoError(t, err)
	require.Equal(t, "on", val)

	require.False(t, r.dispatch("/safe off"))
	val, err = r.app.modes.Get("safe")
	require.NoError(t, err)
	require.Equal(t, "off", val)

	require.False(t, r.dispatch("/preview all"))
	val, err = r.app.modes.Get("preview")
	require.NoError(t, err)
	require.Equal(t, "all", val)
}

func TestDispatch_RejectsInvalidModeValue(t *testing.T) {
	r := newTestREPL(t)
	require.False(t, r.dispatch("/plan sideways"))
	val, err := r.app.modes.Get("plan")
	require.NoError(t, err)
	require.Equal(t, "off", val, "invalid value must not overwrite the default")
}

func TestDispatch_ResetClearsHistoryAndSteps(t *testing.T) {
	r := newTestREPL(t)
	r.history = []history.Message{{Role: history.RoleUser, Content: "hi"}}
	r.steps = []stepRecord{{toolName: "list_tables"}}

	require.False(t, r.dispatch("/reset"))
	require.Empty(t, r.history)
	require.Empty(t, r.steps)
}

func TestShowStep_OutOfRangeIsSafe(t *testing.T) {
	r := newTestREPL(t)
	r.steps = []stepRecord{{toolName: "list_tables", result: "ok"}}

	r.showStep("0")
	r.showStep("2")
	r.showStep("not-a-number")
	r.showStep("1") // in range, must not panic
}

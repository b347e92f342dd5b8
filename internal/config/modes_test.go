package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModeStore_DefaultsWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.json")
	store := NewModeStore(path)
	require.Equal(t, DefaultModeConfig(), store.Config())
}

func TestModeStore_RoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.json")
	store := NewModeStore(path)

	require.NoError(t, store.Set("plan", "auto", true))
	require.NoError(t, store.Set("safe", "off", true))
	require.NoError(t, store.Set("preview", "all", true))
	require.NoError(t, store.Set("export", "on", true))

	_, err := os.Stat(path)
	require.NoError(t, err, "Set with persist=true must write modes.json")

	reloaded := NewModeStore(path)
	require.Equal(t, store.Config(), reloaded.Config(), "ModeConfig -> save_to_file -> load_from_file -> ModeConfig must preserve all values")
}

func TestModeStore_SetRejectsUnknownKey(t *testing.T) {
	store := NewModeStore(filepath.Join(t.TempDir(), "modes.json"))
	err := store.Set("bogus", "on", true)
	require.Error(t, err)
}

func TestModeStore_SetRejectsDisallowedValue(t *testing.T) {
	store := NewModeStore(filepath.Join(t.TempDir(), "modes.json"))
	err := store.Set("plan", "sideways", true)
	require.Error(t, err)
}

func TestModeStore_ToggleFlipsBoolean(t *testing.T) {
	store := NewModeStore(filepath.Join(t.TempDir(), "modes.json"))
	before := store.Config().AutoExecute

	next, err := store.Toggle("auto")
	require.NoError(t, err)
	if before {
		require.Equal(t, "off", next)
	} else {
		require.Equal(t, "on", next)
	}
	require.Equal(t, !before, store.Config().AutoExecute)
}

func TestModeStore_ToggleRejectsNonBooleanKey(t *testing.T) {
	store := NewModeStore(filepath.Join(t.TempDir(), "modes.json"))
	_, err := store.Toggle("plan")
	require.Error(t, err)
}

func TestModeStore_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.json")
	require.NoError(t, NewModeStore(path).Set("plan", "on", true))

	t.Setenv("DATA_AGENT_PLAN_MODE", "auto")
	overridden := NewModeStore(path)
	require.Equal(t, PlanModeAuto, overridden.Config().PlanMode, "environment variables override the persisted file")
}

func TestModeStore_ListenerFiresOnChange(t *testing.T) {
	store := NewModeStore(filepath.Join(t.TempDir(), "modes.json"))

	var gotKey string
	var gotOld, gotNew any
	store.RegisterListener("verbose", func(key string, oldValue, newValue any) {
		gotKey, gotOld, gotNew = key, oldValue, newValue
	})

	require.NoError(t, store.Set("verbose", "on", true))
	require.Equal(t, "verbose", gotKey)
	require.Equal(t, "off", gotOld)
	require.Equal(t, "on", gotNew)
}

func TestModeStore_ListenerPanicDoesNotPropagate(t *testing.T) {
	store := NewModeStore(filepath.Join(t.TempDir(), "modes.json"))
	store.RegisterListener("verbose", func(key string, oldValue, newValue any) {
		panic("listener exploded")
	})
	require.NotPanics(t, func() {
		require.NoError(t, store.Set("verbose", "on", true))
	})
}

func TestModeStore_ResetToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.json")
	store := NewModeStore(path)
	require.NoError(t, store.Set("safe", "off", true))
	require.NoError(t, store.Set("plan", "on", true))

	require.NoError(t, store.ResetToDefaults())
	require.Equal(t, DefaultModeConfig(), store.Config())

	reloaded := NewModeStore(path)
	require.Equal(t, DefaultModeConfig(), reloaded.Config())
}

func TestModeStore_GetAllCoversEveryKey(t *testing.T) {
	store := NewModeStore(filepath.Join(t.TempDir(), "modes.json"))
	all := store.GetAll()
	for _, key := range ModeKeys() {
		_, ok := all[key]
		require.True(t, ok, "GetAll must include mode key %q", key)
	}
}

// Package config loads process-wide configuration: the agents.yaml tool/model
// manifest and the persisted ModeConfig toggles that govern Plan Mode, the
// Privilege Gate, and preview/export behavior.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/telemetry"
)

// PlanMode is the allowed value set for ModeConfig.PlanMode.
type PlanMode string

const (
	PlanModeOff  PlanMode = "off"
	PlanModeOn   PlanMode = "on"
	PlanModeAuto PlanMode = "auto"
)

// PreviewLimit is the allowed value set for ModeConfig.PreviewLimit.
type PreviewLimit string

const (
	PreviewLimit10  PreviewLimit = "10"
	PreviewLimit50  PreviewLimit = "50"
	PreviewLimit100 PreviewLimit = "100"
	PreviewLimitAll PreviewLimit = "all"
)

// Int returns the numeric row cap, or ok=false for "all" (no cap).
func (p PreviewLimit) Int() (n int, ok bool) {
	if p == PreviewLimitAll {
		return 0, false
	}
	n, err := strconv.Atoi(string(p))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ModeConfig holds the process-wide runtime toggles. JSON tags match the
// persisted modes.json field names verbatim.
type ModeConfig struct {
	PlanMode     PlanMode     `json:"plan_mode"`
	AutoExecute  bool         `json:"auto_execute"`
	SafeMode     bool         `json:"safe_mode"`
	Verbose      bool         `json:"verbose"`
	PreviewLimit PreviewLimit `json:"preview_limit"`
	ExportMode   bool         `json:"export_mode"`
}

// DefaultModeConfig returns the built-in default mode toggles.
func DefaultModeConfig() ModeConfig {
	return ModeConfig{
		PlanMode:     PlanModeOff,
		AutoExecute:  true,
		SafeMode:     true,
		Verbose:      false,
		PreviewLimit: PreviewLimit50,
		ExportMode:   false,
	}
}

// modeDefinition describes one addressable mode key for the CLI/HTTP
// surface.
type modeDefinition struct {
	displayName   string
	description   string
	allowedValues []string
	envKey        string
}

// ModeDefinitions is the fixed set of mode keys, including the environment
// variable name each can be overridden with.
var ModeDefinitions = map[string]modeDefinition{
	"plan": {
		displayName:   "Plan Mode",
		description:   "controls task-planning behavior",
		allowedValues: []string{"off", "on", "auto"},
		envKey:        "DATA_AGENT_PLAN_MODE",
	},
	"auto": {
		displayName:   "Auto Execute",
		description:   "whether tool calls run automatically",
		allowedValues: []string{"on", "off"},
		envKey:        "DATA_AGENT_AUTO_EXECUTE",
	},
	"safe": {
		displayName:   "Safe Mode",
		description:   "restricts dangerous SQL operations",
		allowedValues: []string{"on", "off"},
		envKey:        "DATA_AGENT_SAFE_MODE",
	},
	"verbose": {
		displayName:   "Verbose",
		description:   "shows detailed thinking output",
		allowedValues: []string{"on", "off"},
		envKey:        "DATA_AGENT_VERBOSE",
	},
	"preview": {
		displayName:   "Preview Limit",
		description:   "maximum rows shown in a data preview",
		allowedValues: []string{"10", "50", "100", "all"},
		envKey:        "DATA_AGENT_PREVIEW_LIMIT",
	},
	"export": {
		displayName:   "Export Mode",
		description:   "automatically save results to file",
		envKey:        "DATA_AGENT_EXPORT_MODE",
		allowedValues: []string{"on", "off"},
	},
}

// DisplayName returns the mode's human-readable label.
func (d modeDefinition) DisplayName() string { return d.displayName }

// Description returns the mode's one-line description.
func (d modeDefinition) Description() string { return d.description }

// AllowedValues returns the mode's accepted external values.
func (d modeDefinition) AllowedValues() []string { return d.allowedValues }

// ModeKeys returns the fixed mode key set in a stable display order.
func ModeKeys() []string {
	return []string{"plan", "auto", "safe", "verbose", "preview", "export"}
}

// ChangeFunc is invoked after a mode value changes. Failures are swallowed:
// a misbehaving listener must never affect the mode change itself.
type ChangeFunc func(key string, oldValue, newValue any)

// ModeStore is the persisted, mutex-guarded home for ModeConfig. It loads
// defaults, then a JSON file, then environment overrides (in that priority
// order, env winning), and persists every mutation back to the same file
// with an atomic write.
type ModeStore struct {
	mu        sync.RWMutex
	config    ModeConfig
	path      string
	log       telemetry.Logger
	listeners map[string][]ChangeFunc
}

// ModeStoreOption configures a ModeStore.
type ModeStoreOption func(*ModeStore)

// WithModeLogger installs a structured logger for non-fatal load/save/callback
// failures.
func WithModeLogger(log telemetry.Logger) ModeStoreOption {
	return func(s *ModeStore) { s.log = log }
}

// NewModeStore constructs a ModeStore persisted at path. A missing or
// malformed file is non-fatal and falls back to defaults — a corrupt
// modes.json must never prevent the process from starting.
func NewModeStore(path string, opts ...ModeStoreOption) *ModeStore {
	s := &ModeStore{
		config:    DefaultModeConfig(),
		path:      path,
		log:       telemetry.NewNoopLogger(),
		listeners: make(map[string][]ChangeFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadFromFile(); err != nil {
		s.log.Warn(context.Background(), "mode store: load from file failed, using defaults", "path", path, "error", err.Error())
	}
	s.loadFromEnv()
	return s
}

// Config returns a snapshot of the current configuration.
func (s *ModeStore) Config() ModeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Get returns the current value of mode key (as its external string form).
func (s *ModeStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(key)
}

func (s *ModeStore) getLocked(key string) (string, error) {
	if _, ok := ModeDefinitions[key]; !ok {
		return "", errkind.Errorf(errkind.ConfigError, "unknown mode key %q", key)
	}
	switch key {
	case "plan":
		return string(s.config.PlanMode), nil
	case "auto":
		return boolToOnOff(s.config.AutoExecute), nil
	case "safe":
		return boolToOnOff(s.config.SafeMode), nil
	case "verbose":
		return boolToOnOff(s.config.Verbose), nil
	case "preview":
		return string(s.config.PreviewLimit), nil
	case "export":
		return boolToOnOff(s.config.ExportMode), nil
	default:
		return "", errkind.Errorf(errkind.ConfigError, "unknown mode key %q", key)
	}
}

// GetAll returns every mode key's current external value.
func (s *ModeStore) GetAll() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(ModeDefinitions))
	for key := range ModeDefinitions {
		v, _ := s.getLocked(key)
		out[key] = v
	}
	return out
}

// Set validates and applies value to mode key, persists the result to disk,
// and fires any registered listeners. persist=false is used internally for
// the startup environment pass, which must not race a concurrent file write
// before the store finishes constructing.
func (s *ModeStore) Set(key, value string, persist bool) error {
	def, ok := ModeDefinitions[key]
	if !ok {
		return errkind.Errorf(errkind.ConfigError, "unknown mode key %q", key)
	}
	if !allowed(def.allowedValues, normalizeMode(key, value)) {
		return errkind.Errorf(errkind.ConfigError, "mode %q does not accept value %q (allowed: %s)", key, value, strings.Join(def.allowedValues, ", "))
	}

	s.mu.Lock()
	oldValue, _ := s.getLocked(key)
	s.applyLocked(key, value)
	newValue, _ := s.getLocked(key)
	cfg := s.config
	s.mu.Unlock()

	if persist {
		if err := s.saveToFile(cfg); err != nil {
			return errkind.Wrap(errkind.ConfigError, "persist mode change", err)
		}
	}
	s.fireListeners(key, oldValue, newValue)
	return nil
}

// applyLocked must be called with s.mu held for writing.
func (s *ModeStore) applyLocked(key, value string) {
	switch key {
	case "plan":
		s.config.PlanMode = PlanMode(strings.ToLower(value))
	case "auto":
		s.config.AutoExecute = isOn(value)
	case "safe":
		s.config.SafeMode = isOn(value)
	case "verbose":
		s.config.Verbose = isOn(value)
	case "preview":
		s.config.PreviewLimit = PreviewLimit(strings.ToLower(value))
	case "export":
		s.config.ExportMode = isOn(value)
	}
}

// Toggle flips a boolean mode key and returns its new external value. Toggle
// on "plan" or "preview" (non-boolean keys) returns an error.
func (s *ModeStore) Toggle(key string) (string, error) {
	s.mu.RLock()
	current, err := s.getLocked(key)
	s.mu.RUnlock()
	if err != nil {
		return "", err
	}
	if current != "on" && current != "off" {
		return "", errkind.Errorf(errkind.ConfigError, "mode %q is not a boolean toggle", key)
	}
	next := "on"
	if current == "on" {
		next = "off"
	}
	if err := s.Set(key, next, true); err != nil {
		return "", err
	}
	return next, nil
}

// ResetToDefaults restores every mode to its default value and persists the
// result.
func (s *ModeStore) ResetToDefaults() error {
	s.mu.Lock()
	s.config = DefaultModeConfig()
	cfg := s.config
	s.mu.Unlock()
	if err := s.saveToFile(cfg); err != nil {
		return errkind.Wrap(errkind.ConfigError, "persist mode reset", err)
	}
	return nil
}

// RegisterListener appends fn to the callbacks fired after key changes.
func (s *ModeStore) RegisterListener(key string, fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[key] = append(s.listeners[key], fn)
}

func (s *ModeStore) fireListeners(key string, oldValue, newValue any) {
	s.mu.RLock()
	fns := append([]ChangeFunc(nil), s.listeners[key]...)
	s.mu.RUnlock()
	for _, fn := range fns {
		s.safeInvoke(fn, key, oldValue, newValue)
	}
}

func (s *ModeStore) safeInvoke(fn ChangeFunc, key string, oldValue, newValue any) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn(context.Background(), "mode store: listener panicked", "key", key, "panic", fmt.Sprint(r))
		}
	}()
	fn(key, oldValue, newValue)
}

// loadFromFile reads ModeConfig from s.path, if present. A missing file is
// not an error; a malformed file returns an error that the caller logs and
// discards, leaving the default configuration in place.
func (s *ModeStore) loadFromFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var cfg ModeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	if cfg.PlanMode == "" {
		cfg.PlanMode = PlanModeOff
	}
	if cfg.PreviewLimit == "" {
		cfg.PreviewLimit = PreviewLimit50
	}
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	return nil
}

// loadFromEnv applies environment overrides on top of whatever loadFromFile
// produced, env always winning. Values that Set rejects (an unknown plan or
// preview value) are logged and skipped rather than treated as fatal; a
// boolean key reads any value other than on/true/1/yes as off.
func (s *ModeStore) loadFromEnv() {
	for key, def := range ModeDefinitions {
		val, ok := os.LookupEnv(def.envKey)
		if !ok {
			continue
		}
		if err := s.Set(key, val, false); err != nil {
			s.log.Warn(context.Background(), "mode store: ignoring invalid env override", "key", key, "env", def.envKey, "error", err.Error())
		}
	}
}

// saveToFile writes cfg to s.path via a temp-file-then-rename: a crash or
// concurrent reader must never observe a partially-written modes.json.
func (s *ModeStore) saveToFile(cfg ModeConfig) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".modes.*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func boolToOnOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func isOn(value string) bool {
	switch strings.ToLower(value) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

func normalizeMode(key, value string) string {
	switch key {
	case "plan", "preview":
		return strings.ToLower(value)
	default:
		return boolToOnOff(isOn(value))
	}
}

func allowed(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

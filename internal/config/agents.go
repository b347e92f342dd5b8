package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/telemetry"
)

// LLMProfile is one named LLM configuration a sub-agent or the coordinator
// can reference.
type LLMProfile struct {
	Model       string  `mapstructure:"model" yaml:"model"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// LLMConfig holds the default profile plus any named profiles.
type LLMConfig struct {
	Default  LLMProfile            `mapstructure:"default" yaml:"default"`
	Profiles map[string]LLMProfile `mapstructure:"profiles" yaml:"profiles,omitempty"`
}

// BuiltinToolsConfig toggles whole tool groups on or off.
type BuiltinToolsConfig struct {
	SQLTools    bool `mapstructure:"sql_tools" yaml:"sql_tools"`
	PythonTools bool `mapstructure:"python_tools" yaml:"python_tools"`
	MLTools     bool `mapstructure:"ml_tools" yaml:"ml_tools"`
	GraphTools  bool `mapstructure:"graph_tools" yaml:"graph_tools"`
}

// ExternalToolConfig names a loadable external tool module.
type ExternalToolConfig struct {
	Module string   `mapstructure:"module" yaml:"module"`
	Tools  []string `mapstructure:"tools" yaml:"tools"`
}

// ToolsConfig is the tool-registry section of agents.yaml.
type ToolsConfig struct {
	Builtin  BuiltinToolsConfig   `mapstructure:"builtin" yaml:"builtin"`
	Aliases  map[string]string    `mapstructure:"aliases" yaml:"aliases,omitempty"`
	External []ExternalToolConfig `mapstructure:"external" yaml:"external,omitempty"`
}

// SubAgentConfig describes one delegate sub-agent available to the
// coordinator.
type SubAgentConfig struct {
	Description  string   `mapstructure:"description" yaml:"description,omitempty"`
	LLM          string   `mapstructure:"llm" yaml:"llm,omitempty"`
	Tools        []string `mapstructure:"tools" yaml:"tools,omitempty"`
	PromptFile   string   `mapstructure:"prompt_file" yaml:"prompt_file,omitempty"`
	SystemPrompt string   `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	Middleware   []string `mapstructure:"middleware" yaml:"middleware,omitempty"`
}

// CoordinatorConfig configures the top-level agent that delegates to
// sub-agents.
type CoordinatorConfig struct {
	LLM              string `mapstructure:"llm" yaml:"llm"`
	PromptFile       string `mapstructure:"prompt_file" yaml:"prompt_file,omitempty"`
	SystemPrompt     string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	UseDefaultPrompt bool   `mapstructure:"use_default_prompt" yaml:"use_default_prompt"`
}

// HotReloadConfig controls the agents.yaml file watcher.
type HotReloadConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	WatchPaths []string `mapstructure:"watch_paths" yaml:"watch_paths,omitempty"`
	DebounceMS int      `mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// AgentSystemConfig is the fully parsed agents.yaml document.
type AgentSystemConfig struct {
	Version     string                    `mapstructure:"version" yaml:"version"`
	LLM         LLMConfig                 `mapstructure:"llm" yaml:"llm"`
	Tools       ToolsConfig               `mapstructure:"tools" yaml:"tools"`
	SubAgents   map[string]SubAgentConfig `mapstructure:"subagents" yaml:"subagents,omitempty"`
	Coordinator CoordinatorConfig         `mapstructure:"coordinator" yaml:"coordinator"`
	HotReload   HotReloadConfig           `mapstructure:"hot_reload" yaml:"hot_reload"`
}

// DefaultAgentSystemConfig returns the built-in default configuration.
func DefaultAgentSystemConfig() AgentSystemConfig {
	return AgentSystemConfig{
		Version: "1.0",
		LLM:     LLMConfig{Default: LLMProfile{Model: "deepseek-chat", Temperature: 0.7}},
		Tools: ToolsConfig{
			Builtin: BuiltinToolsConfig{SQLTools: true, PythonTools: true, MLTools: true, GraphTools: true},
		},
		Coordinator: CoordinatorConfig{LLM: "default", UseDefaultPrompt: true},
		HotReload:   HotReloadConfig{DebounceMS: 1000},
	}
}

// WriteTemplate renders cfg as YAML and writes it to path, so it can be
// loaded back unchanged by NewAgentConfigLoader/Reload. Refuses to overwrite
// an existing file unless force is true.
func WriteTemplate(cfg AgentSystemConfig, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists (use --force to overwrite)", path)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal template: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// GetLLMProfile resolves a named profile, falling back to the default
// profile for "default" or an unknown name (matches
// AgentSystemConfig.get_llm_profile).
func (c AgentSystemConfig) GetLLMProfile(name string) LLMProfile {
	if name == "" || name == "default" {
		return c.LLM.Default
	}
	if p, ok := c.LLM.Profiles[name]; ok {
		return p
	}
	return c.LLM.Default
}

// AllToolNames collects every tool name referenced by any configured
// sub-agent.
func (c AgentSystemConfig) AllToolNames() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, sa := range c.SubAgents {
		for _, name := range sa.Tools {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out
}

// ReloadFunc is invoked with the freshly loaded configuration after a
// successful Reload. Panics and errors from a callback are swallowed so one
// misbehaving listener cannot block the others or the reload itself.
type ReloadFunc func(cfg AgentSystemConfig)

var envVarPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// expandEnv substitutes ${VAR} and ${VAR:default} references in s using the
// process environment. viper's own env binding only maps a single key, not
// arbitrary inline references inside string values, so this is hand-rolled.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

func expandEnvDeep(dst map[string]any) {
	for key, val := range dst {
		switch typed := val.(type) {
		case string:
			dst[key] = expandEnv(typed)
		case map[string]any:
			expandEnvDeep(typed)
		case []any:
			for i, item := range typed {
				if s, ok := item.(string); ok {
					typed[i] = expandEnv(s)
				}
			}
		}
	}
}

// AgentConfigLoader loads, validates, and hot-reloads agents.yaml. It is an
// explicit handle constructed at startup, backed by github.com/spf13/viper
// for the YAML decode.
type AgentConfigLoader struct {
	mu         sync.RWMutex
	config     AgentSystemConfig
	configPath string
	log        telemetry.Logger
	callbacks  []ReloadFunc

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// AgentConfigOption configures an AgentConfigLoader.
type AgentConfigOption func(*AgentConfigLoader)

// WithAgentConfigLogger installs a structured logger.
func WithAgentConfigLogger(log telemetry.Logger) AgentConfigOption {
	return func(l *AgentConfigLoader) { l.log = log }
}

// NewAgentConfigLoader loads configPath (or, if empty, resolves it from the
// DATA_AGENT_CONFIG environment variable, else runs on defaults with no
// file) and returns a loader ready to serve Config() and optionally
// Watch(ctx).
func NewAgentConfigLoader(configPath string, opts ...AgentConfigOption) (*AgentConfigLoader, error) {
	l := &AgentConfigLoader{
		config: DefaultAgentSystemConfig(),
		log:    telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.configPath = resolveConfigPath(configPath)
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("DATA_AGENT_CONFIG"); env != "" {
		return env
	}
	return ""
}

// Config returns a snapshot of the current configuration.
func (l *AgentConfigLoader) Config() AgentSystemConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// ConfigPath returns the path the configuration was loaded from, or "" if
// running on defaults with no file.
func (l *AgentConfigLoader) ConfigPath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.configPath
}

// Reload re-reads the configuration file (if any), applies environment
// substitution, loads external prompt files, and notifies listeners. A
// missing file is not an error: the loader falls back to defaults. A
// malformed file is logged and also falls back to defaults rather than
// aborting the process.
func (l *AgentConfigLoader) Reload() error {
	cfg := DefaultAgentSystemConfig()

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err == nil {
			v := viper.New()
			v.SetConfigFile(l.configPath)
			if err := v.ReadInConfig(); err != nil {
				l.log.Error(context.Background(), "agent config: parse failed, using defaults", "path", l.configPath, "error", err.Error())
			} else {
				raw := v.AllSettings()
				expandEnvDeep(raw)
				decoded := DefaultAgentSystemConfig()
				if err := viperDecode(raw, &decoded); err != nil {
					l.log.Error(context.Background(), "agent config: decode failed, using defaults", "path", l.configPath, "error", err.Error())
				} else {
					cfg = decoded
				}
			}
		} else if !os.IsNotExist(err) {
			l.log.Warn(context.Background(), "agent config: stat failed", "path", l.configPath, "error", err.Error())
		}
	}

	l.loadPromptFiles(&cfg)

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()

	l.notifyReload(cfg)
	return nil
}

// loadPromptFiles resolves each sub-agent's (and the coordinator's)
// prompt_file relative to the config file's directory, filling
// SystemPrompt when it is not already set inline.
func (l *AgentConfigLoader) loadPromptFiles(cfg *AgentSystemConfig) {
	if l.configPath == "" {
		return
	}
	dir := filepath.Dir(l.configPath)

	for name, sa := range cfg.SubAgents {
		if sa.PromptFile == "" || sa.SystemPrompt != "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, sa.PromptFile))
		if err != nil {
			l.log.Warn(context.Background(), "agent config: prompt file load failed", "subagent", name, "error", err.Error())
			continue
		}
		sa.SystemPrompt = string(data)
		cfg.SubAgents[name] = sa
	}

	if cfg.Coordinator.PromptFile != "" && cfg.Coordinator.SystemPrompt == "" {
		data, err := os.ReadFile(filepath.Join(dir, cfg.Coordinator.PromptFile))
		if err != nil {
			l.log.Warn(context.Background(), "agent config: coordinator prompt file load failed", "error", err.Error())
		} else {
			cfg.Coordinator.SystemPrompt = string(data)
		}
	}
}

// RegisterReloadCallback appends fn to the listeners fired after every
// later Reload. The initial load runs inside NewAgentConfigLoader, before
// any callback can be registered, so it does not fire fn.
func (l *AgentConfigLoader) RegisterReloadCallback(fn ReloadFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, fn)
}

func (l *AgentConfigLoader) notifyReload(cfg AgentSystemConfig) {
	l.mu.RLock()
	fns := append([]ReloadFunc(nil), l.callbacks...)
	l.mu.RUnlock()
	for _, fn := range fns {
		l.safeInvoke(fn, cfg)
	}
}

func (l *AgentConfigLoader) safeInvoke(fn ReloadFunc, cfg AgentSystemConfig) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error(context.Background(), "agent config: reload callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn(cfg)
}

// Watch starts a debounced fsnotify watch over hot_reload.watch_paths (or,
// if empty, the directory containing the config file) and calls Reload on
// every relevant change. It returns immediately; the watch loop runs in its
// own goroutine until ctx is cancelled or Stop is called. Debouncing uses a
// single-slot timer reset on every fsnotify event within the window.
func (l *AgentConfigLoader) Watch(ctx context.Context) error {
	l.mu.RLock()
	hr := l.config.HotReload
	configPath := l.configPath
	l.mu.RUnlock()

	if !hr.Enabled {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errkind.Wrap(errkind.ConfigError, "create config watcher", err)
	}

	paths := hr.WatchPaths
	if len(paths) == 0 && configPath != "" {
		paths = []string{configPath}
	}
	watchedAny := false
	for _, p := range paths {
		if !filepath.IsAbs(p) && configPath != "" {
			p = filepath.Join(filepath.Dir(configPath), p)
		}
		info, statErr := os.Stat(p)
		target := p
		if statErr == nil && !info.IsDir() {
			target = filepath.Dir(p)
		}
		if err := watcher.Add(target); err != nil {
			l.log.Warn(ctx, "agent config: watch path failed", "path", target, "error", err.Error())
			continue
		}
		watchedAny = true
	}
	if !watchedAny {
		watcher.Close()
		l.log.Warn(ctx, "agent config: no valid watch paths, hot reload disabled")
		return nil
	}

	debounce := time.Duration(hr.DebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = time.Second
	}

	l.watcher = watcher
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.watchLoop(ctx, debounce)
	return nil
}

func (l *AgentConfigLoader) watchLoop(ctx context.Context, debounce time.Duration) {
	defer close(l.doneCh)

	var timer *time.Timer
	var timerCh <-chan time.Time
	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			ext := filepath.Ext(ev.Name)
			if ext != ".yaml" && ext != ".yml" && ext != ".md" {
				continue
			}
			resetTimer()
		case <-timerCh:
			if err := l.Reload(); err != nil {
				l.log.Error(ctx, "agent config: hot reload failed", "error", err.Error())
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Error(ctx, "agent config: watcher error", "error", err.Error())
		}
	}
}

// Stop shuts down the hot-reload watch goroutine, if running.
func (l *AgentConfigLoader) Stop() error {
	if l.watcher == nil {
		return nil
	}
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	<-l.doneCh
	return l.watcher.Close()
}

// viperDecode decodes raw (already env-expanded) settings into cfg using
// viper's own mapstructure-backed decoder, reusing the same struct tags the
// initial v.Unmarshal call would have used.
func viperDecode(raw map[string]any, cfg *AgentSystemConfig) error {
	v := viper.New()
	if err := v.MergeConfigMap(raw); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/frankawp/data-agent/internal/config"
	"github.com/frankawp/data-agent/internal/events"
	"github.com/frankawp/data-agent/internal/history"
	"github.com/frankawp/data-agent/internal/llmclient"
	"github.com/frankawp/data-agent/internal/runtime"
	"github.com/frankawp/data-agent/internal/session"
	"github.com/frankawp/data-agent/internal/telemetry"
	"github.com/frankawp/data-agent/internal/tools"
)

// app bundles every long-lived service the CLI and the HTTP server share, so
// `repl` and `serve` construct their transport around the same core.
type app struct {
	log      telemetry.Logger
	modes    *config.ModeStore
	agents   *config.AgentConfigLoader
	sessions *session.Registry
	bus      *events.Bus
	registry *tools.Registry
	runtime  *runtime.Runtime
}

// defaultHomeDir returns $HOME/.data_agent.
func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".data_agent")
}

func buildApp(homeDir, configPath string, verbose bool) (*app, error) {
	if homeDir == "" {
		homeDir = defaultHomeDir()
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return nil, err
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
	log := telemetry.NewZerologLogger(zl)

	modes := config.NewModeStore(filepath.Join(homeDir, "modes.json"), config.WithModeLogger(log))

	agentsCfg, err := config.NewAgentConfigLoader(configPath, config.WithAgentConfigLogger(log))
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewRegistry(filepath.Join(homeDir, "sessions"), session.WithLogger(log))
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(events.WithLogger(log))
	registry := tools.NewRegistry()

	sysCfg := agentsCfg.Config()
	applyToolsConfig(registry, sysCfg, log)

	llmClient := llmclient.New(sysCfg.GetLLMProfile(sysCfg.Coordinator.LLM))
	compactor, err := history.New(llmClient)
	if err != nil {
		return nil, err
	}

	settings := func() runtime.Settings {
		all := modes.GetAll()
		return runtime.Settings{
			PlanMode:         all["plan"],
			SafeMode:         all["safe"] == "on",
			MaxContextTokens: defaultMaxContextTokens,
			CompactThreshold: defaultCompactThreshold,
			CompactKeepRatio: defaultCompactKeepRatio,
		}
	}

	rt := runtime.New(
		llmClient,
		registry,
		bus,
		compactor,
		settings,
		func(toolName string) bool {
			group, ok := registry.GroupOf(toolName)
			return ok && group == tools.GroupSQL
		},
		sqlWriteClassifier,
		nil,
		runtime.WithLogger(log),
	)

	a := &app{
		log:      log,
		modes:    modes,
		agents:   agentsCfg,
		sessions: sessions,
		bus:      bus,
		registry: registry,
		runtime:  rt,
	}

	if sysCfg.HotReload.Enabled {
		agentsCfg.RegisterReloadCallback(func(cfg config.AgentSystemConfig) {
			applyToolsConfig(registry, cfg, log)
		})
	}

	return a, nil
}

const (
	defaultMaxContextTokens = 64_000
	defaultCompactThreshold = 0.8
	defaultCompactKeepRatio = 0.1
)

// applyToolsConfig re-derives the registry's enabled groups/aliases/external
// modules from a freshly loaded AgentSystemConfig. No concrete tool
// constructors live in this binary, so Builtin groups only gate tools a
// deployment has registered elsewhere; external module loading has no
// ModuleLoader wired here and logs a warning per entry instead of failing
// startup.
func applyToolsConfig(registry *tools.Registry, cfg config.AgentSystemConfig, log telemetry.Logger) {
	var builtin []tools.Group
	if cfg.Tools.Builtin.SQLTools {
		builtin = append(builtin, tools.GroupSQL)
	}
	if cfg.Tools.Builtin.PythonTools {
		builtin = append(builtin, tools.GroupPython)
	}
	if cfg.Tools.Builtin.MLTools {
		builtin = append(builtin, tools.GroupML)
	}
	if cfg.Tools.Builtin.GraphTools {
		builtin = append(builtin, tools.GroupGraph)
	}

	var external []tools.ExternalModule
	for _, ext := range cfg.Tools.External {
		log.Warn(context.Background(), "tools: no module loader wired; external module not loaded", "module", ext.Module)
		external = append(external, tools.ExternalModule{ModulePath: ext.Module, Names: ext.Tools})
	}

	registry.ApplyConfig(tools.Config{
		Builtin:  builtin,
		Aliases:  cfg.Tools.Aliases,
		External: external,
	}, nil, func(format string, args ...any) {
		log.Warn(context.Background(), fmt.Sprintf(format, args...))
	})
}

// sqlWriteClassifier backs the Privilege Gate's write-detection rule. No SQL
// parser is wired into this binary, so every SQL-group call is
// conservatively treated as a potential write until a concrete SQL tool
// integration supplies a real classifier via its own middleware.
func sqlWriteClassifier(args map[string]any) bool {
	return true
}

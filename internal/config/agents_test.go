package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAgentConfigLoader_DefaultsWhenFileMissing(t *testing.T) {
	loader, err := NewAgentConfigLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultAgentSystemConfig(), loader.Config())
}

func TestWriteTemplate_RoundTripsThroughAgentConfigLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	want := DefaultAgentSystemConfig()
	want.SubAgents = map[string]SubAgentConfig{
		"sql_analyst": {Description: "runs SQL queries", Tools: []string{"execute_sql"}},
	}

	require.NoError(t, WriteTemplate(want, path, false))

	loader, err := NewAgentConfigLoader(path)
	require.NoError(t, err)
	require.Equal(t, want, loader.Config())
}

func TestWriteTemplate_RefusesToOverwriteWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, WriteTemplate(DefaultAgentSystemConfig(), path, false))

	err := WriteTemplate(DefaultAgentSystemConfig(), path, false)
	require.Error(t, err)

	require.NoError(t, WriteTemplate(DefaultAgentSystemConfig(), path, true))
}

func TestAgentConfigLoader_ParsesSubagentsAndLLMProfiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", `
version: "1.0"
llm:
  default:
    model: deepseek-chat
    temperature: 0.3
  profiles:
    fast:
      model: deepseek-lite
      temperature: 0.9
subagents:
  analyst:
    description: "runs SQL analysis"
    llm: fast
    tools: ["run_sql", "describe_table"]
coordinator:
  llm: default
  use_default_prompt: true
`)

	loader, err := NewAgentConfigLoader(path)
	require.NoError(t, err)
	cfg := loader.Config()

	require.Equal(t, "deepseek-chat", cfg.LLM.Default.Model)
	require.Contains(t, cfg.SubAgents, "analyst")
	require.Equal(t, "runs SQL analysis", cfg.SubAgents["analyst"].Description)
	require.Equal(t, []string{"run_sql", "describe_table"}, cfg.SubAgents["analyst"].Tools)

	fast := cfg.GetLLMProfile("fast")
	require.Equal(t, "deepseek-lite", fast.Model)
	require.ElementsMatch(t, []string{"run_sql", "describe_table"}, cfg.AllToolNames())
}

func TestAgentConfigLoader_ExpandsEnvVarsWithDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", `
llm:
  default:
    model: "${AGENT_MODEL:deepseek-chat}"
    base_url: "${AGENT_BASE_URL}"
`)

	t.Setenv("AGENT_MODEL", "")
	os.Unsetenv("AGENT_MODEL")
	t.Setenv("AGENT_BASE_URL", "https://example.test")

	loader, err := NewAgentConfigLoader(path)
	require.NoError(t, err)
	cfg := loader.Config()
	require.Equal(t, "deepseek-chat", cfg.LLM.Default.Model, "missing env var should fall back to the ${VAR:default} default")
	require.Equal(t, "https://example.test", cfg.LLM.Default.BaseURL)
}

func TestAgentConfigLoader_LoadsExternalPromptFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "analyst.md", "You are a careful SQL analyst.")
	path := writeFile(t, dir, "agents.yaml", `
subagents:
  analyst:
    description: "runs SQL analysis"
    prompt_file: analyst.md
`)

	loader, err := NewAgentConfigLoader(path)
	require.NoError(t, err)
	require.Equal(t, "You are a careful SQL analyst.", loader.Config().SubAgents["analyst"].SystemPrompt)
}

func TestAgentConfigLoader_ReloadCallbackFires(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", "version: \"1.0\"\n")

	loader, err := NewAgentConfigLoader(path)
	require.NoError(t, err)

	calls := 0
	loader.RegisterReloadCallback(func(cfg AgentSystemConfig) { calls++ })

	require.NoError(t, loader.Reload())
	require.Equal(t, 1, calls)
}

func TestAgentConfigLoader_ReloadCallbackPanicDoesNotPropagate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", "version: \"1.0\"\n")

	loader, err := NewAgentConfigLoader(path)
	require.NoError(t, err)
	loader.RegisterReloadCallback(func(cfg AgentSystemConfig) { panic("boom") })

	require.NotPanics(t, func() {
		require.NoError(t, loader.Reload())
	})
}

func TestAgentConfigLoader_MalformedYAMLFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", "llm: [this is not a map\n")

	loader, err := NewAgentConfigLoader(path)
	require.NoError(t, err)
	require.Equal(t, DefaultAgentSystemConfig(), loader.Config())
}

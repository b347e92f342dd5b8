package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/frankawp/data-agent/internal/config"
	"github.com/frankawp/data-agent/internal/history"
	"github.com/frankawp/data-agent/internal/runtime"
)

// stepRecord is what `:<n>` recalls: the tool call/result pair observed for
// step n of the most recently completed turn.
type stepRecord struct {
	toolName string
	args     map[string]any
	result   string
}

// replSession holds everything that changes turn-to-turn inside one REPL
// invocation: conversation history (runtime.Runtime is itself stateless
// across calls) and the last turn's step log for `:<n>`/`/steps`.
type replSession struct {
	app     *app
	history []history.Message
	steps   []stepRecord
}

func runREPL(cmd *cobra.Command, args []string) error {
	a, err := buildApp(homeDirFlag, configFlag, verboseFlag)
	if err != nil {
		return fmt.Errorf("data-agent: initialization failed: %w", err)
	}
	sess, err := a.sessions.Create("")
	if err != nil {
		return fmt.Errorf("data-agent: initialization failed: %w", err)
	}
	a.sessions.SetCurrent(sess)

	r := &replSession{app: a}

	fmt.Println("data-agent REPL — type /help for commands, exit to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if r.dispatch(line) {
			break
		}
	}
	return nil
}

// dispatch handles one line of REPL input. It returns true when the REPL
// should exit.
func (r *replSession) dispatch(line string) bool {
	switch {
	case line == "exit" || line == "quit" || line == "q":
		return true

	case strings.HasPrefix(line, ":"):
		r.showStep(line[1:])

	case line == "/help":
		printHelp()

	case line == "/modes":
		r.printModes()

	case strings.HasPrefix(line, "/plan "):
		r.setMode("plan", strings.TrimPrefix(line, "/plan "))

	case strings.HasPrefix(line, "/auto "):
		r.setMode("auto", strings.TrimPrefix(line, "/auto "))

	case strings.HasPrefix(line, "/safe "):
		r.setMode("safe", strings.TrimPrefix(line, "/safe "))

	case strings.HasPrefix(line, "/verbose "):
		r.setMode("verbose", strings.TrimPrefix(line, "/verbose "))

	case strings.HasPrefix(line, "/preview "):
		r.setMode("preview", strings.TrimPrefix(line, "/preview "))

	case strings.HasPrefix(line, "/export "):
		r.setMode("export", strings.TrimPrefix(line, "/export "))

	case line == "/reset":
		r.history = nil
		r.steps = nil
		fmt.Println("conversation history cleared")

	case line == "/clear":
		fmt.Print("\033[H\033[2J")

	case line == "/config":
		r.printConfig()

	case line == "/reload":
		if err := r.app.agents.Reload(); err != nil {
			fmt.Println("reload failed:", err)
		} else {
			fmt.Println("configuration reloaded")
		}

	case line == "/steps":
		r.printSteps()

	default:
		r.runTurn(line)
	}
	return false
}

func printHelp() {
	fmt.Println(`Recognised inputs:
  <free text>           send a message to the agent
  exit | quit | q       leave the REPL
  :<n>                  show step detail for step n of the last turn
  /help                 this text
  /modes                list all modes and their current values
  /plan on|off|auto     set plan mode
  /auto on|off          set auto-execute mode
  /safe on|off          set safe mode
  /verbose on|off       set verbose mode
  /preview 10|50|100|all  set preview row limit
  /export on|off        set export mode
  /reset                forget conversation history
  /clear                clear the screen
  /config               show the loaded agent configuration
  /reload               reload agents.yaml
  /steps                list steps from the last turn`)
}

func (r *replSession) printModes() {
	for _, key := range config.ModeKeys() {
		def := config.ModeDefinitions[key]
		val, _ := r.app.modes.Get(key)
		fmt.Printf("  %-8s %-14s = %-6s  (%s)\n", key, def.DisplayName(), val, def.Description())
	}
}

func (r *replSession) setMode(key, value string) {
	value = strings.TrimSpace(value)
	if err := r.app.modes.Set(key, value, true); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%s = %s\n", key, value)
}

func (r *replSession) printConfig() {
	cfg := r.app.agents.Config()
	fmt.Printf("version: %s\n", cfg.Version)
	fmt.Printf("coordinator.llm: %s\n", cfg.Coordinator.LLM)
	fmt.Printf("tools.builtin: sql=%v python=%v ml=%v graph=%v\n",
		cfg.Tools.Builtin.SQLTools, cfg.Tools.Builtin.PythonTools, cfg.Tools.Builtin.MLTools, cfg.Tools.Builtin.GraphTools)
	fmt.Printf("subagents: %d configured\n", len(cfg.SubAgents))
	if path := r.app.agents.ConfigPath(); path != "" {
		fmt.Printf("loaded from: %s\n", path)
	} else {
		fmt.Println("loaded from: defaults (no agents.yaml found)")
	}
}

func (r *replSession) printSteps() {
	if len(r.steps) == 0 {
		fmt.Println("no steps recorded for the last turn")
		return
	}
	for i, s := range r.steps {
		fmt.Printf("  %d: %s\n", i+1, s.toolName)
	}
}

func (r *replSession) showStep(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(r.steps) {
		fmt.Println("no such step")
		return
	}
	s := r.steps[n-1]
	fmt.Printf("step %d: %s(%v)\n  -> %s\n", n, s.toolName, s.args, s.result)
}

func (r *replSession) runTurn(text string) {
	r.steps = nil
	turnID := uuid.New().String()

	cb := runtime.Callbacks{
		OnThinking: func(content string) {
			if v, _ := r.app.modes.Get("verbose"); v == "on" {
				fmt.Println("… " + content)
			}
		},
		OnToolCall: func(step int, toolName string, args map[string]any) {
			for len(r.steps) < step {
				r.steps = append(r.steps, stepRecord{})
			}
			r.steps[step-1] = stepRecord{toolName: toolName, args: args}
			fmt.Printf("[%d] calling %s%v\n", step, toolName, args)
		},
		OnToolResult: func(step int, toolName string, result string) {
			for len(r.steps) < step {
				r.steps = append(r.steps, stepRecord{})
			}
			r.steps[step-1].result = result
			fmt.Printf("[%d] %s -> %s\n", step, toolName, result)
		},
	}

	in := runtime.TurnInput{TurnID: turnID, History: r.history, UserText: text}
	finalText, err := r.app.runtime.ChatStream(context.Background(), in, cb, nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(finalText)
	r.history = append(r.history,
		history.Message{Role: history.RoleUser, Content: text},
		history.Message{Role: history.RoleAssistant, Content: finalText},
	)
}

// Package sandbox executes the python_exec tool's code in an isolated
// environment, falling back to a local subprocess when the remote sandbox
// service is unreachable or disabled. Once a session's remote sandbox is
// marked unavailable it stays local for the rest of that session; there is
// no retry.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/telemetry"
)

// Result is the outcome of one code execution.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// SessionHandle is the subset of *session.Session the sandbox needs,
// narrowed to an interface so this package never imports internal/session
// directly, keeping the dependency edge one-directional.
type SessionHandle interface {
	SandboxName() string
	IsSandboxAvailable() bool
	MarkSandboxUnavailable(reason string)
	ExportPath() string
	Variables() map[string]any
	MergeVariables(vars map[string]any)
}

// Config tunes a remote sandbox's resource limits and endpoint.
type Config struct {
	Enabled    bool
	ServerURL  string
	APIKey     string
	MemoryMB   int
	CPUs       int
	Timeout    time.Duration
	PythonPath string // local fallback interpreter, defaults to "python3"
}

// DefaultConfig returns the default remote-sandbox resource limits.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		MemoryMB:   512,
		CPUs:       2,
		Timeout:    30 * time.Second,
		PythonPath: "python3",
	}
}

// Sandbox executes Python code for one session, remote-first with a local
// subprocess fallback.
type Sandbox struct {
	cfg     Config
	session SessionHandle
	client  *http.Client
	log     telemetry.Logger
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger installs a structured logger.
func WithLogger(log telemetry.Logger) Option {
	return func(s *Sandbox) { s.log = log }
}

// WithHTTPClient overrides the HTTP client used to reach the remote
// sandbox service; intended for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sandbox) { s.client = client }
}

// New constructs a Sandbox scoped to session, using cfg for remote
// connectivity and local-fallback resource limits.
func New(cfg Config, session SessionHandle, opts ...Option) *Sandbox {
	s := &Sandbox{
		cfg:     cfg,
		session: session,
		client:  &http.Client{Timeout: cfg.Timeout + 5*time.Second},
		log:     telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs code, preferring the remote sandbox service and falling back
// to a local subprocess when the service is disabled, previously marked
// unavailable for this session, or fails outright. A failed execution is
// reported through Result.Error rather than the returned error, which is
// reserved for failures in the execution plumbing itself.
func (s *Sandbox) Execute(ctx context.Context, code string) (Result, error) {
	start := time.Now()

	if !s.cfg.Enabled || !s.session.IsSandboxAvailable() {
		return s.executeLocal(ctx, code, start)
	}

	result, err := s.executeRemote(ctx, code, start)
	if err == nil {
		return result, nil
	}

	s.log.Warn(ctx, "sandbox: remote execution failed, falling back to local", "sandbox", s.session.SandboxName(), "error", err.Error())
	s.session.MarkSandboxUnavailable(err.Error())
	return s.executeLocal(ctx, code, start)
}

type remoteRequest struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Memory int    `json:"memory_mb,omitempty"`
	CPUs   int    `json:"cpus,omitempty"`
}

type remoteResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// executeRemote posts code to the configured sandbox service's /execute
// endpoint, scoped by session name for isolation.
func (s *Sandbox) executeRemote(ctx context.Context, code string, start time.Time) (Result, error) {
	if s.cfg.ServerURL == "" {
		return Result{}, errkind.New(errkind.SandboxUnavailable, "no sandbox server configured")
	}

	reqBody := remoteRequest{
		Name:   s.session.SandboxName(),
		Code:   code,
		Memory: s.cfg.MemoryMB,
		CPUs:   s.cfg.CPUs,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, s.cfg.ServerURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("sandbox service returned status %d", resp.StatusCode)
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, err
	}

	return Result{
		Success:  decoded.Error == "",
		Output:   decoded.Output,
		Error:    decoded.Error,
		Duration: time.Since(start),
	}, nil
}

// executeLocal runs code as a python3 subprocess; isolation comes from the
// process boundary. Session variables are passed in as a small
// JSON-decoding preamble and the session's export directory as an
// EXPORT_DIR environment variable.
func (s *Sandbox) executeLocal(ctx context.Context, code string, start time.Time) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	fullCode, err := prependSessionVariables(s.session.Variables(), code)
	if err != nil {
		return Result{}, err
	}

	python := s.cfg.PythonPath
	if python == "" {
		python = "python3"
	}
	cmd := exec.CommandContext(runCtx, python, "-c", fullCode)
	cmd.Env = append(cmd.Environ(), "EXPORT_DIR="+s.session.ExportPath())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Success: false, Output: stdout.String(), Error: fmt.Sprintf("execution timed out (%s)", s.cfg.Timeout), Duration: duration}, nil
	}
	if runErr != nil {
		return Result{Success: false, Output: stdout.String(), Error: stderr.String(), Duration: duration}, nil
	}
	return Result{Success: true, Output: stdout.String(), Duration: duration}, nil
}

// prependSessionVariables renders a Python preamble that rebinds each saved
// session variable before the user's code runs. Only JSON-marshalable
// variables are carried; anything else is skipped rather than failing the
// whole execution.
func prependSessionVariables(vars map[string]any, code string) (string, error) {
	if len(vars) == 0 {
		return code, nil
	}
	var preamble bytes.Buffer
	preamble.WriteString("import json as __data_agent_json\n")
	for name, value := range vars {
		encoded, err := json.Marshal(value)
		if err != nil {
			continue
		}
		fmt.Fprintf(&preamble, "%s = __data_agent_json.loads(%q)\n", name, string(encoded))
	}
	preamble.WriteString(code)
	return preamble.String(), nil
}

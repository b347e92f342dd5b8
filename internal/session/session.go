// Package session implements the Session Registry: creation, lookup, and
// reaping of analysis sessions, each owning a private set of filesystem
// roots, an optional sandbox handle, an optional database config, and an
// in-memory variable store.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"
)

// RetentionWindow is the default age after which a session's on-disk
// directories are eligible for reaping.
const RetentionWindow = 7 * 24 * time.Hour

// dateLayout matches the "YYYYMMDD_HHMMSS" portion of a session id.
const dateLayout = "20060102_150405"

// DBConfig describes an optional database connection the session's SQL
// tools should use. The driver itself is an external collaborator; this
// struct only carries the descriptor.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Session is the unit of isolation: a set of private directories, an
// optional sandbox handle name, an optional DB config, and a map of user
// variables carried across executions.
//
// Invariants: directories exist for the entire lifetime of the in-memory
// entry; SandboxAvailable is monotonic, true -> false only.
type Session struct {
	// ID is the opaque session identifier with an embedded creation
	// timestamp: session_<YYYYMMDD>_<HHMMSS>_<6 hex>.
	ID string
	// CreatedAt is parsed from ID at construction time.
	CreatedAt time.Time

	ImportDir    string
	ExportDir    string
	WorkspaceDir string
	DagsterDir   string

	mu                sync.Mutex
	sandboxName       string
	sandboxAvailable  bool
	dbConfig          *DBConfig
	variables         map[string]any
	executionMu       sync.Mutex // serializes executions within the session
}

// newSession constructs a Session struct for id rooted at baseDir, without
// touching the filesystem or registering it. Use Registry.Create for the
// full lifecycle.
func newSession(id string, createdAt time.Time, baseDir string) *Session {
	root := filepath.Join(baseDir, id)
	return &Session{
		ID:               id,
		CreatedAt:        createdAt,
		ImportDir:        filepath.Join(root, "imports"),
		ExportDir:        filepath.Join(root, "exports"),
		WorkspaceDir:     filepath.Join(root, "workspace"),
		DagsterDir:       filepath.Join(root, "dagster", "jobs"),
		sandboxName:      "sandbox-" + id,
		sandboxAvailable: true,
		variables:        make(map[string]any),
	}
}

func (s *Session) mkdirs() error {
	for _, dir := range []string{s.ImportDir, s.ExportDir, s.WorkspaceDir, s.DagsterDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ExportPath returns the session's export directory, the mount point
// internal/sandbox injects as EXPORT_DIR for the local execution path; the
// remote execution request does not carry it.
func (s *Session) ExportPath() string { return s.ExportDir }

// SandboxName returns the sandbox handle name derived from the session id.
// It is a pure function of SessionID, unique per id.
func (s *Session) SandboxName() string { return s.sandboxName }

// IsSandboxAvailable reports whether the sandbox path is still usable for
// this session.
func (s *Session) IsSandboxAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sandboxAvailable
}

// MarkSandboxUnavailable is one-way: once called, IsSandboxAvailable stays
// false for the session's remaining lifetime. reason is accepted for
// logging by callers; it is not stored.
func (s *Session) MarkSandboxUnavailable(_ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sandboxAvailable = false
}

// SetDBConfig installs the session's database descriptor.
func (s *Session) SetDBConfig(cfg DBConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cfg
	s.dbConfig = &c
}

// ClearDBConfig removes the session's database descriptor.
func (s *Session) ClearDBConfig() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbConfig = nil
}

// DBConfig returns the session's database descriptor, if any.
func (s *Session) DBConfig() (DBConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dbConfig == nil {
		return DBConfig{}, false
	}
	return *s.dbConfig, true
}

// SetVariable stores a user variable under name, carried across executions.
func (s *Session) SetVariable(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[name] = value
}

// Variable returns the stored value for name, if any.
func (s *Session) Variable(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[name]
	return v, ok
}

// Variables returns a shallow copy of the full variable store. Used by the
// fallback execution path to seed the interpreter environment.
func (s *Session) Variables() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.variables))
	for k, v := range s.variables {
		out[k] = v
	}
	return out
}

// MergeVariables merges vars into the variable store, filtering out
// callables and private (leading-underscore) names from the fallback
// execution path's post-execution environment.
func (s *Session) MergeVariables(vars map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range vars {
		if k == "" || k[0] == '_' {
			continue
		}
		if isExcludedKind(v) {
			continue
		}
		s.variables[k] = v
	}
}

func isExcludedKind(v any) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}

// Lock acquires the session's execution-context mutex. Callers must call
// Unlock. This serializes executions within a single session.
func (s *Session) Lock() { s.executionMu.Lock() }

// Unlock releases the session's execution-context mutex.
func (s *Session) Unlock() { s.executionMu.Unlock() }

var (
	// ErrSessionNotFound indicates the registry has no entry for the id.
	ErrSessionNotFound = errors.New("session: not found")
)

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

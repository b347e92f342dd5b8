package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/telemetry"
)

// Registry creates, looks up, and reaps analysis sessions. It is a
// process-wide service, constructed once at startup and passed into the
// runtime, guarded by a mutex for the session map.
type Registry struct {
	mu       sync.Mutex
	baseDir  string
	sessions map[string]*Session
	current  string
	log      telemetry.Logger
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger installs a structured logger used for non-fatal reaping
// failures.
func WithLogger(log telemetry.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithClock overrides the registry's time source; intended for tests that
// exercise retention-window reaping deterministically.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry constructs a Registry rooted at baseDir. baseDir is created
// if missing.
func NewRegistry(baseDir string, opts ...Option) (*Registry, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errkind.Wrap(errkind.SessionInitFailed, "create session base directory", err)
	}
	r := &Registry{
		baseDir:  baseDir,
		sessions: make(map[string]*Session),
		log:      telemetry.NewNoopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Create creates a new session. If id is empty, a fresh id is generated as
// session_<YYYYMMDD>_<HHMMSS>_<6 hex>. Create also reaps sibling session
// directories older than RetentionWindow, sets the new session as current,
// and registers it in the process map.
//
// Directory-creation failure is fatal to Create (errkind.SessionInitFailed);
// reaping failures are logged and never raised.
func (r *Registry) Create(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if id == "" {
		generated, err := generateID(now)
		if err != nil {
			return nil, errkind.Wrap(errkind.SessionInitFailed, "generate session id", err)
		}
		id = generated
	}

	if existing, ok := r.sessions[id]; ok {
		r.current = id
		return existing, nil
	}

	createdAt, err := parseSessionDate(id)
	if err != nil {
		createdAt = now
	}

	sess := newSession(id, createdAt, r.baseDir)
	if err := sess.mkdirs(); err != nil {
		return nil, errkind.Wrap(errkind.SessionInitFailed, "create session directories", err)
	}

	r.sessions[id] = sess
	r.current = id
	r.reapLocked(id, now)
	return sess, nil
}

// Get looks up a session by id without mutating current. Returns
// ErrSessionNotFound if absent.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns every session currently known to the registry, ordered by
// id. Sessions reaped on a prior Create call no longer appear; List does
// not itself trigger reaping.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Current returns the process-wide current session, if any. Call sites
// that need isolation from concurrent SetCurrent calls must pass the
// session explicitly rather than relying on this pointer.
func (r *Registry) Current() (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == "" {
		return nil, false
	}
	sess, ok := r.sessions[r.current]
	return sess, ok
}

// SetCurrent mutates the process-wide current-session pointer to s.
func (r *Registry) SetCurrent(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = s.ID
}

// Cleanup removes s from the in-memory registry. On-disk directories are
// left untouched: reaping is driven only by the retention window, not by
// explicit cleanup.
func (r *Registry) Cleanup(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
	if r.current == s.ID {
		r.current = ""
	}
}

// reapLocked scans the base directory and removes sibling session
// directories whose parsed date is older than RetentionWindow and which
// are not keepID. Must be called with r.mu held. Failures to parse or
// remove are logged, never raised.
func (r *Registry) reapLocked(keepID string, now time.Time) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		r.log.Warn(context.Background(), "session reap: read base directory failed", "error", err.Error())
		return
	}
	cutoff := now.Add(-RetentionWindow)
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == keepID {
			continue
		}
		createdAt, err := parseSessionDate(entry.Name())
		if err != nil {
			r.log.Warn(context.Background(), "session reap: parse session date failed", "name", entry.Name(), "error", err.Error())
			continue
		}
		if createdAt.After(cutoff) {
			continue
		}
		path := filepath.Join(r.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			r.log.Warn(context.Background(), "session reap: remove directory failed", "name", entry.Name(), "error", err.Error())
			continue
		}
		delete(r.sessions, entry.Name())
	}
}

func generateID(now time.Time) (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("session_%s_%s", now.UTC().Format(dateLayout), suffix), nil
}

// parseSessionDate extracts the embedded creation timestamp from a session
// id of the form session_<YYYYMMDD>_<HHMMSS>_<hex>.
func parseSessionDate(id string) (time.Time, error) {
	parts := strings.SplitN(id, "_", 4)
	if len(parts) < 3 || parts[0] != "session" {
		return time.Time{}, fmt.Errorf("session: malformed id %q", id)
	}
	return time.ParseInLocation(dateLayout, parts[1]+"_"+parts[2], time.UTC)
}

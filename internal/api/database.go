package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/session"
)

// ColumnInfo describes one column in a table's schema.
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// TableSchema is one table's full column list.
type TableSchema struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// DBProber is the external collaborator behind `/api/database`'s table
// inspection and connection-test endpoints. No concrete SQL driver is
// imported here — a session only carries a database descriptor; a
// deployment wires a concrete DBProber (e.g. backed by database/sql plus
// whichever driver its agents.yaml tool configuration names) at startup,
// the same boundary internal/llm.Client draws for the model provider.
type DBProber interface {
	ListTables(ctx context.Context, cfg session.DBConfig) ([]string, error)
	DescribeTable(ctx context.Context, cfg session.DBConfig, name string) (TableSchema, error)
	TestConnection(ctx context.Context, cfg session.DBConfig) error
}

func (s *Server) sessionFromQuery(r *http.Request) (*session.Session, error) {
	id := r.URL.Query().Get("session_id")
	if id != "" {
		return s.sessions.Get(id)
	}
	if cur, ok := s.sessions.Current(); ok {
		return cur, nil
	}
	return nil, errkind.New(errkind.SessionInitFailed, "no session_id given and no current session")
}

func (s *Server) requireDBConfig(w http.ResponseWriter, sess *session.Session) (session.DBConfig, bool) {
	cfg, ok := sess.DBConfig()
	if !ok {
		writeError(w, errkind.New(errkind.ConfigError, "session has no database configured"))
		return session.DBConfig{}, false
	}
	return cfg, true
}

func (s *Server) handleDBListTables(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, ok := s.requireDBConfig(w, sess)
	if !ok {
		return
	}
	if s.db == nil {
		writeError(w, errkind.New(errkind.ConfigError, "no database prober configured"))
		return
	}
	tables, err := s.db.ListTables(r.Context(), cfg)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.ToolFailure, "list tables", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleDBDescribeTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, ok := s.requireDBConfig(w, sess)
	if !ok {
		return
	}
	if s.db == nil {
		writeError(w, errkind.New(errkind.ConfigError, "no database prober configured"))
		return
	}
	schema, err := s.db.DescribeTable(r.Context(), cfg, name)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.ToolFailure, "describe table "+name, err))
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

type dbConfigRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

func (s *Server) handleDBSetConfig(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body dbConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if body.Host == "" || body.Database == "" {
		badRequest(w, "host and database are required")
		return
	}
	sess.SetDBConfig(session.DBConfig{
		Host:     body.Host,
		Port:     body.Port,
		User:     body.User,
		Password: body.Password,
		Database: body.Database,
	})
	writeJSON(w, http.StatusOK, map[string]any{"configured": true})
}

func (s *Server) handleDBGetConfig(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, ok := sess.DBConfig()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"host":       cfg.Host,
		"port":       cfg.Port,
		"user":       cfg.User,
		"database":   cfg.Database,
		// Password is intentionally omitted from every response.
	})
}

func (s *Server) handleDBClearConfig(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sess.ClearDBConfig()
	writeJSON(w, http.StatusOK, map[string]any{"configured": false})
}

func (s *Server) handleDBTest(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, ok := s.requireDBConfig(w, sess)
	if !ok {
		return
	}
	if s.db == nil {
		writeError(w, errkind.New(errkind.ConfigError, "no database prober configured"))
		return
	}
	if err := s.db.TestConnection(r.Context(), cfg); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

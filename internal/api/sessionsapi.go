package api

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/frankawp/data-agent/internal/errkind"
)

type sessionSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary{ID: sess.ID, CreatedAt: sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleSessionsNew(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create("")
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessions.SetCurrent(sess)
	writeJSON(w, http.StatusOK, sessionSummary{ID: sess.ID, CreatedAt: sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")})
}

func (s *Server) handleExportsList(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": listDir(sess.ExportDir)})
}

func (s *Server) handleExportPreview(w http.ResponseWriter, r *http.Request) {
	name, ok := safeFilename(chi.URLParam(r, "filename"))
	if !ok {
		badRequest(w, "invalid filename")
		return
	}
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	maxRows, _ := strconv.Atoi(r.URL.Query().Get("max_rows"))
	rows, err := previewRows(filepath.Join(sess.ExportDir, name), maxRows)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.ToolFailure, "preview "+name, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filename": name, "rows": rows})
}

func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	name, ok := safeFilename(chi.URLParam(r, "filename"))
	if !ok {
		badRequest(w, "invalid filename")
		return
	}
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, filepath.Join(sess.ExportDir, name))
}

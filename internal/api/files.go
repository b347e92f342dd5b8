package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/frankawp/data-agent/internal/errkind"
)

// FileConfig tunes the upload allowlist and size cap.
type FileConfig struct {
	AllowedExtensions []string
	MaxBytes          int64
}

// DefaultFileConfig allows ".xlsx", ".xls", and ".csv" uploads up to 50 MiB.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		AllowedExtensions: []string{".xlsx", ".xls", ".csv"},
		MaxBytes:          50 << 20,
	}
}

func (fc FileConfig) allowedExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range fc.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// safeFilename rejects path traversal and empty names; filenames are used
// directly as path components under a session's import/export directory.
func safeFilename(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", false
	}
	return name, true
}

func (s *Server) handleFilesUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.FormValue("session_id")
	}
	sess, err := s.resolveSession(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.files.MaxBytes+1<<20) // headroom for multipart overhead
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "could not parse multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "missing file field: "+err.Error())
		return
	}
	defer file.Close()

	name, ok := safeFilename(header.Filename)
	if !ok {
		badRequest(w, "invalid filename")
		return
	}
	if !s.files.allowedExt(name) {
		badRequest(w, "file extension not allowed: "+filepath.Ext(name))
		return
	}
	if header.Size > s.files.MaxBytes {
		badRequest(w, "file exceeds maximum upload size")
		return
	}

	destPath := filepath.Join(sess.ImportDir, name)
	dest, err := os.Create(destPath)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.SessionInitFailed, "create import file", err))
		return
	}
	defer dest.Close()

	written, err := io.CopyN(dest, file, s.files.MaxBytes+1)
	if err != nil && err != io.EOF {
		writeError(w, errkind.Wrap(errkind.ToolFailure, "write uploaded file", err))
		return
	}
	if written > s.files.MaxBytes {
		os.Remove(destPath)
		badRequest(w, "file exceeds maximum upload size")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"filename": name, "size": written, "session_id": sess.ID})
}

func (s *Server) handleImportsList(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": listDir(sess.ImportDir)})
}

func (s *Server) handleImportPreview(w http.ResponseWriter, r *http.Request) {
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
	rows, err := previewRows(filepath.Join(sess.ImportDir, name), maxRows)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.ToolFailure, "preview "+name, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filename": name, "rows": rows})
}

func (s *Server) handleImportDelete(w http.ResponseWriter, r *http.Request) {
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
	if err := os.Remove(filepath.Join(sess.ImportDir, name)); err != nil && !os.IsNotExist(err) {
		writeError(w, errkind.Wrap(errkind.ToolFailure, "delete "+name, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

func (s *Server) handleImportDownload(w http.ResponseWriter, r *http.Request) {
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
	http.ServeFile(w, r, filepath.Join(sess.ImportDir, name))
}

// listDir returns the base names of every regular file directly under dir,
// empty (not an error) if dir does not exist yet.
func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

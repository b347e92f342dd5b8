package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/frankawp/data-agent/internal/config"
)

// modeEntry is one row of GET /api/modes/'s listing: a mode's current value
// alongside its definition.
type modeEntry struct {
	Key           string   `json:"key"`
	Value         string   `json:"value"`
	DisplayName   string   `json:"display_name"`
	Description   string   `json:"description"`
	AllowedValues []string `json:"allowed_values"`
}

func (s *Server) handleModesGetAll(w http.ResponseWriter, r *http.Request) {
	values := s.modes.GetAll()
	entries := make([]modeEntry, 0, len(config.ModeKeys()))
	for _, key := range config.ModeKeys() {
		def := config.ModeDefinitions[key]
		entries = append(entries, modeEntry{
			Key:           key,
			Value:         values[key],
			DisplayName:   def.DisplayName(),
			Description:   def.Description(),
			AllowedValues: def.AllowedValues(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"modes": entries})
}

func (s *Server) handleModesGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.modes.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) handleModesSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.modes.Set(key, body.Value, true); err != nil {
		writeError(w, err)
		return
	}
	value, _ := s.modes.Get(key)
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) handleModesToggle(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.modes.Toggle(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) handleModesReset(w http.ResponseWriter, r *http.Request) {
	if err := s.modes.ResetToDefaults(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modes": s.modes.GetAll()})
}

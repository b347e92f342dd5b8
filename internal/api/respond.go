package api

import (
	"encoding/json"
	"net/http"

	"github.com/frankawp/data-agent/internal/errkind"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape for every error response; Kind surfaces the
// classified error kind verbatim so a client can branch on it.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError translates err into an HTTP status and JSON body. A classified
// *errkind.Error maps its Kind to a status; anything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind, ok := errkind.Of(err)
	if ok {
		status = statusForKind(kind)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(kind)})
}

func statusForKind(kind errkind.Kind) int {
	switch kind {
	case errkind.ConfigError, errkind.DuplicateNodeID, errkind.DanglingReference, errkind.CyclicDependency:
		return http.StatusBadRequest
	case errkind.ToolNotFound, errkind.SessionInitFailed:
		return http.StatusNotFound
	case errkind.UserRejected:
		return http.StatusForbidden
	case errkind.ExecutionTimeout:
		return http.StatusGatewayTimeout
	case errkind.Interrupted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// badRequest writes a plain 400 with message, for request-shape failures
// that never reach a business-logic error kind (missing required fields,
// unparsable bodies).
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message})
}

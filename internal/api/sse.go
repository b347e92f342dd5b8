package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseHeartbeatInterval is emitted as a `: heartbeat` comment line during
// idle periods, keeping intermediaries from timing out the connection.
const sseHeartbeatInterval = 100 * time.Millisecond

// sseWriter wraps http.ResponseWriter with the SSE wire format.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("api: streaming not supported by this response writer")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeEvent writes one `event: <type>\ndata: <json>\n\n` frame and flushes.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, encoded); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

// writeHeartbeat writes a comment-only keep-alive line.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprint(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// newHeartbeatTicker returns a ticker firing at sseHeartbeatInterval.
func newHeartbeatTicker() *time.Ticker {
	return time.NewTicker(sseHeartbeatInterval)
}

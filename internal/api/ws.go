package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/frankawp/data-agent/internal/confirm"
	"github.com/frankawp/data-agent/internal/events"
	"github.com/frankawp/data-agent/internal/runtime"
)

// wsUpgrader allows any origin, matching the SSE/HTTP surface's permissive
// CORS posture.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClientFrame is the union of every client->server frame shape accepted
// on `/ws/chat`.
type wsClientFrame struct {
	Type       string         `json:"type"`
	Content    string         `json:"content,omitempty"`
	Decision   string         `json:"decision,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	EditedArgs map[string]any `json:"edited_args,omitempty"`
}

// handleWebSocketChat implements `/ws/chat?session_id=`: one connection
// serves one session's turns sequentially (a user_message while a turn is
// already running is ignored, mirroring the CLI's single in-flight turn).
// Server frames mirror the SSE vocabulary plus
// confirmation_request/feedback_ack.
func (s *Server) handleWebSocketChat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.resolveSession(r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "api: websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer sub.Close()

	var writeMu sync.Mutex
	sendFrame := func(frame map[string]any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	incoming := make(chan wsClientFrame)
	go func() {
		defer close(incoming)
		for {
			var frame wsClientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			incoming <- frame
		}
	}()

	var (
		activeTurnID    string
		cancelTurn      context.CancelFunc
		pendingFeedback []string
	)
	stopActiveTurn := func() {
		if cancelTurn != nil {
			cancelTurn()
			cancelTurn = nil
		}
		activeTurnID = ""
	}
	defer stopActiveTurn()

	ticker := newHeartbeatTicker()
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			stopActiveTurn()
			return

		case frame, ok := <-incoming:
			if !ok {
				stopActiveTurn()
				return
			}
			switch frame.Type {
			case "user_message":
				if activeTurnID != "" {
					continue
				}
				userText := frame.Content
				for _, fb := range pendingFeedback {
					userText = "[feedback] " + fb + "\n" + userText
				}
				pendingFeedback = nil

				ctx, cancel := context.WithCancel(r.Context())
				cancelTurn = cancel
				turnID := uuid.New().String()
				activeTurnID = turnID

				go func(sessID string, userText string) {
					in := runtime.TurnInput{TurnID: turnID, History: s.chat.historyFor(sessID), UserText: userText}
					finalText, err := s.runtime.ChatStream(ctx, in, runtime.Callbacks{}, ctx.Done())
					if err == nil {
						s.chat.recordTurn(sessID, userText, finalText)
					}
				}(sess.ID, userText)

			case "feedback":
				pendingFeedback = append(pendingFeedback, frame.Content)
				_ = sendFrame(map[string]any{"type": "feedback_ack", "message": frame.Content})

			case "decision":
				s.runtime.Gate().Resolve(frame.ToolCallID, confirm.Decision{
					Outcome:    confirm.Outcome(frame.Decision),
					EditedArgs: frame.EditedArgs,
				})

			case "cancel":
				stopActiveTurn()
			}

		case ev, ok := <-sub.Events:
			if !ok {
				continue
			}
			if activeTurnID == "" || ev.TurnID() != activeTurnID {
				continue
			}
			eventType, payload := eventTypeAndPayload(ev)
			s.mirror.Publish(r.Context(), activeTurnID, eventType, payload)

			out := map[string]any{"type": eventType}
			if fields, ok := payload.(map[string]any); ok {
				for k, v := range fields {
					out[k] = v
				}
			}
			if err := sendFrame(out); err != nil {
				stopActiveTurn()
				return
			}
			if ev.Type() == events.Done {
				activeTurnID = ""
				cancelTurn = nil
			}

		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				stopActiveTurn()
				return
			}
		}
	}
}

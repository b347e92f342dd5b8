package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/frankawp/data-agent/internal/events"
	"github.com/frankawp/data-agent/internal/history"
	"github.com/frankawp/data-agent/internal/runtime"
	"github.com/frankawp/data-agent/internal/session"
)

// chatService keeps the per-session conversation history the HTTP/SSE/
// WebSocket transports thread through runtime.Runtime.ChatStream — the
// Runtime itself is stateless across turns (TurnInput carries History
// explicitly), so something above it must remember each session's
// transcript between requests. `POST /api/chat/reset` forgets a session's
// in-memory history.
type chatService struct {
	mu         sync.Mutex
	histories  map[string][]history.Message
	rt         *runtime.Runtime
	sessionReg *session.Registry
	bus        *events.Bus
	mirror     *RedisMirror
}

func newChatService(rt *runtime.Runtime, sessions *session.Registry, bus *events.Bus, mirror *RedisMirror) *chatService {
	return &chatService{
		histories:  make(map[string][]history.Message),
		rt:         rt,
		sessionReg: sessions,
		bus:        bus,
		mirror:     mirror,
	}
}

func (c *chatService) historyFor(sessionID string) []history.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]history.Message(nil), c.histories[sessionID]...)
}

func (c *chatService) recordTurn(sessionID, userText, assistantText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histories[sessionID] = append(c.histories[sessionID],
		history.Message{Role: history.RoleUser, Content: userText},
		history.Message{Role: history.RoleAssistant, Content: assistantText},
	)
}

func (c *chatService) reset(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.histories, sessionID)
}

func (c *chatService) knownSessionIDs() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.histories))
	for id := range c.histories {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// wireMessage is the JSON shape of one chat message on the HTTP surface.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message   string        `json:"message,omitempty"`
	Messages  []wireMessage `json:"messages,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

// lastUserText returns the text to treat as this turn's user message:
// Message if set, else the last entry of Messages.
func (req chatRequest) lastUserText() (string, bool) {
	if req.Message != "" {
		return req.Message, true
	}
	if len(req.Messages) > 0 {
		return req.Messages[len(req.Messages)-1].Content, true
	}
	return "", false
}

type toolCallRecord struct {
	ToolName string `json:"tool_name"`
	Args     map[string]any `json:"args"`
	Result   any    `json:"result,omitempty"`
}

type chatResponse struct {
	Message   wireMessage      `json:"message"`
	ToolCalls []toolCallRecord `json:"tool_calls,omitempty"`
}

// resolveSession returns the session the turn runs against: the explicit
// session_id if given (created if unknown), else the registry's current
// session, else a freshly created one.
func (s *Server) resolveSession(sessionID string) (*session.Session, error) {
	if sessionID != "" {
		return s.sessions.Create(sessionID)
	}
	if cur, ok := s.sessions.Current(); ok {
		return cur, nil
	}
	return s.sessions.Create("")
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	userText, ok := req.lastUserText()
	if !ok {
		badRequest(w, "message or messages is required")
		return
	}

	sess, err := s.resolveSession(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	var toolCalls []toolCallRecord
	cb := runtime.Callbacks{
		OnToolCall: func(step int, toolName string, args map[string]any) {
			toolCalls = append(toolCalls, toolCallRecord{ToolName: toolName, Args: args})
		},
		OnToolResult: func(step int, toolName string, result string) {
			if len(toolCalls) > 0 {
				toolCalls[len(toolCalls)-1].Result = result
			}
		},
	}

	in := runtime.TurnInput{TurnID: uuid.New().String(), History: s.chat.historyFor(sess.ID), UserText: userText}
	finalText, err := s.runtime.ChatStream(r.Context(), in, cb, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	s.chat.recordTurn(sess.ID, userText, finalText)

	writeJSON(w, http.StatusOK, chatResponse{
		Message:   wireMessage{Role: "assistant", Content: finalText},
		ToolCalls: toolCalls,
	})
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		var body struct {
			SessionID string `json:"session_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sessionID = body.SessionID
	}
	if sessionID == "" {
		badRequest(w, "session_id is required")
		return
	}
	s.chat.reset(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"reset": true, "session_id": sessionID})
}

func (s *Server) handleChatSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.chat.knownSessionIDs()})
}

// handleChatStream implements POST /api/chat/stream: the same request body
// as /api/chat, but the response is an SSE stream of the turn's events.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	userText, ok := req.lastUserText()
	if !ok {
		badRequest(w, "message or messages is required")
		return
	}
	sess, err := s.resolveSession(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	setSSEHeaders(w)
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)

	turnID := uuid.New().String()
	sub := s.bus.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan struct{})
	var finalText string
	var turnErr error
	go func() {
		defer close(done)
		in := runtime.TurnInput{TurnID: turnID, History: s.chat.historyFor(sess.ID), UserText: userText}
		finalText, turnErr = s.runtime.ChatStream(ctx, in, runtime.Callbacks{}, ctx.Done())
	}()

	ticker := newHeartbeatTicker()
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				continue
			}
			if ev.TurnID() != turnID {
				continue
			}
			eventType, payload := eventTypeAndPayload(ev)
			s.mirror.Publish(ctx, turnID, eventType, payload)
			if err := sse.writeEvent(eventType, payload); err != nil {
				return
			}
			if ev.Type() == events.Done {
				<-done
				if turnErr == nil {
					s.chat.recordTurn(sess.ID, userText, finalText)
				}
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

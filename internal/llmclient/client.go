// Package llmclient is the one concrete implementation of llm.Client this
// repository ships: a small OpenAI-chat-completions-compatible HTTP
// client. config.LLMProfile's shape (model, base_url, api_key,
// temperature, max_tokens) assumes this transport; DeepSeek, the system
// default profile's model, and most self-hosted inference servers speak
// the same chat-completions schema.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/frankawp/data-agent/internal/config"
	"github.com/frankawp/data-agent/internal/errkind"
	"github.com/frankawp/data-agent/internal/llm"
)

// Client drives one chat-completions-compatible endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	temp       float64
	maxTokens  int
}

// New constructs a Client from a resolved LLM profile. BaseURL defaults to
// DeepSeek's public endpoint when empty, matching the default profile's
// model name in config.DefaultAgentSystemConfig.
func New(profile config.LLMProfile) *Client {
	baseURL := profile.BaseURL
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/v1"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
		apiKey:     profile.APIKey,
		model:      profile.Model,
		temp:       profile.Temperature,
		maxTokens:  profile.MaxTokens,
	}
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if c.apiKey == "" {
		return llm.Response{}, errkind.New(errkind.ConfigError, "llmclient: no api_key configured for this profile")
	}

	body := chatRequest{
		Model:       c.model,
		Temperature: c.temp,
		MaxTokens:   c.maxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toWireMessage(m))
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return llm.Response{}, err
	}
	if resp.Error != nil {
		return llm.Response{}, errkind.New(errkind.ToolFailure, "llmclient: "+resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, errkind.New(errkind.ToolFailure, "llmclient: empty choices in response")
	}

	return llm.Response{Message: fromWireMessage(resp.Choices[0].Message)}, nil
}

// Summarize implements history.Summarizer with a single-shot, tool-free
// completion.
func (c *Client) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Complete(ctx, llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}}})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return chatResponse{}, errkind.Wrap(errkind.ToolFailure, "llmclient: marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, errkind.Wrap(errkind.ToolFailure, "llmclient: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return chatResponse{}, errkind.Wrap(errkind.ToolFailure, "llmclient: request failed", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return chatResponse{}, errkind.Wrap(errkind.ToolFailure, "llmclient: read response", err)
	}
	if httpResp.StatusCode >= 400 {
		return chatResponse{}, errkind.New(errkind.ToolFailure, fmt.Sprintf("llmclient: status %d: %s", httpResp.StatusCode, string(raw)))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return chatResponse{}, errkind.Wrap(errkind.ToolFailure, "llmclient: decode response", err)
	}
	return out, nil
}

func toWireMessage(m llm.Message) wireMessage {
	out := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		args, _ := json.Marshal(tc.Args)
		wc := wireToolCall{ID: tc.ID, Type: "function"}
		wc.Function.Name = tc.Name
		wc.Function.Arguments = string(args)
		out.ToolCalls = append(out.ToolCalls, wc)
	}
	return out
}

func fromWireMessage(m wireMessage) llm.Message {
	out := llm.Message{Role: llm.Role(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
	for _, wc := range m.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(wc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: wc.ID, Name: wc.Function.Name, Args: args})
	}
	if out.Role == "" {
		out.Role = llm.RoleAssistant
	}
	return out
}

// Package history implements conversation history compaction: when token
// usage crosses a threshold, the oldest messages are replaced by a single
// system summary so the turn proceeds within the model's context window.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/frankawp/data-agent/internal/errkind"
	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Role identifies a message's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn of conversation history.
type Message struct {
	Role    Role
	Content string
}

// perMessageOverhead is the fixed token cost added per message for
// role/formatting metadata, independent of content length.
const perMessageOverhead = 4

// SummaryPrompt is the prompt template used to ask the LLM to summarize the
// messages being dropped.
const SummaryPrompt = `Summarize the following conversation history concisely, preserving:
- the user's main questions and intent
- important actions taken and their results
- important data findings or conclusions

Conversation:
%s

Respond with 2-3 sentences summarizing the core of the conversation above.`

// Summarizer generates a short summary of the messages being compacted
// away. The concrete implementation is an external LLM client.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Compactor counts tokens and compacts history using a cl100k_base
// encoding.
type Compactor struct {
	llm Summarizer
	enc *tiktoken.Tiktoken
}

// New constructs a Compactor. Returns errkind.CompactionFailed if the
// cl100k_base encoding cannot be loaded, since that failure makes every
// subsequent compaction attempt impossible.
func New(llm Summarizer) (*Compactor, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, errkind.Wrap(errkind.CompactionFailed, "load cl100k_base encoding", err)
	}
	return &Compactor{llm: llm, enc: enc}, nil
}

// CountTokens sums each message's encoded content length plus the
// per-message overhead.
func (c *Compactor) CountTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += c.countSingle(m)
	}
	return total
}

func (c *Compactor) countSingle(m Message) int {
	if m.Content == "" {
		return perMessageOverhead
	}
	return len(c.enc.Encode(m.Content, nil, nil)) + perMessageOverhead
}

// ShouldCompact reports whether the ratio of current tokens to maxTokens
// has reached threshold.
func (c *Compactor) ShouldCompact(messages []Message, maxTokens int, threshold float64) bool {
	if maxTokens <= 0 {
		return false
	}
	usage := float64(c.CountTokens(messages)) / float64(maxTokens)
	return usage >= threshold
}

// Compact replaces the oldest messages with a single system summary,
// keeping the most recent messages whose combined token cost stays under
// keepRatio*maxTokens, then trimming forward so the kept slice starts with
// a user message. If nothing needs dropping, messages is returned
// unchanged. CompactionFailed is non-fatal: callers should proceed with
// the un-compacted history and surface a warning.
func (c *Compactor) Compact(ctx context.Context, messages []Message, maxTokens int, keepRatio float64) ([]Message, error) {
	keepTokens := int(float64(maxTokens) * keepRatio)

	var recent []Message
	recentTokens := 0
	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := c.countSingle(messages[i])
		if recentTokens+msgTokens > keepTokens {
			break
		}
		recent = append([]Message{messages[i]}, recent...)
		recentTokens += msgTokens
	}

	recent = ensureStartsWithUser(recent)

	oldCount := len(messages) - len(recent)
	if oldCount <= 0 {
		return messages, nil
	}
	old := messages[:oldCount]

	summary, err := c.generateSummary(ctx, old)
	if err != nil {
		return nil, errkind.Wrap(errkind.CompactionFailed, "generate summary", err)
	}

	out := make([]Message, 0, len(recent)+1)
	out = append(out, Message{Role: RoleSystem, Content: "[conversation summary]\n" + summary})
	out = append(out, recent...)
	return out, nil
}

func ensureStartsWithUser(messages []Message) []Message {
	for i, m := range messages {
		if m.Role == RoleUser {
			return messages[i:]
		}
	}
	return messages
}

func (c *Compactor) generateSummary(ctx context.Context, messages []Message) (string, error) {
	return c.llm.Summarize(ctx, fmt.Sprintf(SummaryPrompt, formatMessages(messages)))
}

func formatMessages(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if m.Content == "" {
			continue
		}
		content := m.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(content)
	}
	return b.String()
}

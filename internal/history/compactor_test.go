package history

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	summary string
}

func (s stubSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	return s.summary, nil
}

func longMessages(n int) []Message {
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		role := RoleAssistant
		if i%2 == 0 {
			role = RoleUser
		}
		out = append(out, Message{Role: role, Content: strings.Repeat("word ", 50)})
	}
	return out
}

func TestShouldCompact_FalseUnderThreshold(t *testing.T) {
	c, err := New(stubSummarizer{summary: "s"})
	require.NoError(t, err)

	messages := []Message{{Role: RoleUser, Content: "hi"}}
	require.False(t, c.ShouldCompact(messages, 100000, 0.8))
}

func TestShouldCompact_TrueOverThreshold(t *testing.T) {
	c, err := New(stubSummarizer{summary: "s"})
	require.NoError(t, err)

	messages := longMessages(50)
	require.True(t, c.ShouldCompact(messages, 100, 0.8))
}

func TestCompact_ReturnsUnchangedWhenNothingToDrop(t *testing.T) {
	c, err := New(stubSummarizer{summary: "s"})
	require.NoError(t, err)

	messages := []Message{{Role: RoleUser, Content: "hi"}}
	out, err := c.Compact(context.Background(), messages, 100000, 0.9)
	require.NoError(t, err)
	require.Equal(t, messages, out)
}

func TestCompact_StartsWithSummaryThenUserMessage(t *testing.T) {
	c, err := New(stubSummarizer{summary: "brief summary"})
	require.NoError(t, err)

	messages := longMessages(50)
	out, err := c.Compact(context.Background(), messages, 500, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, RoleSystem, out[0].Role)
	require.Contains(t, out[0].Content, "brief summary")

	if len(out) > 1 {
		require.Equal(t, RoleUser, out[1].Role)
	}
}

func TestCompact_TokenBudgetRespected(t *testing.T) {
	c, err := New(stubSummarizer{summary: "s"})
	require.NoError(t, err)

	messages := longMessages(200)
	maxTokens := 2000
	keepRatio := 0.1
	out, err := c.Compact(context.Background(), messages, maxTokens, keepRatio)
	require.NoError(t, err)

	summaryOverhead := c.countSingle(out[0])
	require.LessOrEqual(t, c.CountTokens(out), int(float64(maxTokens)*keepRatio)+summaryOverhead+perMessageOverhead*2)
}

func TestCountTokens_EmptyMessageCountsOnlyOverhead(t *testing.T) {
	c, err := New(stubSummarizer{summary: "s"})
	require.NoError(t, err)

	require.Equal(t, perMessageOverhead, c.CountTokens([]Message{{Role: RoleUser, Content: ""}}))
}

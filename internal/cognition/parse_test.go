package cognition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indoria/guppi/internal/llm"
)

func TestReduceMessagePrefersNativeToolCall(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"channel": "chat:general", "thought_signature": "drop-me"})
	msg := llm.Message{
		Content: "thinking about it",
		ToolCalls: []llm.ToolCall{
			{Name: "chat_post", Args: args, ThoughtSignature: "sig-123"},
		},
	}
	out, err := ReduceMessage(msg)
	require.NoError(t, err)
	require.Equal(t, "chat_post", out.Tool)
	require.Equal(t, "sig-123", out.ThoughtSignature)
	require.Equal(t, "chat:general", out.Args["channel"])
	_, hasSig := out.Args["thought_signature"]
	require.False(t, hasSig)
}

func TestReduceMessageFallsBackToInlineJSON(t *testing.T) {
	msg := llm.Message{
		Content: `some preamble { "reasoning": "because", "action": {"tool": "hibernate", "args": {}}, "thought_signature": "abc" } trailing`,
	}
	out, err := ReduceMessage(msg)
	require.NoError(t, err)
	require.Equal(t, "hibernate", out.Tool)
	require.Equal(t, "because", out.Reasoning)
	require.Equal(t, "abc", out.ThoughtSignature)
}

func TestReduceMessageFailsOnUnparseableContent(t *testing.T) {
	msg := llm.Message{Content: "no json here at all"}
	_, err := ReduceMessage(msg)
	require.ErrorIs(t, err, ErrLLMOutput)
}

func TestExtractOutermostObjectIgnoresBracesInStrings(t *testing.T) {
	s := `prefix {"a": "contains } brace", "b": 1} suffix`
	block, ok := extractOutermostObject(s)
	require.True(t, ok)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(block), &parsed))
	require.Equal(t, "contains } brace", parsed["a"])
}

func TestIsFlashForbidden(t *testing.T) {
	require.True(t, IsFlashForbidden("shell"))
	require.True(t, IsFlashForbidden("write_file"))
	require.True(t, IsFlashForbidden("spawn_agent"))
	require.True(t, IsFlashForbidden("remote_exec"))
	require.True(t, IsFlashForbidden("spawn_scribe"))
	require.False(t, IsFlashForbidden("chat_post"))
	require.False(t, IsFlashForbidden("hibernate"))
}

package cognition

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/indoria/guppi/internal/llm"
)

// ErrLLMOutput is raised when a model turn cannot be reduced to a single
// reasoning/action pair, either through native tool calling or inline JSON.
var ErrLLMOutput = errors.New("llm output did not resolve to a single action")

// flashForbiddenTools is the set of tools that always escalate a Flash-tier
// cycle to Pro before executing.
var flashForbiddenTools = map[string]bool{
	"shell":        true,
	"write_file":   true,
	"spawn_agent":  true,
	"remote_exec":  true,
	"spawn_scribe": true,
}

// IsFlashForbidden reports whether tool requires escalation off the Flash
// tier.
func IsFlashForbidden(tool string) bool { return flashForbiddenTools[tool] }

// Outcome is the reduced {reasoning, action, thought_signature?} contract
// extracted from a provider response, action represented as
// {tool, args map[string]any}.
type Outcome struct {
	Reasoning        string
	Tool             string
	Args             map[string]any
	ThoughtSignature string
}

// ReduceMessage turns a provider's response into a single think-cycle
// outcome. Native tool calls take priority; a bare JSON object in the
// message content is the fallback path for providers/models that inline
// {reasoning, action, thought_signature?} as text instead of issuing a
// tool call.
func ReduceMessage(msg llm.Message) (Outcome, error) {
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		args := map[string]any{}
		if len(call.Args) > 0 {
			if err := json.Unmarshal(call.Args, &args); err != nil {
				return Outcome{}, ErrLLMOutput
			}
		}
		delete(args, "thought_signature")
		sig := call.ThoughtSignature
		if sig == "" {
			sig = msg.ThoughtSignature
		}
		return Outcome{
			Reasoning:        msg.Content,
			Tool:             call.Name,
			Args:             args,
			ThoughtSignature: sig,
		}, nil
	}

	block, ok := extractOutermostObject(msg.Content)
	if !ok {
		return Outcome{}, ErrLLMOutput
	}

	var parsed struct {
		Reasoning        string         `json:"reasoning"`
		ThoughtSignature string         `json:"thought_signature"`
		Action           map[string]any `json:"action"`
	}
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return Outcome{}, ErrLLMOutput
	}
	if parsed.Action == nil {
		return Outcome{}, ErrLLMOutput
	}

	tool, _ := parsed.Action["tool"].(string)
	if tool == "" {
		return Outcome{}, ErrLLMOutput
	}
	args, _ := parsed.Action["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	delete(args, "thought_signature")

	sig := parsed.ThoughtSignature
	if sig == "" {
		sig = msg.ThoughtSignature
	}

	return Outcome{
		Reasoning:        parsed.Reasoning,
		Tool:             tool,
		Args:             args,
		ThoughtSignature: sig,
	}, nil
}

// extractOutermostObject returns the text between the first '{' and its
// matching closing '}', scanning brace depth and skipping braces inside
// quoted strings.
func extractOutermostObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

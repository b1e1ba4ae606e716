// Package llm defines the provider-agnostic contract the two model tiers
// (Flash and Pro) implement, and the Cognition package consumes.
package llm

import (
	"context"
	"encoding/json"
)

// ToolCall is a model-issued invocation of one registered tool.
type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
	// ThoughtSignature carries provider-specific context (Gemini) that must be
	// echoed back on the next turn to keep function calling valid. Treated as
	// opaque bytes by the provider; stored base64-encoded so it round-trips
	// through JSON, the journal, and context-window truncation unharmed.
	ThoughtSignature string
}

// Message is one turn of the conversation sent to or received from a model.
type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
	ToolID  string
	// ToolCalls is set only on assistant messages that invoked tools.
	ToolCalls []ToolCall
	// ThoughtSignature mirrors ToolCall.ThoughtSignature for plain text/thought
	// turns that must also be echoed back on replay.
	ThoughtSignature string
}

// ToolSchema is a tool's JSON-schema description offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Provider is implemented by both the Flash and Pro tiers.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error)
}

package journal

import "time"

// Status values an AbeTurn may carry. Transitions only move forward:
// pending -> completed | interrupted.
const (
	StatusPending     = "pending"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// GuppiEvent is an external stimulus observed by the body.
type GuppiEvent struct {
	ID             string         `json:"id"`
	Agent          string         `json:"agent"`
	TimestampEvent time.Time      `json:"timestamp_event"`
	EventType      string         `json:"event_type"`
	Source         string         `json:"source"`
	Content        map[string]any `json:"content,omitempty"`
}

// AbeTurn is an intent and its outcome.
type AbeTurn struct {
	ID               string         `json:"id"`
	Agent            string         `json:"agent"`
	ParentEventID    string         `json:"parent_event_id"`
	TimestampIntent  time.Time      `json:"timestamp_intent"`
	Status           string         `json:"status"`
	Reasoning        string         `json:"reasoning"`
	Action           map[string]any `json:"action"`
	Results          map[string]any `json:"results,omitempty"`
	TimestampOutcome *time.Time     `json:"timestamp_outcome,omitempty"`
	ThoughtSignature string         `json:"thought_signature,omitempty"`
}

// Entry is a tagged union over the two journal record kinds. Exactly one of
// Event/Turn is set, selected by Type.
type Entry struct {
	Type  string      `json:"type"` // "GUPPIEvent" | "AbeTurn"
	Event *GuppiEvent `json:"event,omitempty"`
	Turn  *AbeTurn    `json:"turn,omitempty"`
}

func eventEntry(e GuppiEvent) Entry { return Entry{Type: "GUPPIEvent", Event: &e} }
func turnEntry(t AbeTurn) Entry     { return Entry{Type: "AbeTurn", Turn: &t} }

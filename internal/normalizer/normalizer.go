// Package normalizer classifies raw inbox payloads into a small set of
// recognized kinds and deduplicates repeated deliveries by fingerprint.
package normalizer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the classification assigned to a raw inbox payload.
type Kind string

const (
	KindHumanMessage      Kind = "HumanMessage"
	KindScribeResult      Kind = "ScribeResult"
	KindSystemEvent       Kind = "SystemEvent"
	KindStructuredMessage Kind = "StructuredMessage"
	KindRawMessage        Kind = "RawMessage"
	KindUnknown           Kind = "Unknown"
)

// Observed is the payload as parsed, before classification judgment.
type Observed struct {
	Raw       string
	EventType string
	From      string
	Meta      map[string]any
	Content   any
	ActionID  string
}

// Derived is the classifier's verdict.
type Derived struct {
	Kind     Kind
	Inferred string
}

// Result is the full normalizer contract output.
type Result struct {
	Observed Observed
	Derived  Derived
}

// Classify parses a raw inbox payload (as popped from the bus) and assigns
// it a kind. Payloads that don't parse as JSON become RawMessage.
func Classify(raw string) Result {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Result{
			Observed: Observed{Raw: raw},
			Derived:  Derived{Kind: KindRawMessage, Inferred: "unparseable payload"},
		}
	}

	obs := Observed{
		Raw:      raw,
		Meta:     asMap(parsed["meta"]),
		Content:  parsed["content"],
		ActionID: extractActionID(parsed),
	}
	if s, ok := parsed["event_type"].(string); ok {
		obs.EventType = s
	}
	if s, ok := parsed["from"].(string); ok {
		obs.From = s
	}

	switch obs.EventType {
	case "NewInboxMessage", "NewChatMessage":
		return Result{Observed: obs, Derived: Derived{Kind: KindHumanMessage, Inferred: "event_type=" + obs.EventType}}
	case "TaskCompleted", "ScribeResult":
		return Result{Observed: obs, Derived: Derived{Kind: KindScribeResult, Inferred: "event_type=" + obs.EventType}}
	case "SystemAlert", "AlarmClock":
		return Result{Observed: obs, Derived: Derived{Kind: KindSystemEvent, Inferred: "event_type=" + obs.EventType}}
	}

	if hasRecognizableFields(parsed) {
		return Result{Observed: obs, Derived: Derived{Kind: KindStructuredMessage, Inferred: "recognizable dict fields"}}
	}

	return Result{Observed: obs, Derived: Derived{Kind: KindUnknown, Inferred: "no matching classification rule"}}
}

// extractActionID searches, in order, the locations an action id may appear.
func extractActionID(parsed map[string]any) string {
	if v, ok := parsed["action_id"].(string); ok && v != "" {
		return v
	}
	content := asMap(parsed["content"])
	for _, key := range []string{"action_id", "actionId", "task_id", "id"} {
		if v, ok := content[key].(string); ok && v != "" {
			return v
		}
	}
	if meta := asMap(parsed["meta"]); meta != nil {
		if v, ok := meta["action_id"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func hasRecognizableFields(parsed map[string]any) bool {
	for _, key := range []string{"content", "meta", "from", "task_id", "type"} {
		if _, ok := parsed[key]; ok {
			return true
		}
	}
	return false
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// isMaintenance reports whether a payload is a scribe/maintenance message
// whose fingerprint must always bypass dedupe.
func isMaintenance(o Observed) bool {
	if o.Meta == nil {
		return false
	}
	if b, ok := o.Meta["maintenance"].(bool); ok && b {
		return true
	}
	if _, ok := o.Meta["source_tier_1"]; ok {
		return true
	}
	if mode, ok := o.Meta["mode"].(string); ok && mode == "summarize" {
		return true
	}
	return false
}

// Fingerprint derives the dedupe key for a classified payload. Scribe
// results and maintenance messages mint a fresh unique id every time,
// bypassing dedupe entirely.
func Fingerprint(r Result) string {
	if r.Derived.Kind == KindScribeResult || isMaintenance(r.Observed) {
		return uuid.NewString()
	}
	if r.Observed.ActionID != "" {
		return r.Observed.ActionID
	}
	return fmt.Sprintf("%s:%s", r.Observed.EventType, hashSnippet(r.Observed.Content))
}

// hashSnippet hashes the first 300 characters of a stable JSON rendering of
// content (encoding/json sorts map keys, giving deterministic output for
// dict content).
func hashSnippet(content any) string {
	b, err := json.Marshal(content)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", content))
	}
	s := string(b)
	if len(s) > 300 {
		s = s[:300]
	}
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// Deduper tracks fingerprints seen within a TTL window.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewDeduper returns a Deduper with the given TTL (spec default ~90s).
func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{seen: make(map[string]time.Time), ttl: ttl}
}

// Admit records the fingerprint and reports whether the caller should
// proceed (true) or drop the message as a duplicate (false).
func (d *Deduper) Admit(fp string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked(now)
	if seenAt, ok := d.seen[fp]; ok && now.Sub(seenAt) < d.ttl {
		return false
	}
	d.seen[fp] = now
	return true
}

func (d *Deduper) pruneLocked(now time.Time) {
	for fp, seenAt := range d.seen {
		if now.Sub(seenAt) >= d.ttl {
			delete(d.seen, fp)
		}
	}
}

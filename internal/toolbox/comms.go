package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/indoria/guppi/internal/bus"
)

// email_send -----------------------------------------------------------------

type emailSendTool struct{ d Deps }

func newEmailSendTool(d Deps) *emailSendTool { return &emailSendTool{d: d} }

func (t *emailSendTool) Name() string { return "email_send" }

func (t *emailSendTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Deliver a message directly to another agent's inbox.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":      map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"to", "content"},
		},
	}
}

func (t *emailSendTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		To      string `json:"to"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.To == "" || args.Content == "" {
		return map[string]any{"ok": false, "error": "to and content are required"}, nil
	}
	payload, _ := json.Marshal(map[string]any{
		"event_type": "NewInboxMessage",
		"from":       t.d.Agent,
		"content":    args.Content,
	})
	if err := t.d.Bus.Push(ctx, bus.InboxList(args.To), string(payload)); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true}, nil
}

// chat_post -------------------------------------------------------------

type chatPostTool struct{ d Deps }

func newChatPostTool(d Deps) *chatPostTool { return &chatPostTool{d: d} }

func (t *chatPostTool) Name() string { return "chat_post" }

func (t *chatPostTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Post a message to a chat stream.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel": map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"channel", "content"},
		},
	}
}

func (t *chatPostTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Channel string `json:"channel"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Channel == "" || args.Content == "" {
		return map[string]any{"ok": false, "error": "channel and content are required"}, nil
	}
	id, err := t.d.Bus.StreamAppend(ctx, args.Channel, map[string]any{
		"from":    t.d.Agent,
		"content": args.Content,
	})
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}

	if holder, ok, _ := t.d.Bus.Get(ctx, bus.LockKey(args.Channel)); ok && holder == t.d.Agent {
		_ = t.d.Bus.Del(ctx, bus.LockKey(args.Channel))
	}

	return map[string]any{"ok": true, "id": id}, nil
}

// chat_grab_stick -------------------------------------------------------

type chatGrabStickTool struct{ d Deps }

func newChatGrabStickTool(d Deps) *chatGrabStickTool { return &chatGrabStickTool{d: d} }

func (t *chatGrabStickTool) Name() string { return "chat_grab_stick" }

func (t *chatGrabStickTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Claim the speaking lock on a channel so other agents yield the floor.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel":     map[string]any{"type": "string"},
				"ttl_seconds": map[string]any{"type": "integer"},
			},
			"required": []string{"channel"},
		},
	}
}

func (t *chatGrabStickTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Channel    string `json:"channel"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Channel == "" {
		return map[string]any{"ok": false, "error": "channel is required"}, nil
	}
	ttl := t.d.Refractory.LockTTL
	if args.TTLSeconds > 0 {
		ttl = time.Duration(args.TTLSeconds) * time.Second
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	got, err := t.d.Bus.SetNXPX(ctx, bus.LockKey(args.Channel), t.d.Agent, ttl)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	if !got {
		holder, _, _ := t.d.Bus.Get(ctx, bus.LockKey(args.Channel))
		return map[string]any{"ok": false, "granted": false, "holder": holder}, nil
	}
	_, _ = t.d.Bus.StreamAppend(ctx, args.Channel, map[string]any{
		"from":    t.d.Agent,
		"content": "I am speaking.",
	})
	return map[string]any{"ok": true, "granted": true}, nil
}

// chat_ignore -------------------------------------------------------------

type chatIgnoreTool struct{}

func newChatIgnoreTool() *chatIgnoreTool { return &chatIgnoreTool{} }

func (t *chatIgnoreTool) Name() string { return "chat_ignore" }

func (t *chatIgnoreTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Explicitly decline to respond to the current chat event.",
		"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *chatIgnoreTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"ok": true, "status": "ignored"}, nil
}

// chat_history ------------------------------------------------------------

type chatHistoryTool struct{ d Deps }

func newChatHistoryTool(d Deps) *chatHistoryTool { return &chatHistoryTool{d: d} }

func (t *chatHistoryTool) Name() string { return "chat_history" }

func (t *chatHistoryTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Fetch recent messages from a chat stream, most recent first.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel": map[string]any{"type": "string"},
				"limit":   map[string]any{"type": "integer"},
			},
			"required": []string{"channel"},
		},
	}
}

func (t *chatHistoryTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Channel string `json:"channel"`
		Limit   int    `json:"limit"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Channel == "" {
		return map[string]any{"ok": false, "error": "channel is required"}, nil
	}
	limit := int64(args.Limit)
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	entries, err := t.d.Bus.StreamRevRange(ctx, args.Channel, "+", "-", limit)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "entries": entries}, nil
}

// subscribe_channel / unsubscribe_channel --------------------------------

type subscribeTool struct{ d Deps }

func newSubscribeTool(d Deps) *subscribeTool { return &subscribeTool{d: d} }

func (t *subscribeTool) Name() string { return "subscribe_channel" }

func (t *subscribeTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Add a chat stream to the set this agent polls each cycle.",
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{"channel": map[string]any{"type": "string"}},
			"required":   []string{"channel"},
		},
	}
}

func (t *subscribeTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Channel == "" {
		return map[string]any{"ok": false, "error": "channel is required"}, nil
	}
	channels, err := addSubscription(t.d.Paths.SubscriptionsFile, args.Channel)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "channels": channels}, nil
}

type unsubscribeTool struct{ d Deps }

func newUnsubscribeTool(d Deps) *unsubscribeTool { return &unsubscribeTool{d: d} }

func (t *unsubscribeTool) Name() string { return "unsubscribe_channel" }

func (t *unsubscribeTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Remove a chat stream from the set this agent polls each cycle.",
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{"channel": map[string]any{"type": "string"}},
			"required":   []string{"channel"},
		},
	}
}

func (t *unsubscribeTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Channel == "" {
		return map[string]any{"ok": false, "error": "channel is required"}, nil
	}
	if mandatorySubscriptions[args.Channel] {
		return map[string]any{"ok": false, "error": "channel cannot be unsubscribed: " + args.Channel}, nil
	}
	channels, err := removeSubscription(t.d.Paths.SubscriptionsFile, args.Channel)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "channels": channels}, nil
}

// notify_human / alert_human ----------------------------------------------

type notifyTool struct {
	d    Deps
	kind string
}

func newNotifyTool(d Deps, kind string) *notifyTool { return &notifyTool{d: d, kind: kind} }

func (t *notifyTool) Name() string { return t.kind }

func (t *notifyTool) JSONSchema() map[string]any {
	desc := "Send a low-priority notification to the human operator."
	if t.kind == "alert_human" {
		desc = "Send a high-priority alert to the human operator."
	}
	return map[string]any{
		"name":        t.Name(),
		"description": desc,
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
			"required":   []string{"message"},
		},
	}
}

func (t *notifyTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if t.d.NtfyEndpoint == "" {
		return map[string]any{"ok": true, "skipped": true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.d.NtfyEndpoint, bytes.NewBufferString(args.Message))
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	if t.d.NtfyToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.d.NtfyToken)
	}
	if t.kind == "alert_human" {
		req.Header.Set("Priority", "urgent")
	}

	client := t.d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	defer resp.Body.Close()
	return map[string]any{"ok": resp.StatusCode < 300, "status_code": resp.StatusCode}, nil
}

// hibernate -----------------------------------------------------------------

type hibernateTool struct{}

func newHibernateTool() *hibernateTool { return &hibernateTool{} }

func (t *hibernateTool) Name() string { return "hibernate" }

func (t *hibernateTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "End the current think cycle with no further action.",
		"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *hibernateTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"ok": true}, nil
}

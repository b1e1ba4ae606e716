package toolbox

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/indoria/guppi/internal/embedding"
	"github.com/indoria/guppi/internal/todostore"
)

// manage_clipboard -----------------------------------------------------------

type clipboardTool struct{ d Deps }

func newClipboardTool(d Deps) *clipboardTool { return &clipboardTool{d: d} }

func (t *clipboardTool) Name() string { return "manage_clipboard" }

func (t *clipboardTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Read, append to, remove lines from, or clear the scratch clipboard.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":  map[string]any{"type": "string", "enum": []string{"read", "add", "remove", "clear"}},
				"content": map[string]any{"type": "string"},
				"indices": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			},
			"required": []string{"action"},
		},
	}
}

func (t *clipboardTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Action  string `json:"action"`
		Content string `json:"content"`
		Indices []int  `json:"indices"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	switch args.Action {
	case "read":
		return map[string]any{"ok": true, "lines": t.d.Clipboard.Read()}, nil
	case "add":
		if err := t.d.Clipboard.Add(args.Content); err != nil {
			return map[string]any{"ok": false, "error": err.Error()}, nil
		}
		return map[string]any{"ok": true, "lines": t.d.Clipboard.Read()}, nil
	case "remove":
		if err := t.d.Clipboard.Remove(args.Indices); err != nil {
			return map[string]any{"ok": false, "error": err.Error()}, nil
		}
		return map[string]any{"ok": true, "lines": t.d.Clipboard.Read()}, nil
	case "clear":
		if err := t.d.Clipboard.Clear(); err != nil {
			return map[string]any{"ok": false, "error": err.Error()}, nil
		}
		return map[string]any{"ok": true, "lines": t.d.Clipboard.Read()}, nil
	default:
		return map[string]any{"ok": false, "error": "unknown action: " + args.Action}, nil
	}
}

// rag_search ------------------------------------------------------------

type ragSearchTool struct{ d Deps }

func newRagSearchTool(d Deps) *ragSearchTool { return &ragSearchTool{d: d} }

func (t *ragSearchTool) Name() string { return "rag_search" }

func (t *ragSearchTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Semantic search over archived episodic memory.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"top_k": map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *ragSearchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.d.Vectors == nil {
		return map[string]any{"ok": false, "error": "vector store not configured"}, nil
	}
	var args struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return map[string]any{"ok": false, "error": "query is required"}, nil
	}
	topK := args.TopK
	if topK <= 0 {
		topK = 5
	}

	vecs, err := embedding.EmbedText(ctx, t.d.Embedding, []string{args.Query})
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	if len(vecs) == 0 {
		return map[string]any{"ok": false, "error": "embedding returned no vector"}, nil
	}

	hits, err := t.d.Vectors.Search(ctx, vecs[0], topK)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "hits": hits}, nil
}

// todo_list / todo_add / todo_complete / snooze_task -------------------------

type todoListTool struct{ d Deps }

func newTodoListTool(d Deps) *todoListTool { return &todoListTool{d: d} }

func (t *todoListTool) Name() string { return "todo_list" }

func (t *todoListTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "List tasks: pending due or upcoming ones, or all tasks including completed ones (the default).",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filter": map[string]any{"type": "string", "enum": []string{"due", "upcoming", "all"}},
			},
		},
	}
}

func (t *todoListTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Filter string `json:"filter"`
	}
	_ = json.Unmarshal(raw, &args)

	var f todostore.Filter
	switch args.Filter {
	case "due":
		f = todostore.FilterDue
	case "upcoming":
		f = todostore.FilterUpcoming
	default:
		f = todostore.FilterAll
	}

	tasks, err := t.d.Todos.List(ctx, f)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].DueAt.Before(tasks[j].DueAt) })
	return map[string]any{"ok": true, "tasks": tasks}, nil
}

type todoAddTool struct{ d Deps }

func newTodoAddTool(d Deps) *todoAddTool { return &todoAddTool{d: d} }

func (t *todoAddTool) Name() string { return "todo_add" }

func (t *todoAddTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Add a task to the ToDo store.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id":     map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"priority":    map[string]any{"type": "integer"},
				"due_at":      map[string]any{"type": "string", "description": "RFC3339 timestamp"},
			},
			"required": []string{"task_id", "description"},
		},
	}
}

func (t *todoAddTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		TaskID      string `json:"task_id"`
		Description string `json:"description"`
		Priority    int    `json:"priority"`
		DueAt       string `json:"due_at"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	due := time.Now()
	if args.DueAt != "" {
		if parsed, err := time.Parse(time.RFC3339, args.DueAt); err == nil {
			due = parsed
		}
	}
	if err := t.d.Todos.Add(ctx, args.TaskID, args.Description, args.Priority, due, t.d.Agent); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "task_id": args.TaskID}, nil
}

type todoCompleteTool struct{ d Deps }

func newTodoCompleteTool(d Deps) *todoCompleteTool { return &todoCompleteTool{d: d} }

func (t *todoCompleteTool) Name() string { return "todo_complete" }

func (t *todoCompleteTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Mark a task complete.",
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{"task_id": map[string]any{"type": "string"}},
			"required":   []string{"task_id"},
		},
	}
}

func (t *todoCompleteTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if err := t.d.Todos.Complete(ctx, args.TaskID); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "task_id": args.TaskID}, nil
}

type snoozeTaskTool struct{ d Deps }

func newSnoozeTaskTool(d Deps) *snoozeTaskTool { return &snoozeTaskTool{d: d} }

func (t *snoozeTaskTool) Name() string { return "snooze_task" }

func (t *snoozeTaskTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Push a task's due time forward.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string"},
				"due_at":  map[string]any{"type": "string", "description": "RFC3339 timestamp"},
			},
			"required": []string{"task_id", "due_at"},
		},
	}
}

func (t *snoozeTaskTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		TaskID string `json:"task_id"`
		DueAt  string `json:"due_at"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	newDue, err := time.Parse(time.RFC3339, args.DueAt)
	if err != nil {
		return map[string]any{"ok": false, "error": "due_at must be RFC3339"}, nil
	}
	if err := t.d.Todos.Snooze(ctx, args.TaskID, newDue); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "task_id": args.TaskID, "due_at": newDue}, nil
}

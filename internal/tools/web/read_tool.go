package web

import (
	"context"
	"encoding/json"
)

// readTool adapts Fetcher to the tools.Tool interface as web_read.
type readTool struct {
	fetcher *Fetcher
}

// NewReadTool constructs the web_read tool with hardened fetch defaults.
func NewReadTool() *readTool {
	return &readTool{fetcher: NewFetcher()}
}

func (t *readTool) Name() string { return "web_read" }

func (t *readTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Fetch a URL and return its content as Markdown (readability-extracted where possible).",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "The URL to fetch"},
			},
			"required": []string{"url"},
		},
	}
}

func (t *readTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	res, err := t.fetcher.FetchMarkdown(ctx, args.URL)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{
		"ok":            true,
		"url":           res.FinalURL,
		"title":         res.Title,
		"markdown":      res.Markdown,
		"used_readable": res.UsedReadable,
	}, nil
}

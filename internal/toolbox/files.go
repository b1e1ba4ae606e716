package toolbox

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/indoria/guppi/internal/bus"
	"github.com/indoria/guppi/internal/journal"
	"github.com/indoria/guppi/internal/obslog"
	"github.com/indoria/guppi/internal/sandbox"
)

// write_file ---------------------------------------------------------------

type writeFileTool struct{ d Deps }

func newWriteFileTool(d Deps) *writeFileTool { return &writeFileTool{d: d} }

func (t *writeFileTool) Name() string { return "write_file" }

func (t *writeFileTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Write content to a file under the agent's home directory, creating parent directories as needed.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (t *writeFileTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	log := obslog.For("toolbox")
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return map[string]any{"ok": false, "error": "path is required"}, nil
	}

	full, err := sandbox.JoinWorkdir(t.d.Paths.Home, args.Path)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}

	switch full {
	case filepath.Clean(t.d.Paths.IdentityFile):
		if err := t.d.Identity.Refresh(); err != nil {
			log.Warn().Err(err).Msg("identity refresh after write_file failed")
		}
	case filepath.Clean(t.d.Paths.PriorsFile):
		spawnPriorsCompression(t.d)
	}

	return map[string]any{"ok": true, "path": full, "bytes_written": len(args.Content)}, nil
}

// spawnPriorsCompression launches a detached subprocess that rewrites the
// priors stub from the full priors file. It bypasses the tracked-subprocess
// semaphore: it is not one of the named async tools, and its reply (when the
// caller wants one) is gated by meta.job_type == "update_stub" on the inbox
// message it eventually produces, not by patch_outcome.
func spawnPriorsCompression(d Deps) {
	log := obslog.For("toolbox")
	if len(d.ScribeCommand) == 0 {
		return
	}
	meta, _ := json.Marshal(map[string]any{"job_type": "update_stub"})
	argv := append([]string{}, d.ScribeCommand...)
	argv = append(argv,
		"--model", d.Embedding.Model,
		"--prompt-file", d.Paths.PriorsFile,
		"--output-inbox", bus.InboxList(d.Agent),
		"--meta", string(meta),
	)
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to spawn priors compression subprocess")
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Msg("priors compression subprocess exited nonzero")
		}
	}()
}

// spawn_scribe ---------------------------------------------------------------

type spawnScribeTool struct{ d Deps }

func newSpawnScribeTool(d Deps) *spawnScribeTool { return &spawnScribeTool{d: d} }

func (t *spawnScribeTool) Name() string { return "spawn_scribe" }

func (t *spawnScribeTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Hand text off to the scribe collaborator: vectorize it into the episodic store, or summarize it into a reply delivered to this agent's inbox.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode":    map[string]any{"type": "string", "enum": []string{"vectorize", "summarize"}},
				"content": map[string]any{"type": "string"},
				"prompt":  map[string]any{"type": "string"},
			},
			"required": []string{"mode", "content"},
		},
	}
}

func (t *spawnScribeTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	log := obslog.For("toolbox")
	var args struct {
		Mode    string `json:"mode"`
		Content string `json:"content"`
		Prompt  string `json:"prompt"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Content == "" {
		return map[string]any{"ok": false, "error": "content is required"}, nil
	}

	turnID, ok := TurnIDFromContext(ctx)
	if !ok {
		turnID = journal.NewTurnID()
	}

	if args.Mode == "vectorize" {
		payload, _ := json.Marshal(map[string]any{
			"type":     "embed",
			"content":  args.Content,
			"reply_to": bus.InboxList(t.d.Agent),
			"task_id":  "vec-" + turnID,
		})
		if err := t.d.Bus.Push(ctx, gpuQueueName(t.d), string(payload)); err != nil {
			return map[string]any{"ok": false, "error": err.Error()}, nil
		}
		return map[string]any{"ok": true, "status": "queued", "task_id": "vec-" + turnID}, nil
	}

	if len(t.d.ScribeCommand) == 0 {
		return map[string]any{"ok": false, "error": "scribe command not configured"}, nil
	}
	prompt := args.Prompt
	if prompt == "" {
		prompt = args.Content
	}
	tmp, err := os.CreateTemp("", "scribe-prompt-*.txt")
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	if _, err := tmp.WriteString(prompt); err != nil {
		tmp.Close()
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	tmp.Close()

	meta, _ := json.Marshal(map[string]any{"job_type": "summarize", "turn_id": turnID})
	argv := append([]string{}, t.d.ScribeCommand...)
	argv = append(argv,
		"--model", t.d.Embedding.Model,
		"--prompt-file", tmp.Name(),
		"--output-inbox", bus.InboxList(t.d.Agent),
		"--meta", string(meta),
	)
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		os.Remove(tmp.Name())
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	go func() {
		defer os.Remove(tmp.Name())
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Msg("scribe summarize subprocess exited nonzero")
		}
	}()

	return map[string]any{"ok": true, "status": "dispatched"}, nil
}

func gpuQueueName(d Deps) string {
	if d.ScribeQueue != "" {
		return d.ScribeQueue
	}
	return "queue:gpu_heavy"
}

// SpawnPruneSummary returns a journal.PruneHook that hands the pre-prune
// archive copy to the scribe for tier-2 summarization. The scribe's reply
// carries meta.source_tier_1 set to archivePath, which the scheduler's
// inbox pipeline uses to write the corresponding episode file idempotently.
func SpawnPruneSummary(agent string, scribeCommand []string, embeddingModel string) journal.PruneHook {
	return func(archivePath string, prunedEntries []journal.Entry) error {
		log := obslog.For("toolbox")
		if len(scribeCommand) == 0 || len(prunedEntries) == 0 {
			return nil
		}
		meta, _ := json.Marshal(map[string]any{"job_type": "summarize", "maintenance": true, "source_tier_1": archivePath})
		argv := append([]string{}, scribeCommand...)
		argv = append(argv,
			"--model", embeddingModel,
			"--prompt-file", archivePath,
			"--output-inbox", bus.InboxList(agent),
			"--meta", string(meta),
		)
		cmd := exec.Command(argv[0], argv[1:]...)
		if err := cmd.Start(); err != nil {
			return err
		}
		go func() {
			if err := cmd.Wait(); err != nil {
				log.Debug().Err(err).Msg("prune summary subprocess exited nonzero")
			}
		}()
		return nil
	}
}

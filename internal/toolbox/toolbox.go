// Package toolbox dispatches the body's named tool calls: clipboard, files,
// the ToDo store, chat, notifications, web access, and the two
// asynchronous, semaphore-bounded execution tools (shell, remote_exec).
package toolbox

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/indoria/guppi/internal/bus"
	"github.com/indoria/guppi/internal/clipboard"
	"github.com/indoria/guppi/internal/config"
	"github.com/indoria/guppi/internal/identity"
	"github.com/indoria/guppi/internal/journal"
	"github.com/indoria/guppi/internal/obslog"
	"github.com/indoria/guppi/internal/todostore"
	"github.com/indoria/guppi/internal/tools"
	"github.com/indoria/guppi/internal/tools/web"
	"github.com/indoria/guppi/internal/vectorstore"
)

// Deps bundles every external capability a tool might need. Vectors may be
// nil when no vector store DSN was configured; rag_search then reports
// itself unavailable rather than failing the whole registry.
type Deps struct {
	Agent string

	Bus       bus.Bus
	Journal   *journal.Journal
	Clipboard *clipboard.Clipboard
	Identity  *identity.Store
	Todos     *todostore.Store
	Vectors   *vectorstore.Store

	Embedding  config.EmbeddingConfig
	Exec       config.ExecConfig
	Paths      config.PathsConfig
	Refractory config.RefractoryConfig

	SSHUser    string
	SSHKeyPath string

	NtfyEndpoint string
	NtfyToken    string
	SearXNGURL   string

	ScribeCommand []string // argv template; "--model","--prompt-file","--output-inbox","--meta" are appended
	ScribeQueue   string    // bus list name for embed jobs; defaults to "queue:gpu_heavy"

	HTTPClient *http.Client

	// WakeCh, when non-nil, receives a non-blocking signal every time a
	// tracked subprocess (shell, remote_exec) completes, independent of the
	// TaskCompleted inbox push. The scheduler treats it as an always-hot
	// source so subprocess accounting is reaped without waiting out the
	// inbox's refractory gate.
	WakeCh chan struct{}
}

// Build wires every tool named in the toolbox contract into a Registry.
func Build(d Deps) tools.Registry {
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}

	reg := tools.NewRegistry()
	reg.Register(newHelpTool(reg))

	tracker := newTracker(d)
	reg.Register(newShellTool(d, tracker))
	reg.Register(newRemoteExecTool(d, tracker))
	reg.Register(newSpawnAgentTool(d))

	reg.Register(newClipboardTool(d))
	reg.Register(newWriteFileTool(d))
	reg.Register(newSpawnScribeTool(d))
	reg.Register(newRagSearchTool(d))

	reg.Register(newTodoListTool(d))
	reg.Register(newTodoAddTool(d))
	reg.Register(newTodoCompleteTool(d))
	reg.Register(newSnoozeTaskTool(d))

	reg.Register(newSubscribeTool(d))
	reg.Register(newUnsubscribeTool(d))
	reg.Register(newChatHistoryTool(d))
	reg.Register(newEmailSendTool(d))
	reg.Register(newChatPostTool(d))
	reg.Register(newChatGrabStickTool(d))
	reg.Register(newChatIgnoreTool())
	reg.Register(newNotifyTool(d, "notify_human"))
	reg.Register(newNotifyTool(d, "alert_human"))
	reg.Register(newHibernateTool())

	reg.Register(web.NewTool(d.SearXNGURL))
	reg.Register(web.NewReadTool())

	return reg
}

// completeTurn finishes a turn started by an asynchronous tool: it patches
// the journal entry and, when notify is set, pushes the self-wake message
// the scheduler is listening for on the agent's own inbox.
func completeTurn(ctx context.Context, d Deps, turnID string, results map[string]any, notify bool) {
	log := obslog.For("toolbox")
	if turnID == "" {
		return
	}
	if err := d.Journal.PatchOutcome(turnID, results); err != nil {
		log.Warn().Err(err).Str("turn_id", turnID).Msg("patch_outcome failed for tracked subprocess")
		return
	}
	if d.WakeCh != nil {
		select {
		case d.WakeCh <- struct{}{}:
		default:
		}
	}
	if !notify {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event_type": "TaskCompleted",
		"turn_id":    turnID,
	})
	if err := d.Bus.Push(ctx, bus.InboxList(d.Agent), string(payload)); err != nil {
		log.Warn().Err(err).Str("turn_id", turnID).Msg("failed to push TaskCompleted self-notification")
	}
}

// helpTool ---------------------------------------------------------------

type helpTool struct {
	reg tools.Registry
}

func newHelpTool(reg tools.Registry) *helpTool { return &helpTool{reg: reg} }

func (t *helpTool) Name() string { return "help" }

func (t *helpTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "List every registered tool and its parameters.",
		"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *helpTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"ok": true, "tools": t.reg.Schemas()}, nil
}

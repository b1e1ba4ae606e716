// Package cognition runs the think cycle: assembling context, picking a
// model tier, calling the LLM, repairing malformed output, escalating
// Flash-forbidden tools to Pro, and guarding against a cycle that dies
// before it dispatches anything.
package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/indoria/guppi/internal/bus"
	"github.com/indoria/guppi/internal/clipboard"
	"github.com/indoria/guppi/internal/config"
	"github.com/indoria/guppi/internal/contextasm"
	"github.com/indoria/guppi/internal/identity"
	"github.com/indoria/guppi/internal/journal"
	"github.com/indoria/guppi/internal/llm"
	"github.com/indoria/guppi/internal/obslog"
	"github.com/indoria/guppi/internal/todostore"
	"github.com/indoria/guppi/internal/toolbox"
	"github.com/indoria/guppi/internal/tools"
)

// Tier names the two model tiers a cycle may run on.
type Tier string

const (
	TierFlash Tier = "flash"
	TierPro   Tier = "pro"
)

// Deps bundles everything a think cycle needs to read context, call a
// model, and dispatch its chosen tool.
type Deps struct {
	Agent string

	Flash llm.Provider
	Pro   llm.Provider

	Tools     tools.Registry
	Journal   *journal.Journal
	Bus       bus.Bus
	Assembler *contextasm.Assembler
	Identity  *identity.Store
	Clipboard *clipboard.Clipboard
	Todos     *todostore.Store

	Governor   *Governor
	Paths      config.PathsConfig
	Refractory config.RefractoryConfig
}

// Result reports what a think cycle did, for the scheduler to act on
// (arming cooldowns, logging).
type Result struct {
	RateLimited   bool
	CooldownUntil time.Time
	TurnID        string
	Tool          string
	Escalated     bool
}

// Cognition runs think cycles for a single agent.
type Cognition struct {
	d Deps
}

// New returns a Cognition bound to d.
func New(d Deps) *Cognition {
	if d.Governor == nil {
		d.Governor = NewGovernor(15, 300*time.Second)
	}
	return &Cognition{d: d}
}

// RunThinkCycle implements the full think-cycle contract: urgency
// determination, Governor check, model selection, the LLM call, JSON
// repair, implicit escalation, dispatch, and the deadman switch.
func (c *Cognition) RunThinkCycle(
	ctx context.Context,
	event journal.GuppiEvent,
	parentEventID string,
	forceModel Tier,
	systemNotice string,
	orientation *contextasm.Orientation,
	retryCount int,
) (res Result, err error) {
	log := obslog.For("cognition")

	cycleSuccess := false
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("think cycle panicked")
			err = fmt.Errorf("think cycle panic: %v", r)
		}
		if !cycleSuccess {
			c.pushGhosted(ctx)
		}
	}()

	urgent := isUrgent(event, systemNotice)
	if !urgent {
		if !c.d.Governor.Allow(time.Now()) {
			cooldown := c.d.Refractory.GovernorTripped
			if cooldown <= 0 {
				cooldown = 60 * time.Second
			}
			log.Warn().Str("event_type", event.EventType).Msg("governor rejected non-urgent think cycle")
			// A rate-limit trip is not a ghosted cycle: nothing was dispatched
			// because nothing was attempted.
			cycleSuccess = true
			return Result{RateLimited: true, CooldownUntil: time.Now().Add(cooldown)}, nil
		}
	}

	tier := c.selectTier(event, forceModel)
	provider := c.d.Pro
	if tier == TierFlash {
		provider = c.d.Flash
	}

	prompt := c.assemble(event, orientation, systemNotice)
	msgs := []llm.Message{{Role: "system", Content: prompt}}
	schemas := c.d.Tools.Schemas()

	msg, callErr := provider.Chat(ctx, msgs, schemas, "")
	if callErr != nil {
		log.Error().Err(callErr).Msg("llm chat failed, recording hibernate intent and crash report")
		turnID := journal.NewTurnID()
		reasoning := fmt.Sprintf("llm chat failed: %v", callErr)
		action := map[string]any{"tool": "hibernate", "args": map[string]any{}}
		if err := c.d.Journal.AppendIntent(turnID, parentEventID, reasoning, action, ""); err != nil {
			log.Error().Err(err).Msg("failed to append hibernate intent after llm chat failure")
		} else if err := c.d.Journal.PatchOutcome(turnID, map[string]any{"ok": false, "error": callErr.Error()}); err != nil {
			log.Warn().Err(err).Msg("failed to patch hibernate outcome after llm chat failure")
		}
		c.pushCrashReport(ctx, callErr)
		// The cycle is handled: it surfaced as a hibernate turn and a
		// CrashReport, not a silent death the deadman switch needs to catch.
		cycleSuccess = true
		return Result{TurnID: turnID, Tool: "hibernate"}, nil
	}

	outcome, reduceErr := ReduceMessage(msg)
	if reduceErr != nil {
		if retryCount == 0 {
			log.Warn().Err(reduceErr).Msg("llm output did not parse, retrying once on Pro")
			// The recursive call owns its own dispatch and its own deadman
			// switch; this frame handed off successfully and must not ghost.
			cycleSuccess = true
			return c.RunThinkCycle(ctx, event, parentEventID, TierPro,
				"Your previous response could not be parsed as {reasoning, action}. Return exactly one JSON object or tool call.",
				orientation, 1)
		}
		log.Error().Err(reduceErr).Msg("llm output failed twice, synthesizing hibernate")
		outcome = Outcome{Reasoning: "safety shutdown: repeated JSON-repair failure", Tool: "hibernate"}
	}

	if tier == TierFlash && IsFlashForbidden(outcome.Tool) {
		log.Info().Str("tool", outcome.Tool).Msg("implicit escalation: flash-forbidden tool, recursing on pro")
		// Same reasoning: the escalated recursive call dispatches (or
		// ghosts) on its own; this frame records exactly one escalation
		// event and is not itself a dead cycle.
		cycleSuccess = true
		return c.RunThinkCycle(ctx, event, parentEventID, TierPro,
			fmt.Sprintf("Escalated from Flash because the chosen tool %q requires the Pro tier.", outcome.Tool),
			orientation, retryCount)
	}

	turnID := journal.NewTurnID()
	action := map[string]any{"tool": outcome.Tool, "args": outcome.Args}
	if err := c.d.Journal.AppendIntent(turnID, parentEventID, outcome.Reasoning, action, outcome.ThoughtSignature); err != nil {
		return Result{}, fmt.Errorf("append intent: %w", err)
	}

	argsRaw, _ := json.Marshal(outcome.Args)
	dispatchCtx := toolbox.WithTurnID(ctx, turnID)
	resultBytes, dispatchErr := c.d.Tools.Dispatch(dispatchCtx, outcome.Tool, argsRaw)

	// Dispatch (not completion) satisfies the deadman switch: the intent is
	// journalled and the tool has been handed the call.
	cycleSuccess = true

	if dispatchErr != nil {
		log.Error().Err(dispatchErr).Str("tool", outcome.Tool).Msg("tool dispatch failed")
		_ = c.d.Journal.PatchOutcome(turnID, map[string]any{"ok": false, "error": dispatchErr.Error()})
		return Result{TurnID: turnID, Tool: outcome.Tool}, nil
	}

	if !isAsyncTool(outcome.Tool) {
		var results map[string]any
		if err := json.Unmarshal(resultBytes, &results); err != nil {
			results = map[string]any{"raw": string(resultBytes)}
		}
		notify := notifyFor(outcome.Tool, results)
		if err := c.d.Journal.PatchOutcome(turnID, results); err != nil {
			log.Warn().Err(err).Str("turn_id", turnID).Msg("patch_outcome failed for synchronous tool")
		} else if notify {
			payload, _ := json.Marshal(map[string]any{"event_type": "TaskCompleted", "turn_id": turnID})
			if err := c.d.Bus.Push(ctx, bus.InboxList(c.d.Agent), string(payload)); err != nil {
				log.Warn().Err(err).Msg("failed to push self-notification")
			}
		}
	}

	return Result{TurnID: turnID, Tool: outcome.Tool}, nil
}

func (c *Cognition) pushGhosted(ctx context.Context) {
	log := obslog.For("cognition")
	payload, _ := json.Marshal(map[string]any{"event_type": "SystemAlert", "event": "AgentGhosted"})
	if err := c.d.Bus.Push(ctx, bus.InboxList(c.d.Agent), string(payload)); err != nil {
		log.Error().Err(err).Msg("failed to push AgentGhosted deadman alert")
	}
}

func (c *Cognition) pushCrashReport(ctx context.Context, callErr error) {
	log := obslog.For("cognition")
	payload, _ := json.Marshal(map[string]any{
		"event_type": "SystemAlert",
		"event":      "CrashReport",
		"error":      callErr.Error(),
	})
	if err := c.d.Bus.Push(ctx, bus.InboxList(c.d.Agent), string(payload)); err != nil {
		log.Error().Err(err).Msg("failed to push CrashReport self-notification")
	}
}

func isAsyncTool(tool string) bool {
	return tool == "shell" || tool == "remote_exec"
}

func notifyFor(tool string, results map[string]any) bool {
	switch tool {
	case "hibernate", "chat_ignore":
		return false
	case "todo_add", "snooze_task":
		ok, _ := results["ok"].(bool)
		return !ok
	default:
		return true
	}
}

func isUrgent(event journal.GuppiEvent, systemNotice string) bool {
	if event.Source == bus.StreamChatSynchronous {
		return true
	}
	if systemNotice != "" {
		return true
	}
	if event.EventType == "AlarmClock" {
		return true
	}
	if event.EventType == "TaskCompleted" {
		return true
	}
	return false
}

func (c *Cognition) selectTier(event journal.GuppiEvent, forceModel Tier) Tier {
	if forceModel != "" {
		return forceModel
	}
	if isChatEvent(event) {
		return TierFlash
	}
	return TierPro
}

func isChatEvent(event journal.GuppiEvent) bool {
	return event.Source == bus.StreamChatGeneral || event.Source == bus.StreamChatSynchronous
}

func (c *Cognition) assemble(event journal.GuppiEvent, orientation *contextasm.Orientation, systemNotice string) string {
	in := contextasm.Input{
		Genesis:        readOptionalFile(c.d.Paths.GenesisFile),
		PriorsStub:     readOptionalFile(c.d.Paths.PriorsStubFile),
		FleetProtocols: readOptionalFile(c.d.Paths.FleetProtocolsFile),
		IdentityJSON:   identityJSON(c.d.Identity),
		ChangelogTail:  tailLines(c.d.Paths.CommunicationsLog, 30),
		Episodes:       recentEpisodes(c.d.Paths.EpisodesDir, 5),
		Orientation:    orientation,
		SystemNotice:   systemNotice,
		CurrentEvent:   event,
	}
	if c.d.Clipboard != nil {
		in.ClipboardLines = c.d.Clipboard.Read()
	}

	windowSize := contextasm.WindowSize(orientation != nil)
	window, err := c.d.Assembler.BuildLogWindow(c.d.Journal.Buffer(), windowSize)
	if err != nil {
		obslog.For("cognition").Warn().Err(err).Msg("failed to build log window, continuing without it")
	} else {
		in.LogWindow = window
	}

	if c.d.Todos != nil {
		if due, err := c.d.Todos.Overdue(context.Background(), 10); err == nil {
			in.DueTasks = due
		}
	}

	return c.d.Assembler.Assemble(in)
}

func identityJSON(store *identity.Store) string {
	if store == nil {
		return ""
	}
	b, err := json.Marshal(store.Current())
	if err != nil {
		return ""
	}
	return string(b)
}

func readOptionalFile(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func tailLines(path string, n int) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := splitLines(string(b))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func recentEpisodes(dir string, n int) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	if len(files) > n {
		files = files[:n]
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out
}

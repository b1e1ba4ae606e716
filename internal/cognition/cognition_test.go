package cognition

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/indoria/guppi/internal/bus"
	"github.com/indoria/guppi/internal/contextasm"
	"github.com/indoria/guppi/internal/journal"
	"github.com/indoria/guppi/internal/llm"
	"github.com/indoria/guppi/internal/tools"
)

// fakeProvider replays a queue of responses, one per Chat call, and records
// the models it was asked to use.
type fakeProvider struct {
	responses []llm.Message
	errs      []error
	calls     int
	models    []string
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string) (llm.Message, error) {
	i := f.calls
	f.calls++
	f.models = append(f.models, model)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], err
	}
	return llm.Message{}, err
}

// fakeTool always returns a fixed result for a fixed name.
type fakeTool struct {
	name   string
	result map[string]any
}

func (t *fakeTool) Name() string { return t.name }
func (t *fakeTool) JSONSchema() map[string]any {
	return map[string]any{"name": t.name, "parameters": map[string]any{"type": "object"}}
}
func (t *fakeTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return t.result, nil
}

// fakeBus records every push; only Push is exercised by cognition.
type fakeBus struct {
	bus.Bus
	pushed []string
}

func (f *fakeBus) Push(ctx context.Context, list, payload string) error {
	f.pushed = append(f.pushed, payload)
	return nil
}

func newHarness(t *testing.T, flash, pro *fakeProvider) (*Cognition, *journal.Journal, *fakeBus) {
	t.Helper()
	dir := t.TempDir()
	j, err := journal.Open(journal.Config{
		Path:       filepath.Join(dir, "working.log"),
		ArchiveDir: filepath.Join(dir, "archive"),
		Agent:      "a1",
	})
	require.NoError(t, err)

	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "chat_ignore", result: map[string]any{"ok": true}})
	reg.Register(&fakeTool{name: "hibernate", result: map[string]any{"ok": true}})
	reg.Register(&fakeTool{name: "shell", result: map[string]any{"ok": true, "status": "dispatched"}})

	fb := &fakeBus{}
	asm := contextasm.New(filepath.Join(dir, "overflow"))

	c := New(Deps{
		Agent:     "a1",
		Flash:     flash,
		Pro:       pro,
		Tools:     reg,
		Journal:   j,
		Bus:       fb,
		Assembler: asm,
		Governor:  NewGovernor(15, 300*time.Second),
	})
	return c, j, fb
}

func toolCallMsg(tool string) llm.Message {
	args, _ := json.Marshal(map[string]any{})
	return llm.Message{
		Content:   "reasoning text",
		ToolCalls: []llm.ToolCall{{Name: tool, Args: args}},
	}
}

func TestRunThinkCycleDispatchesSynchronousToolAndSkipsNotifyForChatIgnore(t *testing.T) {
	flash := &fakeProvider{responses: []llm.Message{toolCallMsg("chat_ignore")}}
	pro := &fakeProvider{}
	c, j, fb := newHarness(t, flash, pro)

	event := journal.GuppiEvent{EventType: "NewChatMessage", Source: bus.StreamChatGeneral}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, "chat_ignore", res.Tool)
	require.Empty(t, fb.pushed, "chat_ignore must not notify")
	require.Equal(t, 1, flash.calls)
	require.Equal(t, 0, pro.calls)

	buf := j.Buffer()
	require.Len(t, buf, 1)
	require.Equal(t, journal.StatusCompleted, buf[0].Turn.Status)
}

func TestRunThinkCycleEscalatesFlashForbiddenTool(t *testing.T) {
	flash := &fakeProvider{responses: []llm.Message{toolCallMsg("shell")}}
	pro := &fakeProvider{responses: []llm.Message{toolCallMsg("hibernate")}}
	c, _, fb := newHarness(t, flash, pro)

	event := journal.GuppiEvent{EventType: "NewChatMessage", Source: bus.StreamChatGeneral}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, "hibernate", res.Tool)
	require.Equal(t, 1, flash.calls)
	require.Equal(t, 1, pro.calls)
	require.Empty(t, fb.pushed, "hibernate must not notify")
}

func TestRunThinkCycleRetriesJSONRepairThenSucceeds(t *testing.T) {
	flash := &fakeProvider{responses: []llm.Message{{Content: "not json"}}}
	pro := &fakeProvider{responses: []llm.Message{toolCallMsg("hibernate")}}
	c, _, _ := newHarness(t, flash, pro)

	event := journal.GuppiEvent{EventType: "NewChatMessage", Source: bus.StreamChatGeneral}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, "hibernate", res.Tool)
	require.Equal(t, 1, flash.calls)
	require.Equal(t, 1, pro.calls)
}

func TestRunThinkCycleSynthesizesHibernateOnSecondRepairFailure(t *testing.T) {
	flash := &fakeProvider{responses: []llm.Message{{Content: "still not json"}}}
	pro := &fakeProvider{responses: []llm.Message{{Content: "also not json"}}}
	c, _, _ := newHarness(t, flash, pro)

	event := journal.GuppiEvent{EventType: "NewChatMessage", Source: bus.StreamChatGeneral}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, "hibernate", res.Tool)
}

func TestRunThinkCycleGovernorRateLimitsNonUrgentEvents(t *testing.T) {
	flash := &fakeProvider{responses: []llm.Message{toolCallMsg("chat_ignore")}}
	pro := &fakeProvider{}
	c, _, _ := newHarness(t, flash, pro)
	c.d.Governor = NewGovernor(1, time.Minute)
	c.d.Governor.Allow(time.Now()) // exhaust the single slot

	event := journal.GuppiEvent{EventType: "SomeBackgroundThing", Source: "internal:a1"}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.True(t, res.RateLimited)
	require.Equal(t, 0, flash.calls)
}

func TestRunThinkCycleGovernorRejectionDoesNotGhost(t *testing.T) {
	flash := &fakeProvider{responses: []llm.Message{toolCallMsg("chat_ignore")}}
	pro := &fakeProvider{}
	c, _, fb := newHarness(t, flash, pro)
	c.d.Governor = NewGovernor(1, time.Minute)
	c.d.Governor.Allow(time.Now()) // exhaust the single slot

	event := journal.GuppiEvent{EventType: "SomeBackgroundThing", Source: "internal:a1"}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.True(t, res.RateLimited)
	require.False(t, res.CooldownUntil.IsZero())
	for _, p := range fb.pushed {
		require.NotContains(t, p, "AgentGhosted", "a governor rejection must not push a deadman alert")
	}
}

func TestRunThinkCycleEscalationDoesNotGhost(t *testing.T) {
	flash := &fakeProvider{responses: []llm.Message{toolCallMsg("shell")}}
	pro := &fakeProvider{responses: []llm.Message{toolCallMsg("hibernate")}}
	c, _, fb := newHarness(t, flash, pro)

	event := journal.GuppiEvent{EventType: "NewChatMessage", Source: bus.StreamChatGeneral}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, "hibernate", res.Tool)
	for _, p := range fb.pushed {
		require.NotContains(t, p, "AgentGhosted", "an escalation that hands off successfully must not push a deadman alert")
	}
}

func TestRunThinkCycleLLMChatFailureRecordsHibernateAndCrashReport(t *testing.T) {
	flash := &fakeProvider{errs: []error{errors.New("llm unavailable")}}
	pro := &fakeProvider{}
	c, j, fb := newHarness(t, flash, pro)

	event := journal.GuppiEvent{EventType: "NewChatMessage", Source: bus.StreamChatGeneral}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, "hibernate", res.Tool)

	buf := j.Buffer()
	require.Len(t, buf, 1)
	require.Equal(t, "hibernate", buf[0].Turn.Action["tool"])
	require.Equal(t, journal.StatusCompleted, buf[0].Turn.Status)

	require.Len(t, fb.pushed, 1)
	require.Contains(t, fb.pushed[0], "CrashReport")
	require.NotContains(t, fb.pushed[0], "AgentGhosted")
}

func TestRunThinkCycleSyncChatIsAlwaysUrgent(t *testing.T) {
	flash := &fakeProvider{responses: []llm.Message{toolCallMsg("chat_ignore")}}
	pro := &fakeProvider{}
	c, _, _ := newHarness(t, flash, pro)
	c.d.Governor = NewGovernor(1, time.Minute)
	c.d.Governor.Allow(time.Now()) // exhaust; urgent cycles must bypass this

	event := journal.GuppiEvent{EventType: "NewChatMessage", Source: bus.StreamChatSynchronous}
	res, err := c.RunThinkCycle(context.Background(), event, "parent-1", "", "", nil, 0)
	require.NoError(t, err)
	require.False(t, res.RateLimited)
	require.Equal(t, "chat_ignore", res.Tool)
}

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indoria/guppi/internal/bus"
	"github.com/indoria/guppi/internal/config"
	"github.com/indoria/guppi/internal/normalizer"
)

func TestParseStreamID(t *testing.T) {
	ms, seq, ok := parseStreamID("1700000000000-3")
	require.True(t, ok)
	require.Equal(t, int64(1700000000000), ms)
	require.Equal(t, int64(3), seq)

	_, _, ok = parseStreamID("not-an-id-at-all-x")
	require.False(t, ok)

	_, _, ok = parseStreamID("nodash")
	require.False(t, ok)
}

func TestIDGreater(t *testing.T) {
	require.True(t, idGreater("2-0", "1-5"))
	require.True(t, idGreater("5-2", "5-1"))
	require.False(t, idGreater("5-1", "5-1"))
	require.False(t, idGreater("5-1", "5-2"))
	// unparseable ids fall back to simple inequality rather than wedging.
	require.True(t, idGreater("garbage", "5-1"))
	require.False(t, idGreater("5-1", "5-1"))
}

func TestCursorSetAdvanceOnlyMovesForward(t *testing.T) {
	c := newCursorSet([]string{"chat:general"})
	require.True(t, c.advance("chat:general", "5-0"))
	require.True(t, c.advance("chat:general", "6-0"))
	require.False(t, c.advance("chat:general", "6-0"))
	require.False(t, c.advance("chat:general", "3-0"))
}

func TestCursorSetAddRemove(t *testing.T) {
	c := newCursorSet(nil)
	c.add("chat:ops")
	require.Contains(t, c.streams(), "chat:ops")
	c.remove("chat:ops")
	require.NotContains(t, c.streams(), "chat:ops")
}

func TestShouldWakeOnChat(t *testing.T) {
	s := &Scheduler{d: Deps{Agent: "a1"}, explicitSubscriptions: map[string]bool{"chat:ops": true}}

	require.True(t, s.shouldWakeOnChat(bus.StreamChatSynchronous, bus.Entry{}))
	require.True(t, s.shouldWakeOnChat("chat:ops", bus.Entry{}))
	require.True(t, s.shouldWakeOnChat(bus.StreamChatGeneral, bus.Entry{Fields: map[string]any{"content": "hey @a1 look"}}))
	require.True(t, s.shouldWakeOnChat(bus.StreamChatGeneral, bus.Entry{Fields: map[string]any{"content": "@all stand up"}}))
	require.False(t, s.shouldWakeOnChat(bus.StreamChatGeneral, bus.Entry{Fields: map[string]any{"content": "unrelated chatter"}}))
}

func TestMaintenanceGateUpdateStub(t *testing.T) {
	dir := t.TempDir()
	s := &Scheduler{d: Deps{Paths: config.PathsConfig{PriorsStubFile: dir + "/priors.stub"}}}

	handled := s.maintenanceGate(normalizer.Observed{
		Meta:    map[string]any{"job_type": "update_stub"},
		Content: "new priors text",
	})
	require.True(t, handled)
}

func TestMaintenanceGateIgnoresOrdinaryMessage(t *testing.T) {
	s := &Scheduler{d: Deps{}}
	handled := s.maintenanceGate(normalizer.Observed{Meta: map[string]any{"foo": "bar"}})
	require.False(t, handled)

	handled = s.maintenanceGate(normalizer.Observed{})
	require.False(t, handled)
}

func TestMaintenanceGateSourceTier1(t *testing.T) {
	s := &Scheduler{d: Deps{}}
	handled := s.maintenanceGate(normalizer.Observed{Meta: map[string]any{"source_tier_1": "log-123.jsonl"}})
	require.True(t, handled)
}

func TestEventTypeForPrefersObservedType(t *testing.T) {
	r := normalizer.Result{
		Observed: normalizer.Observed{EventType: "NewChatMessage"},
		Derived:  normalizer.Derived{Kind: normalizer.KindHumanMessage},
	}
	require.Equal(t, "NewChatMessage", eventTypeFor(r))

	r2 := normalizer.Result{Derived: normalizer.Derived{Kind: normalizer.KindUnknown}}
	require.Equal(t, "Unknown", eventTypeFor(r2))
}

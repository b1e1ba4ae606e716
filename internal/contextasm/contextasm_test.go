package contextasm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/indoria/guppi/internal/journal"
)

func TestTruncateFieldRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)

	full := strings.Repeat("x", 3000)
	out, err := a.truncateField("turn-1", "stdout", full, 1000)
	require.NoError(t, err)

	split := 1000 / 2
	require.True(t, strings.HasPrefix(out, full[:split]))
	require.True(t, strings.HasSuffix(out, full[len(full)-split:]))
	require.Contains(t, out, "TRUNCATED")
	require.Contains(t, out, "turn-1-stdout.txt")

	saved, err := os.ReadFile(filepath.Join(dir, "turn-1-stdout.txt"))
	require.NoError(t, err)
	require.Equal(t, full, string(saved))
}

func TestTruncateFieldBelowCapIsUntouched(t *testing.T) {
	a := New(t.TempDir())
	out, err := a.truncateField("turn-2", "stdout", "short", 1000)
	require.NoError(t, err)
	require.Equal(t, "short", out)
}

func TestBuildLogWindowCapsOlderEntriesTighter(t *testing.T) {
	a := New(t.TempDir())
	mkTurn := func(id string, n int) journal.Entry {
		return journal.Entry{Type: "AbeTurn", Turn: &journal.AbeTurn{
			ID:     id,
			Status: journal.StatusCompleted,
			Results: map[string]any{
				"stdout": strings.Repeat("a", n),
			},
		}}
	}
	buf := []journal.Entry{
		mkTurn("t1", 2000),
		mkTurn("t2", 2000),
		mkTurn("t3", 60000),
	}

	window, err := a.BuildLogWindow(buf, 3)
	require.NoError(t, err)
	require.Len(t, window, 3)

	require.Less(t, len(window[0].Turn.Results["stdout"].(string)), 2000)
	require.Less(t, len(window[1].Turn.Results["stdout"].(string)), 2000)
	require.Less(t, len(window[2].Turn.Results["stdout"].(string)), 60000)
	require.Greater(t, len(window[2].Turn.Results["stdout"].(string)), 1000)
}

func TestSweepOverflowRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)

	old := filepath.Join(dir, "old.txt")
	fresh := filepath.Join(dir, "fresh.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0644))

	oldTime := time.Now().Add(-4 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	require.NoError(t, a.SweepOverflow(time.Now()))

	_, err := os.Stat(old)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
}

func TestAssembleOrdersSections(t *testing.T) {
	a := New(t.TempDir())
	out := a.Assemble(Input{
		Genesis:      "you are guppi",
		IdentityJSON: `{"name":"a1"}`,
		SystemNotice: "be careful",
		CurrentEvent: journal.GuppiEvent{EventType: "HumanMessage", Source: "chat:general"},
	})

	genesisIdx := strings.Index(out, "you are guppi")
	noticeIdx := strings.Index(out, "be careful")
	eventIdx := strings.Index(out, "HumanMessage")

	require.True(t, genesisIdx < noticeIdx)
	require.True(t, noticeIdx < eventIdx)
}

func TestWindowSize(t *testing.T) {
	require.Equal(t, 20, WindowSize(false))
	require.Equal(t, 3, WindowSize(true))
}

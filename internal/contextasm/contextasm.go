// Package contextasm builds the prompt text handed to the LLM client: a
// fixed sequence of sections terminating in the current event, with
// overflow-safe truncation of the working-memory log window.
package contextasm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/indoria/guppi/internal/journal"
	"github.com/indoria/guppi/internal/obslog"
	"github.com/indoria/guppi/internal/todostore"
)

// Caps on captured turn output as it enters the prompt (not the Machete,
// which runs at capture time against raw subprocess bytes).
const (
	mostRecentEntryCap = 50000
	olderEntryCap      = 1000

	overflowSweepAge = 3 * 24 * time.Hour
)

// Orientation is the block injected when waking from a long sleep.
type Orientation struct {
	Status               string
	Duration             time.Duration
	MissedSocialActivity []string
}

// Input bundles every section the assembler concatenates, in fixed order.
type Input struct {
	Genesis        string
	PriorsStub     string
	FleetProtocols string
	IdentityJSON   string
	ChangelogTail  string
	Episodes       []string
	ClipboardLines []string
	Orientation    *Orientation
	LogWindow      []journal.Entry
	DueTasks       []todostore.Task
	SystemNotice   string
	CurrentEvent   journal.GuppiEvent
}

// Assembler owns the overflow directory truncated turn output spills into.
type Assembler struct {
	overflowDir string
}

// New returns an Assembler rooted at overflowDir (memory/overflow).
func New(overflowDir string) *Assembler {
	return &Assembler{overflowDir: overflowDir}
}

// SweepOverflow deletes overflow files older than three days. Call once at
// startup.
func (a *Assembler) SweepOverflow(now time.Time) error {
	entries, err := os.ReadDir(a.overflowDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sweep overflow: %w", err)
	}
	log := obslog.For("contextasm")
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > overflowSweepAge {
			full := filepath.Join(a.overflowDir, e.Name())
			if err := os.Remove(full); err != nil {
				log.Warn().Err(err).Str("file", full).Msg("overflow sweep failed to remove file")
			}
		}
	}
	return nil
}

// WindowSize returns the log-window length for the given orientation state.
func WindowSize(orientationActive bool) int {
	if orientationActive {
		return 3
	}
	return 20
}

// BuildLogWindow takes the last n entries from buf (oldest-to-newest order)
// and applies overflow-safe truncation: the most recent entry gets the
// working-memory cap, all older entries get the smaller cap.
func (a *Assembler) BuildLogWindow(buf []journal.Entry, n int) ([]journal.Entry, error) {
	if n > len(buf) {
		n = len(buf)
	}
	window := buf[len(buf)-n:]
	out := make([]journal.Entry, len(window))
	for i, e := range window {
		capN := olderEntryCap
		if i == len(window)-1 {
			capN = mostRecentEntryCap
		}
		capped, err := a.capEntry(e, capN)
		if err != nil {
			return nil, err
		}
		out[i] = capped
	}
	return out, nil
}

func (a *Assembler) capEntry(e journal.Entry, capN int) (journal.Entry, error) {
	if e.Turn == nil || len(e.Turn.Results) == 0 {
		return e, nil
	}
	turnCopy := *e.Turn
	capped := make(map[string]any, len(turnCopy.Results))
	for k, v := range turnCopy.Results {
		s, ok := v.(string)
		if !ok {
			capped[k] = v
			continue
		}
		truncated, err := a.truncateField(turnCopy.ID, k, s, capN)
		if err != nil {
			return journal.Entry{}, err
		}
		capped[k] = truncated
	}
	turnCopy.Results = capped
	return journal.Entry{Type: e.Type, Event: e.Event, Turn: &turnCopy}, nil
}

// truncateField caps value to capN characters, spilling the full text to an
// idempotent overflow file the first time it's seen.
func (a *Assembler) truncateField(turnID, field, value string, capN int) (string, error) {
	if len(value) <= capN {
		return value, nil
	}

	fname := fmt.Sprintf("%s%s.txt", turnID, fieldSuffix(field))
	fpath := filepath.Join(a.overflowDir, fname)
	if _, err := os.Stat(fpath); os.IsNotExist(err) {
		if err := os.MkdirAll(a.overflowDir, 0755); err != nil {
			return "", fmt.Errorf("truncate field: %w", err)
		}
		if err := os.WriteFile(fpath, []byte(value), 0644); err != nil {
			return "", fmt.Errorf("truncate field: write overflow: %w", err)
		}
	}

	split := capN / 2
	removed := len(value) - capN
	marker := fmt.Sprintf(" … [OUTPUT TRUNCATED: %d chars removed. Saved to: %s] … ", removed, fname)
	return value[:split] + marker + value[len(value)-split:], nil
}

func fieldSuffix(field string) string {
	switch field {
	case "stdout":
		return "-stdout"
	case "stderr":
		return "-stderr"
	default:
		return ""
	}
}

// Assemble concatenates every section in fixed order into the final prompt.
func (a *Assembler) Assemble(in Input) string {
	var sb strings.Builder
	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		sb.WriteString("## ")
		sb.WriteString(title)
		sb.WriteString("\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}

	section("Genesis", in.Genesis)
	section("Identity Priors", in.PriorsStub)
	section("Fleet Protocols", in.FleetProtocols)
	section("Identity Passport", in.IdentityJSON)
	section("Changelog", in.ChangelogTail)

	if len(in.Episodes) > 0 {
		section("Recent Episodes", strings.Join(in.Episodes, "\n---\n"))
	}
	if len(in.ClipboardLines) > 0 {
		var cb strings.Builder
		for i, l := range in.ClipboardLines {
			fmt.Fprintf(&cb, "%d. %s\n", i+1, l)
		}
		section("Clipboard", cb.String())
	}

	if in.Orientation != nil {
		var ob strings.Builder
		fmt.Fprintf(&ob, "status: %s\nduration: %s\n", in.Orientation.Status, in.Orientation.Duration)
		if len(in.Orientation.MissedSocialActivity) > 0 {
			ob.WriteString("missed_social_activity:\n")
			for _, m := range in.Orientation.MissedSocialActivity {
				fmt.Fprintf(&ob, "- %s\n", m)
			}
		}
		section("Orientation", ob.String())
	}

	if len(in.LogWindow) > 0 {
		var lw strings.Builder
		for _, e := range in.LogWindow {
			lw.WriteString(renderEntry(e))
			lw.WriteString("\n")
		}
		section("Working Memory", lw.String())
	}

	if len(in.DueTasks) > 0 {
		var dt strings.Builder
		for _, t := range in.DueTasks {
			fmt.Fprintf(&dt, "- [%s] %s (due %s, priority %d)\n", t.TaskID, t.Description, t.DueAt.Format(time.RFC3339), t.Priority)
		}
		section("Due Tasks", dt.String())
	}

	section("System Notice", in.SystemNotice)
	section("Current Event", renderEvent(in.CurrentEvent))

	return strings.TrimRight(sb.String(), "\n")
}

func renderEntry(e journal.Entry) string {
	switch e.Type {
	case "GUPPIEvent":
		if e.Event == nil {
			return ""
		}
		return renderEvent(*e.Event)
	case "AbeTurn":
		if e.Turn == nil {
			return ""
		}
		t := e.Turn
		var sb strings.Builder
		fmt.Fprintf(&sb, "[%s] turn %s status=%s\nreasoning: %s\n", t.TimestampIntent.Format(time.RFC3339), t.ID, t.Status, t.Reasoning)
		if len(t.Action) > 0 {
			fmt.Fprintf(&sb, "action: %v\n", t.Action)
		}
		if len(t.Results) > 0 {
			fmt.Fprintf(&sb, "results: %v\n", t.Results)
		}
		return sb.String()
	default:
		return ""
	}
}

func renderEvent(ev journal.GuppiEvent) string {
	return fmt.Sprintf("[%s] %s from %s: %v", ev.TimestampEvent.Format(time.RFC3339), ev.EventType, ev.Source, ev.Content)
}

// Package journal is the durable append-only log of events, intents, and
// outcomes. It survives crashes without orphaning pending turns and rotates
// itself once its in-memory buffer grows past a high-water mark.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/indoria/guppi/internal/obslog"
)

// PruneHook is invoked after a prune rewrites the in-memory buffer. archivePath
// is the pre-prune copy; prunedEntries is what was dropped from the buffer
// (the narrative-summarization subprocess consumes these to write a tier-2
// episode). Errors are logged, never fatal to the journal.
type PruneHook func(archivePath string, prunedEntries []Entry) error

// Journal owns working.log and the in-memory buffer mirroring it.
type Journal struct {
	mu sync.Mutex

	path       string
	archiveDir string
	agent      string

	buf []Entry

	highWaterMark int
	keepLast      int
	pruning       bool
	onPrune       PruneHook

	log zerolog.Logger
}

// Config bundles the journal's tunables.
type Config struct {
	Path          string
	ArchiveDir    string
	Agent         string
	HighWaterMark int // default 30
	KeepLast      int // default 15
	OnPrune       PruneHook
}

// Open loads an existing log (if present), runs crash recovery, and returns a
// ready Journal.
func Open(cfg Config) (*Journal, error) {
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = 30
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = 15
	}
	j := &Journal{
		path:          cfg.Path,
		archiveDir:    cfg.ArchiveDir,
		agent:         cfg.Agent,
		highWaterMark: cfg.HighWaterMark,
		keepLast:      cfg.KeepLast,
		onPrune:       cfg.OnPrune,
		log:           obslog.For("journal"),
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	j.recoverCrashedTurns()
	return j, nil
}

func (j *Journal) load() error {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			j.log.Warn().Err(err).Msg("skipping malformed journal line")
			continue
		}
		j.buf = append(j.buf, e)
	}
	return scanner.Err()
}

// recoverCrashedTurns marks any AbeTurn left pending as interrupted. Called
// once at startup before the scheduler's main loop begins.
func (j *Journal) recoverCrashedTurns() {
	j.mu.Lock()
	defer j.mu.Unlock()

	changed := false
	for i := range j.buf {
		t := j.buf[i].Turn
		if t == nil || t.Status != StatusPending {
			continue
		}
		t.Status = StatusInterrupted
		now := time.Now()
		t.TimestampOutcome = &now
		t.Results = map[string]any{"error": "crash/restart detected"}
		changed = true
		j.log.Warn().Str("turn_id", t.ID).Msg("crash recovery: marking pending turn interrupted")
	}
	if changed {
		if err := j.rewriteLocked(); err != nil {
			j.log.Error().Err(err).Msg("crash recovery rewrite failed")
		}
	}
}

// AppendEvent appends a GUPPIEvent and returns its id.
func (j *Journal) AppendEvent(eventType, source string, content map[string]any) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := uuid.NewString()
	e := GuppiEvent{
		ID:             id,
		Agent:          j.agent,
		TimestampEvent: time.Now(),
		EventType:      eventType,
		Source:         source,
		Content:        content,
	}
	j.buf = append(j.buf, eventEntry(e))
	if err := j.rewriteLocked(); err != nil {
		return "", err
	}
	j.maybePruneLocked()
	return id, nil
}

// AppendIntent appends a pending AbeTurn.
func (j *Journal) AppendIntent(turnID, parentEventID, reasoning string, action map[string]any, thoughtSignature string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	t := AbeTurn{
		ID:               turnID,
		Agent:            j.agent,
		ParentEventID:    parentEventID,
		TimestampIntent:  time.Now(),
		Status:           StatusPending,
		Reasoning:        reasoning,
		Action:           action,
		ThoughtSignature: thoughtSignature,
	}
	j.buf = append(j.buf, turnEntry(t))
	return j.rewriteLocked()
}

// ErrOrphanedOutcome is returned (and only logged, never propagated as fatal)
// when patch_outcome targets a turn_id not present in the buffer.
var ErrOrphanedOutcome = fmt.Errorf("orphaned outcome: turn not found")

// PatchOutcome finds the pending entry for turnID, marks it completed, and
// fills results. If notify is requested, the caller (scheduler/toolbox) is
// responsible for pushing the TaskCompleted self-notification after this
// returns nil, so the journal stays free of bus dependencies.
func (j *Journal) PatchOutcome(turnID string, results map[string]any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.buf {
		t := j.buf[i].Turn
		if t == nil || t.ID != turnID {
			continue
		}
		if t.Status != StatusPending {
			// Already terminal; immutable except for safety-layer truncation,
			// which callers apply to results before calling PatchOutcome.
			return nil
		}
		t.Status = StatusCompleted
		now := time.Now()
		t.TimestampOutcome = &now
		t.Results = results
		return j.rewriteLocked()
	}
	j.log.Warn().Str("turn_id", turnID).Msg("patch_outcome: orphaned, dropping")
	return ErrOrphanedOutcome
}

// NewTurnID mints a fresh turn identifier for the caller to pass through
// AppendIntent and PatchOutcome.
func NewTurnID() string { return uuid.NewString() }

// MaybePrune checks the high-water mark and rotates the buffer if it is
// crossed. The heartbeat loop calls this every tick as the carrier for the
// size-bounded rotation spec.md's prune trigger describes.
func (j *Journal) MaybePrune() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.maybePruneLocked()
}

// Buffer returns a snapshot of the in-memory entries, most recent last.
func (j *Journal) Buffer() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.buf))
	copy(out, j.buf)
	return out
}

// rewriteLocked persists the buffer via write-to-temp + fsync + rename.
// Caller must hold j.mu.
func (j *Journal) rewriteLocked() error {
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir journal dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".working.log.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, e := range j.buf {
		b, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("marshal entry: %w", err)
		}
		if _, err := w.Write(b); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename journal: %w", err)
	}
	return nil
}

// maybePruneLocked triggers a size-bounded rotation when the buffer crosses
// the high-water mark and no prune is already in flight. Caller holds j.mu.
func (j *Journal) maybePruneLocked() {
	if j.pruning || len(j.buf) <= j.highWaterMark {
		return
	}
	j.pruning = true

	archivePath := filepath.Join(j.archiveDir, fmt.Sprintf("log-%d.jsonl", time.Now().Unix()))
	if err := j.archiveLocked(archivePath); err != nil {
		j.log.Error().Err(err).Msg("prune: archive copy failed, aborting rotation")
		j.pruning = false
		return
	}

	keep := j.keepLast
	if keep > len(j.buf) {
		keep = len(j.buf)
	}
	pruned := make([]Entry, len(j.buf)-keep)
	copy(pruned, j.buf[:len(j.buf)-keep])
	j.buf = j.buf[len(j.buf)-keep:]

	if err := j.rewriteLocked(); err != nil {
		j.log.Error().Err(err).Msg("prune: rewrite after truncation failed")
	}
	j.pruning = false

	if j.onPrune != nil {
		hook := j.onPrune
		go func() {
			if err := hook(archivePath, pruned); err != nil {
				obslog.For("journal").Error().Err(err).Msg("prune hook failed")
			}
		}()
	}
}

func (j *Journal) archiveLocked(archivePath string) error {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return err
	}
	src, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()
	dst, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := dst.ReadFrom(src); err != nil {
		return err
	}
	return dst.Sync()
}

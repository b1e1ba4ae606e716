// Package scheduler runs the refractory main loop: it races always-hot
// stimulus sources against a refractory-gated pair (inbox, alarm clock),
// applies the dispatch rules for whichever source wins, and hands qualifying
// stimuli to Cognition.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/indoria/guppi/internal/bus"
	"github.com/indoria/guppi/internal/cognition"
	"github.com/indoria/guppi/internal/config"
	"github.com/indoria/guppi/internal/contextasm"
	"github.com/indoria/guppi/internal/journal"
	"github.com/indoria/guppi/internal/normalizer"
	"github.com/indoria/guppi/internal/obslog"
	"github.com/indoria/guppi/internal/todostore"
	"github.com/indoria/guppi/internal/toolbox"
	"github.com/indoria/guppi/internal/vectorstore"
)

// maxAlarmPoll bounds how long the alarm source sleeps when the ToDo store
// has no upcoming task at all; it also doubles as the natural "the scheduler
// has been properly idle" signal that the Context Assembler's orientation
// block keys off.
const maxAlarmPoll = time.Hour

// Deps bundles everything the scheduler needs to race stimulus sources and
// dispatch to Cognition.
type Deps struct {
	Agent string
	Host  string

	Bus       bus.Bus
	Journal   *journal.Journal
	Cognition *cognition.Cognition
	Todos     *todostore.Store
	Vectors   *vectorstore.Store

	WAL    *normalizer.WAL
	Dedupe *normalizer.Deduper

	Paths         config.PathsConfig
	Refractory    config.RefractoryConfig
	BurstDrainMax int

	// WakeCh mirrors toolbox.Deps.WakeCh: a tracked subprocess completion
	// signal, consumed here as an always-hot source.
	WakeCh chan struct{}

	HeartbeatInterval time.Duration
}

// wakeKind tags which source produced a given wake result.
type wakeKind string

const (
	kindNone            wakeKind = ""
	kindError           wakeKind = "error"
	kindStreams         wakeKind = "streams"
	kindInternal        wakeKind = "internal"
	kindLocalWake       wakeKind = "localwake"
	kindInbox           wakeKind = "inbox"
	kindAlarm           wakeKind = "alarm"
	kindCooldownElapsed wakeKind = "cooldown_elapsed"
)

type wakeResult struct {
	kind          wakeKind
	payload       string
	streamEntries map[string][]bus.Entry
	err           error
}

// Scheduler runs the refractory loop for a single agent.
type Scheduler struct {
	d Deps

	cursors               *cursorSet
	explicitSubscriptions map[string]bool

	cooldownUntil    time.Time
	lastSocialSyncTs time.Time
}

// New returns a Scheduler bound to d.
func New(d Deps) *Scheduler {
	if d.BurstDrainMax <= 0 {
		d.BurstDrainMax = 20
	}
	return &Scheduler{
		d: d,
		cursors: newCursorSet([]string{
			bus.StreamChatGeneral,
			bus.StreamChatSynchronous,
			bus.StreamKillSwitch,
		}),
		explicitSubscriptions: map[string]bool{},
		lastSocialSyncTs:      time.Now(),
	}
}

// Run drives the loop until the kill switch fires or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log := obslog.For("scheduler")
	go s.heartbeatLoop(ctx)
	s.setStatus(ctx, "idle")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop, err := s.iterate(ctx)
		if err != nil {
			log.Error().Err(err).Msg("scheduler iteration failed, continuing")
			continue
		}
		if stop {
			log.Info().Msg("scheduler stopping on kill switch")
			return nil
		}
	}
}

// iterate races one round of stimulus sources and dispatches whichever wins.
func (s *Scheduler) iterate(ctx context.Context) (bool, error) {
	s.refreshSubscriptions()

	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan wakeResult, 6)
	var wg sync.WaitGroup
	spawn := func(fn func(context.Context) wakeResult) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := fn(iterCtx)
			select {
			case results <- w:
			case <-iterCtx.Done():
			}
		}()
	}

	spawn(s.waitStreams)
	spawn(s.waitInternal)
	spawn(s.waitLocalWake)

	now := time.Now()
	if now.Before(s.cooldownUntil) {
		until := s.cooldownUntil.Sub(now)
		spawn(func(ctx context.Context) wakeResult { return s.waitCooldownTimer(ctx, until) })
	} else {
		spawn(s.waitInbox)
		spawn(s.waitAlarm)
	}

	wakeStart := now
	var w wakeResult
	select {
	case w = <-results:
	case <-ctx.Done():
		return true, nil
	}
	cancel()
	wg.Wait()

	timeAsleep := time.Since(wakeStart)
	orientation := s.computeOrientation(ctx, timeAsleep)

	return s.dispatch(ctx, w, orientation)
}

func (s *Scheduler) dispatch(ctx context.Context, w wakeResult, orientation *contextasm.Orientation) (bool, error) {
	log := obslog.For("scheduler")
	switch w.kind {
	case kindNone:
		return false, nil
	case kindError:
		log.Warn().Err(w.err).Msg("stimulus source failed")
		return false, nil
	case kindStreams:
		return s.dispatchStreams(ctx, w.streamEntries, orientation)
	case kindInternal:
		s.handleInternalItem(ctx, w.payload)
		return false, nil
	case kindLocalWake:
		log.Debug().Msg("local wakeup: tracked subprocess accounting reaped")
		return false, nil
	case kindInbox:
		s.dispatchInbox(ctx, w.payload, orientation)
		return false, nil
	case kindAlarm:
		if err := s.dispatchAlarm(ctx, orientation); err != nil {
			log.Warn().Err(err).Msg("alarm dispatch failed")
		}
		return false, nil
	case kindCooldownElapsed:
		return false, nil
	default:
		return false, nil
	}
}

// --- always-hot sources ----------------------------------------------------

func (s *Scheduler) waitStreams(ctx context.Context) wakeResult {
	streams := s.cursors.snapshot()
	entries, err := s.d.Bus.StreamRead(ctx, streams, 0)
	if err != nil {
		if ctx.Err() != nil {
			return wakeResult{}
		}
		return wakeResult{kind: kindError, err: fmt.Errorf("stream read: %w", err)}
	}
	if len(entries) == 0 {
		return wakeResult{}
	}
	return wakeResult{kind: kindStreams, streamEntries: entries}
}

func (s *Scheduler) waitInternal(ctx context.Context) wakeResult {
	payload, err := s.d.Bus.BlockingPop(ctx, bus.InternalQueue(s.d.Agent), 0)
	if err != nil {
		if ctx.Err() != nil {
			return wakeResult{}
		}
		return wakeResult{kind: kindError, err: fmt.Errorf("internal queue pop: %w", err)}
	}
	if payload == "" {
		return wakeResult{}
	}
	return wakeResult{kind: kindInternal, payload: payload}
}

func (s *Scheduler) waitLocalWake(ctx context.Context) wakeResult {
	if s.d.WakeCh == nil {
		<-ctx.Done()
		return wakeResult{}
	}
	select {
	case <-s.d.WakeCh:
		return wakeResult{kind: kindLocalWake}
	case <-ctx.Done():
		return wakeResult{}
	}
}

// --- refractory sources ----------------------------------------------------

func (s *Scheduler) waitInbox(ctx context.Context) wakeResult {
	payload, err := s.d.Bus.BlockingPop(ctx, bus.InboxList(s.d.Agent), 0)
	if err != nil {
		if ctx.Err() != nil {
			return wakeResult{}
		}
		return wakeResult{kind: kindError, err: fmt.Errorf("inbox pop: %w", err)}
	}
	if payload == "" {
		return wakeResult{}
	}
	return wakeResult{kind: kindInbox, payload: payload}
}

func (s *Scheduler) waitAlarm(ctx context.Context) wakeResult {
	log := obslog.For("scheduler")
	if s.d.Todos == nil {
		<-ctx.Done()
		return wakeResult{}
	}
	for {
		if ctx.Err() != nil {
			return wakeResult{}
		}
		due, err := s.d.Todos.List(ctx, todostore.FilterDue)
		if err != nil {
			return wakeResult{kind: kindError, err: fmt.Errorf("todo list due: %w", err)}
		}
		if len(due) > 0 {
			return wakeResult{kind: kindAlarm}
		}

		wait := maxAlarmPoll
		nextDue, ok, err := s.d.Todos.NextDue(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch next due task for alarm sleep")
		} else if ok {
			if d := time.Until(nextDue); d > 0 && d < wait {
				wait = d
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			return wakeResult{}
		}
	}
}

func (s *Scheduler) waitCooldownTimer(ctx context.Context, d time.Duration) wakeResult {
	if d <= 0 {
		return wakeResult{kind: kindCooldownElapsed}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return wakeResult{kind: kindCooldownElapsed}
	case <-ctx.Done():
		return wakeResult{}
	}
}

// --- stream dispatch ---------------------------------------------------

func (s *Scheduler) dispatchStreams(ctx context.Context, entries map[string][]bus.Entry, orientation *contextasm.Orientation) (bool, error) {
	log := obslog.For("scheduler")

	if ks, ok := entries[bus.StreamKillSwitch]; ok && len(ks) > 0 {
		for _, e := range ks {
			s.cursors.advance(bus.StreamKillSwitch, e.ID)
		}
		return true, nil
	}

	woke := false
	rateLimited := false
	var cooldownUntil time.Time
	for stream, list := range entries {
		for _, e := range list {
			if !s.cursors.advance(stream, e.ID) {
				continue
			}
			if s.shouldWakeOnChat(stream, e) {
				woke = true
				res, err := s.runChatThinkCycle(ctx, stream, e, orientation)
				if err != nil {
					log.Warn().Err(err).Str("channel", stream).Msg("chat think cycle failed")
				}
				if res.RateLimited {
					rateLimited = true
					cooldownUntil = res.CooldownUntil
				}
			}
		}
	}
	if woke {
		if rateLimited {
			s.cooldownUntil = cooldownUntil
		} else {
			s.armCooldown(s.chatCooldown())
		}
	}
	return false, nil
}

func (s *Scheduler) shouldWakeOnChat(stream string, e bus.Entry) bool {
	if stream == bus.StreamChatSynchronous {
		return true
	}
	if s.explicitSubscriptions[stream] {
		return true
	}
	content := fieldString(e.Fields, "content")
	if strings.Contains(content, "@"+s.d.Agent) || strings.Contains(content, "@all") {
		return true
	}
	return false
}

func (s *Scheduler) runChatThinkCycle(ctx context.Context, stream string, e bus.Entry, orientation *contextasm.Orientation) (cognition.Result, error) {
	history, err := s.d.Bus.StreamRevRange(ctx, stream, "+", "-", 5)
	if err != nil {
		return cognition.Result{}, fmt.Errorf("chat history: %w", err)
	}
	content := map[string]any{
		"channel": stream,
		"from":    fieldString(e.Fields, "from"),
		"message": fieldString(e.Fields, "content"),
		"history": renderHistory(history),
	}
	eventID, err := s.d.Journal.AppendEvent("NewChatMessage", stream, content)
	if err != nil {
		return cognition.Result{}, fmt.Errorf("append chat event: %w", err)
	}
	event := journal.GuppiEvent{ID: eventID, EventType: "NewChatMessage", Source: stream, Content: content}
	return s.runThinkCycle(ctx, event, eventID, "", orientation)
}

func renderHistory(entries []bus.Entry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"from":    fieldString(e.Fields, "from"),
			"content": fieldString(e.Fields, "content"),
		})
	}
	return out
}

func fieldString(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}

// --- internal queue ------------------------------------------------------

func (s *Scheduler) handleInternalItem(ctx context.Context, raw string) {
	log := obslog.For("scheduler")
	var msg struct {
		Type    string         `json:"type"`
		TaskID  string         `json:"task_id"`
		Vector  []float32      `json:"vector"`
		Content map[string]any `json:"content"`
		Error   string         `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		log.Warn().Err(err).Msg("internal queue item not parseable")
		return
	}
	if msg.Error != "" {
		log.Warn().Str("task_id", msg.TaskID).Str("error", msg.Error).Msg("internal queue item reported error")
		return
	}
	if len(msg.Vector) > 0 {
		if s.d.Vectors == nil {
			log.Warn().Str("task_id", msg.TaskID).Msg("vector result arrived but no vector store is configured")
			return
		}
		if err := s.d.Vectors.UpsertEpisode(ctx, msg.TaskID, msg.Vector, msg.Content); err != nil {
			log.Warn().Err(err).Str("task_id", msg.TaskID).Msg("failed to upsert vector result")
		}
		return
	}
	log.Debug().Str("type", msg.Type).Str("task_id", msg.TaskID).Msg("internal queue item ignored (not a vector result)")
}

// --- alarm dispatch ------------------------------------------------------

func (s *Scheduler) dispatchAlarm(ctx context.Context, orientation *contextasm.Orientation) error {
	due, err := s.d.Todos.Overdue(ctx, 5)
	if err != nil {
		return fmt.Errorf("overdue tasks: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	content := map[string]any{"tasks": due}
	eventID, err := s.d.Journal.AppendEvent("AlarmClock", "scheduler:alarm", content)
	if err != nil {
		return fmt.Errorf("append alarm event: %w", err)
	}
	event := journal.GuppiEvent{ID: eventID, EventType: "AlarmClock", Source: "scheduler:alarm", Content: content}
	res, err := s.runThinkCycle(ctx, event, eventID, "", orientation)
	if err != nil {
		obslog.For("scheduler").Warn().Err(err).Msg("alarm think cycle failed")
	}
	if res.RateLimited {
		s.cooldownUntil = res.CooldownUntil
	} else {
		s.armCooldown(s.randBurstCooldown())
	}
	return nil
}

// --- inbox dispatch ------------------------------------------------------

func (s *Scheduler) dispatchInbox(ctx context.Context, first string, orientation *contextasm.Orientation) {
	log := obslog.For("scheduler")

	rateLimited := false
	var cooldownUntil time.Time
	applyResult := func(res cognition.Result) {
		if res.RateLimited {
			rateLimited = true
			cooldownUntil = res.CooldownUntil
		}
	}

	applyResult(s.processInboxItem(ctx, first, orientation))

	drained := 0
	for drained < s.d.BurstDrainMax {
		next, ok, err := s.d.Bus.NonBlockingPop(ctx, bus.InboxList(s.d.Agent))
		if err != nil {
			log.Warn().Err(err).Msg("burst drain pop failed")
			break
		}
		if !ok {
			break
		}
		applyResult(s.processInboxItem(ctx, next, orientation))
		drained++
	}
	if drained > 0 {
		log.Debug().Int("drained", drained).Msg("burst drain complete")
	}
	if rateLimited {
		s.cooldownUntil = cooldownUntil
	} else {
		s.armCooldown(s.randBurstCooldown())
	}
}

func (s *Scheduler) processInboxItem(ctx context.Context, raw string, orientation *contextasm.Orientation) cognition.Result {
	log := obslog.For("scheduler")
	now := time.Now()

	if s.d.WAL != nil {
		if err := s.d.WAL.Append(raw, now); err != nil {
			log.Warn().Err(err).Msg("inbox wal append failed")
		}
	}

	result := normalizer.Classify(raw)
	fp := normalizer.Fingerprint(result)
	if s.d.Dedupe != nil && !s.d.Dedupe.Admit(fp, now) {
		log.Debug().Str("fingerprint", fp).Msg("dropping duplicate inbox item")
		return cognition.Result{}
	}

	s.archive(result.Observed, now)
	s.ingestTier2(result.Observed)

	if s.maintenanceGate(result.Observed) {
		return cognition.Result{}
	}

	eventType := eventTypeFor(result)
	content := map[string]any{
		"kind":    string(result.Derived.Kind),
		"from":    result.Observed.From,
		"content": result.Observed.Content,
		"meta":    result.Observed.Meta,
	}
	eventID, err := s.d.Journal.AppendEvent(eventType, "inbox:"+s.d.Agent, content)
	if err != nil {
		log.Warn().Err(err).Msg("append inbox event failed")
		return cognition.Result{}
	}
	event := journal.GuppiEvent{ID: eventID, EventType: eventType, Source: "inbox:" + s.d.Agent, Content: content}

	systemNotice := ""
	if eventType == "SystemAlert" {
		systemNotice = fmt.Sprintf("System alert received: %v", result.Observed.Content)
	}

	res, err := s.runThinkCycle(ctx, event, eventID, systemNotice, orientation)
	if err != nil {
		log.Warn().Err(err).Msg("inbox think cycle failed")
	}
	return res
}

func eventTypeFor(r normalizer.Result) string {
	if r.Observed.EventType != "" {
		return r.Observed.EventType
	}
	return string(r.Derived.Kind)
}

func (s *Scheduler) maintenanceGate(o normalizer.Observed) bool {
	log := obslog.For("scheduler")
	if o.Meta == nil {
		return false
	}
	if jobType, _ := o.Meta["job_type"].(string); jobType == "update_stub" {
		text := stubTextFrom(o.Content)
		if err := os.WriteFile(s.d.Paths.PriorsStubFile, []byte(text), 0o644); err != nil {
			log.Warn().Err(err).Msg("failed to overwrite priors stub")
		} else {
			log.Info().Msg("priors stub updated by maintenance reply")
		}
		return true
	}
	if maint, _ := o.Meta["maintenance"].(bool); maint {
		log.Info().Msg("maintenance completed")
		return true
	}
	if _, ok := o.Meta["source_tier_1"]; ok {
		log.Info().Msg("maintenance completed: tier-2 episode ingested")
		return true
	}
	return false
}

func stubTextFrom(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["content"].(string); ok {
			return s
		}
		if s, ok := v["summary"].(string); ok {
			return s
		}
	}
	return ""
}

func (s *Scheduler) ingestTier2(o normalizer.Observed) {
	log := obslog.For("scheduler")
	if o.Meta == nil {
		return
	}
	srcTier1, _ := o.Meta["source_tier_1"].(string)
	if srcTier1 == "" {
		return
	}
	contentMap, _ := o.Content.(map[string]any)
	summary, _ := contentMap["summary"].(string)
	if summary == "" {
		return
	}

	name := strings.TrimSuffix(filepath.Base(srcTier1), filepath.Ext(srcTier1)) + ".md"
	path := filepath.Join(s.d.Paths.EpisodesDir, name)
	if _, err := os.Stat(path); err == nil {
		return // idempotent: this tier-1 log was already ingested as an episode
	}
	if err := os.MkdirAll(s.d.Paths.EpisodesDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create episodes dir")
		return
	}
	if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to write tier-2 episode")
	}
}

func (s *Scheduler) archive(o normalizer.Observed, now time.Time) {
	log := obslog.For("scheduler")
	if s.d.Paths.CommunicationsLog == "" {
		return
	}
	line, err := json.Marshal(struct {
		Timestamp time.Time `json:"timestamp"`
		EventType string    `json:"event_type"`
		From      string    `json:"from"`
		Content   any       `json:"content"`
	}{now, o.EventType, o.From, o.Content})
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.d.Paths.CommunicationsLog), 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create communications log dir")
		return
	}
	f, err := os.OpenFile(s.d.Paths.CommunicationsLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open communications log")
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Warn().Err(err).Msg("failed to write communications log entry")
	}
}

// --- think cycle wrapper / status beacon ---------------------------------

func (s *Scheduler) runThinkCycle(ctx context.Context, event journal.GuppiEvent, parentEventID, systemNotice string, orientation *contextasm.Orientation) (cognition.Result, error) {
	s.setStatus(ctx, "thinking")
	res, err := s.d.Cognition.RunThinkCycle(ctx, event, parentEventID, "", systemNotice, orientation, 0)
	if err != nil {
		s.setStatus(ctx, "idle")
		return res, err
	}
	if res.Tool == "hibernate" {
		s.setStatus(ctx, "hibernating")
	} else {
		s.setStatus(ctx, "idle")
	}
	return res, nil
}

func (s *Scheduler) setStatus(ctx context.Context, status string) {
	if err := s.d.Bus.SetEX(ctx, bus.StatusKey(s.d.Agent), status, 24*time.Hour); err != nil {
		obslog.For("scheduler").Debug().Err(err).Msg("failed to set status beacon")
	}
}

// --- cooldown / subscriptions / orientation / heartbeat -------------------

func (s *Scheduler) armCooldown(d time.Duration) {
	s.cooldownUntil = time.Now().Add(d)
}

func (s *Scheduler) chatCooldown() time.Duration {
	if s.d.Refractory.ChatCooldown > 0 {
		return s.d.Refractory.ChatCooldown
	}
	return 5 * time.Second
}

func (s *Scheduler) randBurstCooldown() time.Duration {
	lo, hi := s.d.Refractory.InboxCooldownLo, s.d.Refractory.InboxCooldownHi
	if lo <= 0 {
		lo = 10 * time.Second
	}
	if hi <= lo {
		hi = lo + 20*time.Second
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func (s *Scheduler) refreshSubscriptions() {
	if s.d.Paths.SubscriptionsFile == "" {
		return
	}
	subs, err := toolbox.ReadSubscriptions(s.d.Paths.SubscriptionsFile)
	if err != nil {
		return
	}

	wanted := map[string]bool{
		bus.StreamChatGeneral:     true,
		bus.StreamChatSynchronous: true,
		bus.StreamKillSwitch:      true,
	}
	explicit := make(map[string]bool, len(subs))
	for _, c := range subs {
		wanted[c] = true
		explicit[c] = true
	}
	s.explicitSubscriptions = explicit

	for stream := range wanted {
		s.cursors.add(stream)
	}
	for _, stream := range s.cursors.streams() {
		if !wanted[stream] {
			s.cursors.remove(stream)
		}
	}
}

func (s *Scheduler) computeOrientation(ctx context.Context, timeAsleep time.Duration) *contextasm.Orientation {
	if timeAsleep <= time.Hour {
		return nil
	}
	return &contextasm.Orientation{
		Status:               "Waking Up from Deep Sleep",
		Duration:             timeAsleep,
		MissedSocialActivity: s.fetchSocialDigests(ctx),
	}
}

func (s *Scheduler) fetchSocialDigests(ctx context.Context) []string {
	log := obslog.For("scheduler")
	start := fmt.Sprintf("%d-0", s.lastSocialSyncTs.UnixMilli())
	entries, err := s.d.Bus.StreamRange(ctx, bus.StreamSocialDigests, start, "+", 50)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch social digests for orientation")
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fieldString(e.Fields, "content"))
	}
	s.lastSocialSyncTs = time.Now()
	return out
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	log := obslog.For("scheduler")
	interval := s.d.HeartbeatInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, err := s.d.Bus.StreamAppend(ctx, bus.StreamHeartbeat, map[string]any{
				"agent":   s.d.Agent,
				"display": s.d.Agent,
				"ts":      time.Now().Unix(),
				"host":    s.d.Host,
			})
			if err != nil {
				log.Warn().Err(err).Msg("heartbeat append failed")
			}
			if s.d.Journal != nil {
				s.d.Journal.MaybePrune()
			}
		case <-ctx.Done():
			return
		}
	}
}

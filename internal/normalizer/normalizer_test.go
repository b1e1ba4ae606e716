package normalizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyHumanMessage(t *testing.T) {
	r := Classify(`{"from":"op","event_type":"NewInboxMessage","content":"check disk"}`)
	require.Equal(t, KindHumanMessage, r.Derived.Kind)
	require.Equal(t, "op", r.Observed.From)
}

func TestClassifyScribeResult(t *testing.T) {
	r := Classify(`{"event_type":"ScribeResult","task_id":"t1","content":{"summary":"ok"}}`)
	require.Equal(t, KindScribeResult, r.Derived.Kind)
}

func TestClassifySystemEvent(t *testing.T) {
	r := Classify(`{"event_type":"AlarmClock"}`)
	require.Equal(t, KindSystemEvent, r.Derived.Kind)
}

func TestClassifyStructuredMessage(t *testing.T) {
	r := Classify(`{"meta":{"x":1},"content":"hi"}`)
	require.Equal(t, KindStructuredMessage, r.Derived.Kind)
}

func TestClassifyRawMessageOnUnparseable(t *testing.T) {
	r := Classify("not json at all")
	require.Equal(t, KindRawMessage, r.Derived.Kind)
}

func TestClassifyUnknown(t *testing.T) {
	r := Classify(`{"foo":"bar"}`)
	require.Equal(t, KindUnknown, r.Derived.Kind)
}

func TestActionIDExtractionOrder(t *testing.T) {
	r := Classify(`{"action_id":"top"}`)
	require.Equal(t, "top", r.Observed.ActionID)

	r = Classify(`{"content":{"task_id":"c1"}}`)
	require.Equal(t, "c1", r.Observed.ActionID)

	r = Classify(`{"meta":{"action_id":"m1"}}`)
	require.Equal(t, "m1", r.Observed.ActionID)
}

func TestFingerprintUsesActionIDWhenPresent(t *testing.T) {
	r := Classify(`{"event_type":"NewInboxMessage","action_id":"abc"}`)
	require.Equal(t, "abc", Fingerprint(r))
}

func TestFingerprintBypassesForScribeResult(t *testing.T) {
	r := Classify(`{"event_type":"ScribeResult","action_id":"abc"}`)
	fp1 := Fingerprint(r)
	fp2 := Fingerprint(r)
	require.NotEqual(t, fp1, fp2, "scribe results must mint a fresh fingerprint each time")
}

func TestFingerprintBypassesForMaintenance(t *testing.T) {
	r := Classify(`{"event_type":"NewInboxMessage","meta":{"source_tier_1":"log-1.jsonl"}}`)
	fp1 := Fingerprint(r)
	fp2 := Fingerprint(r)
	require.NotEqual(t, fp1, fp2)
}

func TestFingerprintStableForIdenticalContent(t *testing.T) {
	r := Classify(`{"event_type":"NewChatMessage","content":"hello"}`)
	require.Equal(t, Fingerprint(r), Fingerprint(r))
}

func TestDeduperDropsWithinTTL(t *testing.T) {
	d := NewDeduper(90 * time.Second)
	now := time.Now()
	require.True(t, d.Admit("fp1", now))
	require.False(t, d.Admit("fp1", now.Add(10*time.Second)))
	require.True(t, d.Admit("fp1", now.Add(100*time.Second)))
}

func TestWALAppendsOneLinePerPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "inbox_dump.jsonl")
	w, err := OpenWAL(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(`{"a":1}`, time.Now()))
	require.NoError(t, w.Append(`{"a":2}`, time.Now()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	require.Len(t, lines, 2)
}

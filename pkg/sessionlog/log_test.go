package sessionlog

import (
	"os"
	"strings"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := NewLog(t.TempDir())
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	return l
}

func TestAppendAndReadEvents_PreservesOrder(t *testing.T) {
	l := newTestLog(t)
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	sid := "sess-1"

	if err := l.Append(NewSessionOpen(sid, "cli:default", at)); err != nil {
		t.Fatalf("append open: %v", err)
	}
	if err := l.Append(NewUserMessage(sid, "first", 5, at.Add(time.Minute))); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := l.Append(NewAssistantMessage(sid, "second", 7, at.Add(2*time.Minute))); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	events, err := ReadEvents(l.Path(sid))
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	wantKinds := []EventType{TypeSessionOpen, TypeUserMessage, TypeAssistantMessage}
	for i, ev := range events {
		if ev.Kind() != wantKinds[i] {
			t.Errorf("event %d kind = %s, want %s", i, ev.Kind(), wantKinds[i])
		}
	}
}

func TestReadEvents_MissingOrEmptyFile(t *testing.T) {
	l := newTestLog(t)

	events, err := ReadEvents(l.Path("never-opened"))
	if err != nil || events != nil {
		t.Fatalf("missing file: got (%v, %v), want (nil, nil)", events, err)
	}

	empty := l.Path("empty")
	if err := os.WriteFile(empty, []byte("\n\n"), 0o644); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	events, err = ReadEvents(empty)
	if err != nil || events != nil {
		t.Fatalf("empty file: got (%v, %v), want (nil, nil)", events, err)
	}
}

func TestReadEvents_SkipsCorruptLines(t *testing.T) {
	l := newTestLog(t)
	at := time.Now().UTC()
	sid := "sess-2"

	if err := l.Append(NewUserMessage(sid, "ok before", 1, at)); err != nil {
		t.Fatalf("append: %v", err)
	}
	f, err := os.OpenFile(l.Path(sid), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{truncated garbage\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()
	if err := l.Append(NewUserMessage(sid, "ok after", 1, at.Add(time.Second))); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := ReadEvents(l.Path(sid))
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (corrupt line skipped)", len(events))
	}
}

func TestReadEvents_AbortsOnUnknownVersion(t *testing.T) {
	l := newTestLog(t)
	path := l.Path("future")
	line := `{"v":9,"ts":"2024-05-10T12:00:00Z","type":"user_message","sessionId":"future","content":"x"}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ReadEvents(path); err == nil {
		t.Fatal("expected error for unknown schema version")
	}
}

func TestAppend_SpillsOversizedToolOutput(t *testing.T) {
	l := newTestLog(t)
	sid := "sess-3"
	big := strings.Repeat("z", MaxInlineToolOutput+1)

	tr := NewToolResult(sid, "call-9", "fetch", big, false, time.Now())
	if err := l.Append(tr); err != nil {
		t.Fatalf("append: %v", err)
	}
	if tr.Output != "" {
		t.Fatal("oversized output kept inline")
	}
	if tr.OutputRef == "" {
		t.Fatal("no side file reference recorded")
	}

	got, err := l.ReadToolOutput(tr.OutputRef)
	if err != nil {
		t.Fatalf("read tool output: %v", err)
	}
	if got != big {
		t.Fatalf("side file content mismatch: %d bytes, want %d", len(got), len(big))
	}

	// The persisted record must round trip with the reference, not the payload.
	events, err := ReadEvents(l.Path(sid))
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	back, ok := events[0].(*ToolResult)
	if !ok {
		t.Fatalf("unexpected event %T", events[0])
	}
	if back.Output != "" || back.OutputRef != tr.OutputRef {
		t.Fatalf("persisted record wrong: output=%q ref=%q", back.Output, back.OutputRef)
	}
}

func TestAppend_KeepsSmallToolOutputInline(t *testing.T) {
	l := newTestLog(t)
	tr := NewToolResult("sess-4", "call-1", "fetch", "small payload", false, time.Now())
	if err := l.Append(tr); err != nil {
		t.Fatalf("append: %v", err)
	}
	if tr.OutputRef != "" || tr.Output != "small payload" {
		t.Fatalf("small output should stay inline: %+v", tr)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"plain-id_1.2":    "plain-id_1.2",
		"dir/../escape":   "dir-..-escape",
		"spaces and:such": "spaces-and-such",
		"":                "unnamed",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dotsetgreg/sessiond/pkg/config"
	"github.com/dotsetgreg/sessiond/pkg/rotation"
)

func newTestManager(t *testing.T, workspace string, clk clock.Clock) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.Workspace = workspace
	mgr, err := NewManager(cfg, clk, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func newTestClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC))
	return mock
}

func TestHandleUserMessage_SteadyConversationStaysPut(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestManager(t, t.TempDir(), mock)
	client := "cli:alice"

	exchanges := []struct{ user, assistant string }{
		{"planning the garden layout for spring", "raised beds work well along the fence"},
		{"the garden layout should keep tomatoes in full sun", "south side of the garden gets the most light"},
		{"how many tomato plants fit the garden layout beds", "six plants per bed at proper spacing"},
	}

	var sessionID string
	for i, ex := range exchanges {
		outcome, err := mgr.HandleUserMessage(ctx, client, ex.user, len(ex.user)/4, 40)
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if outcome.Rotated {
			t.Fatalf("turn %d rotated unexpectedly (%s)", i, outcome.Reason)
		}
		if sessionID == "" {
			sessionID = outcome.SessionID
		} else if outcome.SessionID != sessionID {
			t.Fatalf("turn %d switched session %s -> %s", i, sessionID, outcome.SessionID)
		}
		if err := mgr.RecordAssistantMessage(ctx, client, ex.assistant, len(ex.assistant)/4); err != nil {
			t.Fatalf("assistant %d: %v", i, err)
		}
		mock.Add(10 * time.Minute)
	}

	sess, err := mgr.ActiveSession(client)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if sess.UserTurnCount != 3 || sess.AssistantTurnCount != 3 {
		t.Fatalf("turn counts = %d/%d, want 3/3", sess.UserTurnCount, sess.AssistantTurnCount)
	}
}

func TestHandleUserMessage_ContextOverflowRotates(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestManager(t, t.TempDir(), mock)
	client := "cli:alice"

	first, err := mgr.HandleUserMessage(ctx, client, "walk me through the deployment runbook", 10, 40)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := mgr.RecordAssistantMessage(ctx, client, "start with the staging cluster checks", 10); err != nil {
		t.Fatalf("assistant: %v", err)
	}
	mock.Add(5 * time.Minute)

	outcome, err := mgr.HandleUserMessage(ctx, client, "and the staging cluster rollback steps", 10, 96)
	if err != nil {
		t.Fatalf("overflow turn: %v", err)
	}
	if !outcome.Rotated || outcome.Reason != rotation.ReasonContextOverflow {
		t.Fatalf("expected context_overflow rotation, got %+v", outcome)
	}
	if outcome.SessionID == first.SessionID {
		t.Fatal("rotation did not open a new session")
	}
	if n := len([]rune(outcome.Handoff)); n == 0 || n > 1000 {
		t.Fatalf("handoff length %d out of bounds", n)
	}
	if !strings.Contains(outcome.Handoff, "96%") {
		t.Fatalf("handoff missing usage percentage: %q", outcome.Handoff)
	}
	if !strings.Contains(outcome.Handoff, "deployment runbook") {
		t.Fatalf("handoff missing recent conversation: %q", outcome.Handoff)
	}
	if outcome.PreviousSummary != outcome.Handoff {
		t.Fatal("previous-summary marker should carry the handoff")
	}

	// The triggering message lands in the successor session.
	sess, err := mgr.ActiveSession(client)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if sess.ID != outcome.SessionID || sess.UserTurnCount != 1 {
		t.Fatalf("successor projection wrong: id=%s turns=%d", sess.ID, sess.UserTurnCount)
	}
}

func TestManager_ResumesFromLogAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	mock := newTestClock()
	client := "cli:alice"

	mgr1 := newTestManager(t, ws, mock)
	outcome, err := mgr1.HandleUserMessage(ctx, client, "remember the garden plan", 5, 10)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := mgr1.RecordAssistantMessage(ctx, client, "noted", 1); err != nil {
		t.Fatalf("assistant: %v", err)
	}

	// Fresh manager over the same workspace: marker plus log replay.
	mgr2 := newTestManager(t, ws, mock)
	sess, err := mgr2.ActiveSession(client)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if sess == nil {
		t.Fatal("restart lost the active session")
	}
	if sess.ID != outcome.SessionID {
		t.Fatalf("resumed session %s, want %s", sess.ID, outcome.SessionID)
	}
	if sess.ClientID != client || sess.UserTurnCount != 1 || sess.AssistantTurnCount != 1 {
		t.Fatalf("resumed projection wrong: %+v", sess)
	}

	turns, _, err := mgr2.PromptInputs(client, 0)
	if err != nil {
		t.Fatalf("prompt inputs: %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "remember the garden plan" {
		t.Fatalf("prompt turns = %+v", turns)
	}
}

func TestApplyDirective_ModelRotation(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestManager(t, t.TempDir(), mock)
	client := "cli:alice"

	first, err := mgr.HandleUserMessage(ctx, client, "let's switch projects", 5, 30)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}

	rotated, err := mgr.ApplyDirective(ctx, client, Directive{
		RotateSession:  true,
		Reason:         "user moved on",
		HandoffSummary: "garden planning wrapped up",
	})
	if err != nil {
		t.Fatalf("apply directive: %v", err)
	}
	if !rotated {
		t.Fatal("directive did not rotate")
	}

	sess, err := mgr.ActiveSession(client)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if sess.ID == first.SessionID {
		t.Fatal("directive kept the old session")
	}

	_, summary, err := mgr.PromptInputs(client, 0)
	if err != nil {
		t.Fatalf("prompt inputs: %v", err)
	}
	if summary != "garden planning wrapped up" {
		t.Fatalf("summary = %q, want the model handoff", summary)
	}
}

func TestApplyDirective_NoOpWithoutRotateFlag(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, t.TempDir(), newTestClock())
	client := "cli:alice"

	if _, err := mgr.HandleUserMessage(ctx, client, "hello world planning", 5, 10); err != nil {
		t.Fatalf("turn: %v", err)
	}
	rotated, err := mgr.ApplyDirective(ctx, client, Directive{RotateSession: false})
	if err != nil || rotated {
		t.Fatalf("got (%v, %v), want (false, nil)", rotated, err)
	}
}

func TestRecord_RequiresActiveSession(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, t.TempDir(), newTestClock())

	if err := mgr.RecordAssistantMessage(ctx, "cli:nobody", "orphan reply", 2); err == nil {
		t.Fatal("expected error without an active session")
	}
}

func TestTeardown_ClearsMarkers(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	mock := newTestClock()
	mgr := newTestManager(t, ws, mock)
	client := "cli:alice"

	outcome, err := mgr.HandleUserMessage(ctx, client, "short lived session", 4, 10)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := mgr.Teardown(ctx, client); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	sess, err := mgr.ActiveSession(client)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if sess != nil {
		t.Fatalf("session survived teardown: %s", sess.ID)
	}

	// The durable log is kept; a later replay can still audit the session.
	replayed, err := ReplayFile(mgr.Log().Path(outcome.SessionID))
	if err != nil {
		t.Fatalf("replay after teardown: %v", err)
	}
	if replayed == nil || replayed.UserTurnCount != 1 {
		t.Fatalf("log lost after teardown: %+v", replayed)
	}
}

func TestHandleUserMessage_ToolTrafficRecorded(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestManager(t, t.TempDir(), mock)
	client := "cli:alice"

	if _, err := mgr.HandleUserMessage(ctx, client, "check the weather please", 5, 10); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := mgr.RecordAgentStep(ctx, client, "tool_selection", "weather lookup"); err != nil {
		t.Fatalf("agent step: %v", err)
	}
	if err := mgr.RecordToolCall(ctx, client, "call-1", "weather", map[string]interface{}{"city": "Oslo"}); err != nil {
		t.Fatalf("tool call: %v", err)
	}
	if err := mgr.RecordToolResult(ctx, client, "call-1", "weather", "overcast, 12C", false); err != nil {
		t.Fatalf("tool result: %v", err)
	}
	if err := mgr.RecordFeedback(ctx, client, "up", ""); err != nil {
		t.Fatalf("feedback: %v", err)
	}

	sess, err := mgr.ActiveSession(client)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	tools := sess.ToolEvents()
	if len(tools) != 1 || tools[0].Result == nil || tools[0].Result.Output != "overcast, 12C" {
		t.Fatalf("tool join wrong: %+v", tools)
	}
	if args := sess.FindToolCallArgs("call-1"); args["city"] != "Oslo" {
		t.Fatalf("args = %v", args)
	}
}

package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dotsetgreg/sessiond/pkg/catalog"
	"github.com/dotsetgreg/sessiond/pkg/config"
	"github.com/dotsetgreg/sessiond/pkg/logger"
	"github.com/dotsetgreg/sessiond/pkg/pressure"
	"github.com/dotsetgreg/sessiond/pkg/rotation"
	"github.com/dotsetgreg/sessiond/pkg/sessionlog"
)

// Manager owns the session lifecycle for all clients of one process: durable
// append, projection upkeep, tier refresh, rotation decisions, and the
// per-client marker files. All activity for one client is serialized; clients
// are independent of each other.
type Manager struct {
	cfg       *config.Config
	clk       clock.Clock
	log       *sessionlog.Log
	markers   *MarkerStore
	catalog   *catalog.Store
	evaluator *rotation.Evaluator

	mu      sync.Mutex
	clients *lru.Cache[string, *clientState]
}

// clientState is the live projection for one client. Evicted state is cheap
// to lose: the log and markers rebuild it on the next turn.
type clientState struct {
	mu      sync.Mutex
	session *Session
	tier    *rotation.TierState
	pending *rotation.PendingRollover
}

// TurnOutcome is what the chat loop gets back for each inbound user message.
type TurnOutcome struct {
	SessionID       string
	Rotated         bool
	Reason          rotation.Reason
	Handoff         string
	PreviousSummary string
	Tier            rotation.Tier
	Pressure        pressure.Signal
}

// Directive is a model-proposed rotation, an alternative trigger path next to
// the deterministic evaluator.
type Directive struct {
	RotateSession  bool   `json:"rotate_session"`
	Reason         string `json:"reason"`
	HandoffSummary string `json:"handoff_summary"`
}

func NewManager(cfg *config.Config, clk clock.Clock, catalogStore *catalog.Store) (*Manager, error) {
	ws := cfg.WorkspacePath()
	log, err := sessionlog.NewLog(filepath.Join(ws, "state", "sessions"))
	if err != nil {
		return nil, err
	}
	markers, err := NewMarkerStore(filepath.Join(ws, "state", "markers"))
	if err != nil {
		return nil, err
	}
	evaluator, err := rotation.NewEvaluator(cfg.Rotation)
	if err != nil {
		return nil, err
	}
	cacheLen := cfg.Engine.SessionCacheLen
	if cacheLen <= 0 {
		cacheLen = 256
	}
	clients, err := lru.New[string, *clientState](cacheLen)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:       cfg,
		clk:       clk,
		log:       log,
		markers:   markers,
		catalog:   catalogStore,
		evaluator: evaluator,
		clients:   clients,
	}, nil
}

// Log exposes the underlying event log (side-file resolution, CLI replay).
func (m *Manager) Log() *sessionlog.Log { return m.log }

// HandleUserMessage runs the full inbound-turn sequence: rotation decision
// against the current session, durable append, projection update, tier
// refresh, pressure signal. The decision runs before the append, so a
// rotating message lands in the new session.
func (m *Manager) HandleUserMessage(ctx context.Context, clientID, text string, tokens int, usagePercent float64) (TurnOutcome, error) {
	state, err := m.clientState(clientID)
	if err != nil {
		return TurnOutcome{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	now := m.clk.Now()
	outcome := TurnOutcome{}

	if state.session == nil {
		if err := m.openLocked(ctx, state, clientID); err != nil {
			return TurnOutcome{}, err
		}
	} else {
		recent := state.session.Events([]sessionlog.EventType{sessionlog.TypeUserMessage}, 5)
		recentTexts := make([]string, 0, len(recent))
		for _, ev := range recent {
			if um, ok := ev.(*sessionlog.UserMessage); ok {
				recentTexts = append(recentTexts, um.Content)
			}
		}
		dec := m.evaluator.Evaluate(rotation.Input{
			Now:             now,
			SessionStart:    state.session.StartedAt,
			LastActivity:    state.session.LastActivityAt,
			UsagePercent:    usagePercent,
			Message:         text,
			RecentUserTexts: recentTexts,
			Tier:            state.tier,
			Pending:         state.pending,
		})
		if dec.Rotate {
			handoff, err := m.rotateLocked(ctx, state, clientID, dec.Reason, usagePercent, "")
			if err != nil {
				return TurnOutcome{}, err
			}
			outcome.Rotated = true
			outcome.Reason = dec.Reason
			outcome.Handoff = handoff
		} else if err := m.setPendingLocked(state, clientID, dec.Pending); err != nil {
			return TurnOutcome{}, err
		}
	}

	ev := sessionlog.NewUserMessage(state.session.ID, text, tokens, now)
	if err := m.appendLocked(state, ev); err != nil {
		return TurnOutcome{}, err
	}
	m.refreshTierLocked(state, now)

	prevSummary, err := m.markers.PreviousSummary(clientID)
	if err != nil {
		return TurnOutcome{}, err
	}

	outcome.SessionID = state.session.ID
	outcome.PreviousSummary = prevSummary
	outcome.Tier = state.tier.Tier
	outcome.Pressure = pressure.Evaluate(usagePercent)
	return outcome, nil
}

// ApplyDirective honors a model-proposed rotation. A non-empty handoff
// summary from the model replaces the deterministic one.
func (m *Manager) ApplyDirective(ctx context.Context, clientID string, d Directive) (bool, error) {
	if !d.RotateSession {
		return false, nil
	}
	state, err := m.clientState(clientID)
	if err != nil {
		return false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.session == nil {
		return false, nil
	}
	reason := rotation.ReasonModelDirective
	logger.InfoCF("session", "Model-directed rotation", map[string]interface{}{
		"client": clientID,
		"reason": d.Reason,
	})
	if _, err := m.rotateLocked(ctx, state, clientID, reason, 0, d.HandoffSummary); err != nil {
		return false, err
	}
	return true, nil
}

// RecordAssistantMessage appends the assistant's reply for the turn.
func (m *Manager) RecordAssistantMessage(ctx context.Context, clientID, text string, tokens int) error {
	return m.record(clientID, func(state *clientState) (sessionlog.Event, bool) {
		return sessionlog.NewAssistantMessage(state.session.ID, text, tokens, m.clk.Now()), true
	})
}

// RecordToolCall appends a tool invocation.
func (m *Manager) RecordToolCall(ctx context.Context, clientID, callID, tool string, args map[string]interface{}) error {
	return m.record(clientID, func(state *clientState) (sessionlog.Event, bool) {
		return sessionlog.NewToolCall(state.session.ID, callID, tool, args, m.clk.Now()), true
	})
}

// RecordToolResult appends a tool outcome; oversized output spills to a side
// file inside the log append.
func (m *Manager) RecordToolResult(ctx context.Context, clientID, callID, tool, output string, isError bool) error {
	return m.record(clientID, func(state *clientState) (sessionlog.Event, bool) {
		return sessionlog.NewToolResult(state.session.ID, callID, tool, output, isError, m.clk.Now()), true
	})
}

// RecordAgentStep appends an agent-loop transition.
func (m *Manager) RecordAgentStep(ctx context.Context, clientID, step, detail string) error {
	return m.record(clientID, func(state *clientState) (sessionlog.Event, bool) {
		return sessionlog.NewAgentStep(state.session.ID, step, detail, m.clk.Now()), false
	})
}

// RecordRunFailure appends a failed-run marker.
func (m *Manager) RecordRunFailure(ctx context.Context, clientID, errText string) error {
	return m.record(clientID, func(state *clientState) (sessionlog.Event, bool) {
		return sessionlog.NewRunFailure(state.session.ID, errText, m.clk.Now()), false
	})
}

// RecordFeedback appends user feedback on an assistant message.
func (m *Manager) RecordFeedback(ctx context.Context, clientID, rating, comment string) error {
	return m.record(clientID, func(state *clientState) (sessionlog.Event, bool) {
		return sessionlog.NewAssistantFeedback(state.session.ID, rating, comment, m.clk.Now()), false
	})
}

func (m *Manager) record(clientID string, build func(*clientState) (sessionlog.Event, bool)) error {
	state, err := m.clientState(clientID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.session == nil {
		return fmt.Errorf("no active session for client %q", clientID)
	}
	ev, affectsTier := build(state)
	if err := m.appendLocked(state, ev); err != nil {
		return err
	}
	if affectsTier {
		m.refreshTierLocked(state, m.clk.Now())
	}
	return nil
}

// PromptInputs returns what prompt assembly consumes: the recent conversation
// turns and the previous-session summary.
func (m *Manager) PromptInputs(clientID string, lastN int) ([]Turn, string, error) {
	state, err := m.clientState(clientID)
	if err != nil {
		return nil, "", err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	summary, err := m.markers.PreviousSummary(clientID)
	if err != nil {
		return nil, "", err
	}
	if state.session == nil {
		return nil, summary, nil
	}
	return state.session.Turns(lastN), summary, nil
}

// ActiveSession returns the live projection, nil when the client has none.
func (m *Manager) ActiveSession(clientID string) (*Session, error) {
	state, err := m.clientState(clientID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.session, nil
}

// Teardown closes the client's session and clears every marker. The event
// log itself is kept.
func (m *Manager) Teardown(ctx context.Context, clientID string) error {
	state, err := m.clientState(clientID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.session != nil {
		m.recordClose(ctx, state, clientID, "teardown", "")
		state.session = nil
	}
	if err := m.markers.ClearActiveSession(clientID); err != nil {
		return err
	}
	if err := m.markers.SetPendingRollover(clientID, nil); err != nil {
		return err
	}
	if err := m.markers.ClearPreviousSummary(clientID); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients.Remove(clientID)
	m.mu.Unlock()
	return nil
}

// clientState loads or resumes per-client state. Resume reads the marker and
// replays the durable log; in-memory state is never trusted across restarts.
func (m *Manager) clientState(clientID string) (*clientState, error) {
	m.mu.Lock()
	if state, ok := m.clients.Get(clientID); ok {
		m.mu.Unlock()
		return state, nil
	}
	m.mu.Unlock()

	sessionID, err := m.markers.ActiveSession(clientID)
	if err != nil {
		return nil, err
	}
	state := &clientState{tier: rotation.NewTierState()}
	if sessionID != "" {
		sess, err := ReplayFile(m.log.Path(sessionID))
		if err != nil {
			return nil, err
		}
		if sess != nil {
			if sess.ClientID == "" {
				sess.ClientID = clientID
			}
			state.session = sess
			logger.InfoCF("session", "Resumed session from log", map[string]interface{}{
				"client":  clientID,
				"session": sess.ID,
				"events":  len(sess.Timeline),
			})
		}
	}
	pending, err := m.markers.PendingRollover(clientID)
	if err != nil {
		return nil, err
	}
	state.pending = pending

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have resumed this client concurrently; keep the
	// first one so the per-client writer stays single.
	if existing, ok := m.clients.Get(clientID); ok {
		return existing, nil
	}
	m.clients.Add(clientID, state)
	return state, nil
}

// appendLocked makes the event durable before the projection sees it.
func (m *Manager) appendLocked(state *clientState, ev sessionlog.Event) error {
	if err := m.log.Append(ev); err != nil {
		return err
	}
	state.session.AddEntry(ev)
	return nil
}

func (m *Manager) refreshTierLocked(state *clientState, now time.Time) {
	score := rotation.ComputeActivityScore(state.session.Timeline, now)
	desired := rotation.ScoreToTier(score)
	if state.tier.Refresh(desired) {
		logger.DebugCF("session", "Tier change committed", map[string]interface{}{
			"session": state.session.ID,
			"tier":    state.tier.Tier,
			"score":   score,
		})
	}
}

func (m *Manager) openLocked(ctx context.Context, state *clientState, clientID string) error {
	now := m.clk.Now()
	id := uuid.NewString()
	sess := NewSession(id, clientID, now)

	open := sessionlog.NewSessionOpen(id, clientID, now)
	if err := m.log.Append(open); err != nil {
		return err
	}
	sess.AddEntry(open)
	if err := m.markers.SetActiveSession(clientID, id); err != nil {
		return err
	}
	if m.catalog != nil {
		if err := m.catalog.RecordOpen(ctx, id, clientID, now.UnixMilli()); err != nil {
			return err
		}
	}

	state.session = sess
	state.tier = rotation.NewTierState()
	logger.InfoCF("session", "Opened session", map[string]interface{}{
		"client":  clientID,
		"session": id,
	})
	return nil
}

// rotateLocked closes the current session and opens its successor, producing
// the handoff summary the successor starts from.
func (m *Manager) rotateLocked(ctx context.Context, state *clientState, clientID string, reason rotation.Reason, usagePercent float64, modelHandoff string) (string, error) {
	old := state.session

	handoff := modelHandoff
	if handoff == "" {
		prevSummary, err := m.markers.PreviousSummary(clientID)
		if err != nil {
			return "", err
		}
		turns := old.Turns(5)
		pturns := make([]pressure.Turn, 0, len(turns))
		for _, t := range turns {
			pturns = append(pturns, pressure.Turn{Role: t.Role, Content: t.Content})
		}
		handoff = pressure.BuildAutoRotateHandoff(usagePercent, pturns, prevSummary)
	}

	m.recordClose(ctx, state, clientID, string(reason), handoff)
	if err := m.markers.SetPreviousSummary(clientID, handoff); err != nil {
		return "", err
	}
	if err := m.setPendingLocked(state, clientID, nil); err != nil {
		return "", err
	}

	if err := m.openLocked(ctx, state, clientID); err != nil {
		return "", err
	}
	logger.InfoCF("session", "Rotated session", map[string]interface{}{
		"client":  clientID,
		"from":    old.ID,
		"to":      state.session.ID,
		"reason":  string(reason),
		"usage":   usagePercent,
		"handoff": len(handoff),
	})
	return handoff, nil
}

func (m *Manager) recordClose(ctx context.Context, state *clientState, clientID, reason, summary string) {
	if m.catalog == nil || state.session == nil {
		return
	}
	old := state.session
	err := m.catalog.RecordClose(ctx, catalog.SessionRecord{
		ID:             old.ID,
		ClientID:       clientID,
		StartedAtMS:    old.StartedAt.UnixMilli(),
		EndedAtMS:      m.clk.Now().UnixMilli(),
		Reason:         reason,
		UserTurns:      old.UserTurnCount,
		AssistantTurns: old.AssistantTurnCount,
		Tier:           string(state.tier.Tier),
		Summary:        summary,
	})
	if err != nil {
		// Catalog rows are derived bookkeeping; the log already has the truth.
		logger.WarnCF("session", "Failed to record session close", map[string]interface{}{
			"session": old.ID,
			"err":     err.Error(),
		})
	}
	_ = m.catalog.AddMetric(ctx, "session.closed", 1, map[string]string{"reason": reason}, m.clk.Now().UnixMilli())
}

func (m *Manager) setPendingLocked(state *clientState, clientID string, pending *rotation.PendingRollover) error {
	if pending == nil && state.pending == nil {
		return nil
	}
	state.pending = pending
	return m.markers.SetPendingRollover(clientID, pending)
}

package session

import (
	"time"

	"github.com/samber/lo"

	"github.com/dotsetgreg/sessiond/pkg/sessionlog"
)

// Session is the in-memory projection of one session's event stream. It is
// rebuilt from the durable log on restart and is never authoritative on its
// own: AddEntry is called only after the append has been made durable.
type Session struct {
	ID             string
	ClientID       string
	StartedAt      time.Time
	LastActivityAt time.Time

	Timeline []sessionlog.Event

	UserTurnCount      int
	AssistantTurnCount int

	// callIndex maps tool call ids to timeline positions so result joins do
	// not rescan the timeline as sessions grow.
	callIndex map[string]int
}

func NewSession(id, clientID string, at time.Time) *Session {
	return &Session{
		ID:             id,
		ClientID:       clientID,
		StartedAt:      at,
		LastActivityAt: at,
		callIndex:      map[string]int{},
	}
}

// AddEntry appends an event and advances derived state. LastActivityAt never
// goes backwards even if an event carries an older timestamp.
func (s *Session) AddEntry(ev sessionlog.Event) {
	s.Timeline = append(s.Timeline, ev)
	if ev.Time().After(s.LastActivityAt) {
		s.LastActivityAt = ev.Time()
	}

	switch v := ev.(type) {
	case *sessionlog.UserMessage:
		s.UserTurnCount++
	case *sessionlog.AssistantMessage:
		s.AssistantTurnCount++
	case *sessionlog.ToolCall:
		if s.callIndex == nil {
			s.callIndex = map[string]int{}
		}
		s.callIndex[v.CallID] = len(s.Timeline) - 1
	}
}

// ExchangeCount is the number of completed user/assistant exchanges.
func (s *Session) ExchangeCount() int {
	if s.UserTurnCount < s.AssistantTurnCount {
		return s.UserTurnCount
	}
	return s.AssistantTurnCount
}

// Age reports how long the session has been open.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// IdleFor reports how long since the last recorded activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// Events returns the timeline filtered to the given kinds (all kinds when
// empty), keeping only the last N entries when lastN > 0. Filtering happens
// before the last-N cut.
func (s *Session) Events(kinds []sessionlog.EventType, lastN int) []sessionlog.Event {
	filtered := s.Timeline
	if len(kinds) > 0 {
		want := map[sessionlog.EventType]struct{}{}
		for _, k := range kinds {
			want[k] = struct{}{}
		}
		filtered = lo.Filter(s.Timeline, func(ev sessionlog.Event, _ int) bool {
			_, ok := want[ev.Kind()]
			return ok
		})
	}
	if lastN > 0 && len(filtered) > lastN {
		filtered = filtered[len(filtered)-lastN:]
	}
	out := make([]sessionlog.Event, len(filtered))
	copy(out, filtered)
	return out
}

// Turn is one conversational message, the shape handed to prompt assembly.
type Turn struct {
	Role    string
	Content string
}

// Turns projects user and assistant messages in order, keeping the last N
// when lastN > 0.
func (s *Session) Turns(lastN int) []Turn {
	events := s.Events([]sessionlog.EventType{sessionlog.TypeUserMessage, sessionlog.TypeAssistantMessage}, lastN)
	turns := make([]Turn, 0, len(events))
	for _, ev := range events {
		switch v := ev.(type) {
		case *sessionlog.UserMessage:
			turns = append(turns, Turn{Role: "user", Content: v.Content})
		case *sessionlog.AssistantMessage:
			turns = append(turns, Turn{Role: "assistant", Content: v.Content})
		}
	}
	return turns
}

// ToolEvent joins a tool call with its result, when one arrived.
type ToolEvent struct {
	Call   *sessionlog.ToolCall
	Result *sessionlog.ToolResult
}

// ToolEvents returns all tool calls in order with their correlated results.
func (s *Session) ToolEvents() []ToolEvent {
	byCall := map[string]*ToolEvent{}
	var out []ToolEvent
	for _, ev := range s.Timeline {
		switch v := ev.(type) {
		case *sessionlog.ToolCall:
			out = append(out, ToolEvent{Call: v})
			byCall[v.CallID] = &out[len(out)-1]
		case *sessionlog.ToolResult:
			if te, ok := byCall[v.CallID]; ok {
				te.Result = v
			}
			// Orphan results (crash between call and result on a prior run)
			// are tolerated and simply not joined.
		}
	}
	return out
}

// FindToolCallArgs resolves the arguments of a tool call by id. Unknown ids
// return an empty map so orphaned results still render.
func (s *Session) FindToolCallArgs(callID string) map[string]interface{} {
	if pos, ok := s.callIndex[callID]; ok && pos < len(s.Timeline) {
		if call, ok := s.Timeline[pos].(*sessionlog.ToolCall); ok && call.Args != nil {
			return call.Args
		}
	}
	return map[string]interface{}{}
}

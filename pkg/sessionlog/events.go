package sessionlog

import "time"

// SchemaVersion is the wire version stamped on every event record. A reader
// seeing any other value must refuse the record with ErrUnknownVersion.
const SchemaVersion = 1

type EventType string

const (
	TypeSessionOpen       EventType = "session_open"
	TypeUserMessage       EventType = "user_message"
	TypeAssistantMessage  EventType = "assistant_message"
	TypeToolCall          EventType = "tool_call"
	TypeToolResult        EventType = "tool_result"
	TypeRunFailure        EventType = "run_failure"
	TypeAgentStep         EventType = "agent_step"
	TypeAssistantFeedback EventType = "assistant_feedback"
)

// Event is the closed union of session record kinds. New kinds are added by
// declaring a variant struct here and extending the two switches in codec.go.
type Event interface {
	Kind() EventType
	Session() string
	Time() time.Time
}

// Header carries the envelope fields shared by every record:
// {v, ts, type, sessionId}.
type Header struct {
	V         int       `json:"v"`
	TS        time.Time `json:"ts"`
	EventType EventType `json:"type"`
	SessionID string    `json:"sessionId"`
}

func (h Header) Kind() EventType { return h.EventType }
func (h Header) Session() string { return h.SessionID }
func (h Header) Time() time.Time { return h.TS }

func newHeader(kind EventType, sessionID string, at time.Time) Header {
	return Header{V: SchemaVersion, TS: at.UTC(), EventType: kind, SessionID: sessionID}
}

// SessionOpen marks the start of a session's stream. When present it is the
// first record in the file.
type SessionOpen struct {
	Header
	ClientID string `json:"clientId"`
}

func NewSessionOpen(sessionID, clientID string, at time.Time) *SessionOpen {
	return &SessionOpen{Header: newHeader(TypeSessionOpen, sessionID, at), ClientID: clientID}
}

type UserMessage struct {
	Header
	Content string `json:"content"`
	Tokens  int    `json:"tokens,omitempty"`
}

func NewUserMessage(sessionID, content string, tokens int, at time.Time) *UserMessage {
	return &UserMessage{Header: newHeader(TypeUserMessage, sessionID, at), Content: content, Tokens: tokens}
}

type AssistantMessage struct {
	Header
	Content string `json:"content"`
	Tokens  int    `json:"tokens,omitempty"`
}

func NewAssistantMessage(sessionID, content string, tokens int, at time.Time) *AssistantMessage {
	return &AssistantMessage{Header: newHeader(TypeAssistantMessage, sessionID, at), Content: content, Tokens: tokens}
}

type ToolCall struct {
	Header
	CallID string                 `json:"callId"`
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

func NewToolCall(sessionID, callID, tool string, args map[string]interface{}, at time.Time) *ToolCall {
	return &ToolCall{Header: newHeader(TypeToolCall, sessionID, at), CallID: callID, Tool: tool, Args: args}
}

// ToolResult correlates back to its ToolCall by CallID. Output holds the tool
// output inline; OutputRef replaces it when the output was spilled to a side
// file (see Log.Append).
type ToolResult struct {
	Header
	CallID    string `json:"callId"`
	Tool      string `json:"tool"`
	Output    string `json:"output,omitempty"`
	OutputRef string `json:"outputRef,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

func NewToolResult(sessionID, callID, tool, output string, isError bool, at time.Time) *ToolResult {
	return &ToolResult{Header: newHeader(TypeToolResult, sessionID, at), CallID: callID, Tool: tool, Output: output, IsError: isError}
}

type RunFailure struct {
	Header
	Error string `json:"error"`
}

func NewRunFailure(sessionID, errText string, at time.Time) *RunFailure {
	return &RunFailure{Header: newHeader(TypeRunFailure, sessionID, at), Error: errText}
}

// AgentStep records an agent-loop transition (planning, tool selection,
// handback) for later inspection.
type AgentStep struct {
	Header
	Step   string `json:"step"`
	Detail string `json:"detail,omitempty"`
}

func NewAgentStep(sessionID, step, detail string, at time.Time) *AgentStep {
	return &AgentStep{Header: newHeader(TypeAgentStep, sessionID, at), Step: step, Detail: detail}
}

type AssistantFeedback struct {
	Header
	Rating  string `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

func NewAssistantFeedback(sessionID, rating, comment string, at time.Time) *AssistantFeedback {
	return &AssistantFeedback{Header: newHeader(TypeAssistantFeedback, sessionID, at), Rating: rating, Comment: comment}
}

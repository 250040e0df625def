package sessionlog

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvent marks records that cannot be decoded at all.
	ErrMalformedEvent = errors.New("malformed event record")
	// ErrUnknownVersion marks records written by a schema this build does not
	// understand. Deliberately distinct from ErrMalformedEvent so callers can
	// refuse future logs instead of silently dropping them.
	ErrUnknownVersion = errors.New("unknown event schema version")
)

// MarshalEvent serializes an event to one log line (without trailing newline).
// The type switch is the single dispatch point for serialization; an event
// kind missing here is a programming error surfaced at runtime.
func MarshalEvent(ev Event) ([]byte, error) {
	switch v := ev.(type) {
	case *SessionOpen:
		v.V = SchemaVersion
	case *UserMessage:
		v.V = SchemaVersion
	case *AssistantMessage:
		v.V = SchemaVersion
	case *ToolCall:
		v.V = SchemaVersion
	case *ToolResult:
		v.V = SchemaVersion
	case *RunFailure:
		v.V = SchemaVersion
	case *AgentStep:
		v.V = SchemaVersion
	case *AssistantFeedback:
		v.V = SchemaVersion
	default:
		return nil, fmt.Errorf("marshal event: unsupported variant %T", ev)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	return data, nil
}

// UnmarshalEvent decodes one log line back into its concrete variant.
func UnmarshalEvent(line []byte) (Event, error) {
	var probe struct {
		V    int       `json:"v"`
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if probe.V != SchemaVersion {
		return nil, fmt.Errorf("%w: v=%d", ErrUnknownVersion, probe.V)
	}

	decode := func(ev Event) (Event, error) {
		if err := json.Unmarshal(line, ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, probe.Type, err)
		}
		return ev, nil
	}

	switch probe.Type {
	case TypeSessionOpen:
		return decode(&SessionOpen{})
	case TypeUserMessage:
		return decode(&UserMessage{})
	case TypeAssistantMessage:
		return decode(&AssistantMessage{})
	case TypeToolCall:
		return decode(&ToolCall{})
	case TypeToolResult:
		return decode(&ToolResult{})
	case TypeRunFailure:
		return decode(&RunFailure{})
	case TypeAgentStep:
		return decode(&AgentStep{})
	case TypeAssistantFeedback:
		return decode(&AssistantFeedback{})
	default:
		return nil, fmt.Errorf("%w: unrecognized type %q", ErrMalformedEvent, probe.Type)
	}
}

package sessionlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_AllKinds(t *testing.T) {
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	sid := "sess-1"

	events := []Event{
		NewSessionOpen(sid, "cli:default", at),
		NewUserMessage(sid, "hello there", 12, at),
		NewAssistantMessage(sid, "hi, how can I help", 20, at),
		NewToolCall(sid, "call-1", "search", map[string]interface{}{"q": "weather", "n": float64(3)}, at),
		NewToolResult(sid, "call-1", "search", "sunny", false, at),
		NewRunFailure(sid, "model timed out", at),
		NewAgentStep(sid, "tool_selection", "picked search", at),
		NewAssistantFeedback(sid, "up", "good answer", at),
	}

	for _, ev := range events {
		data, err := MarshalEvent(ev)
		require.NoError(t, err, "marshal %s", ev.Kind())

		back, err := UnmarshalEvent(data)
		require.NoError(t, err, "unmarshal %s", ev.Kind())

		assert.Equal(t, ev, back, "round trip %s", ev.Kind())
		assert.Equal(t, sid, back.Session())
		assert.True(t, back.Time().Equal(at), "timestamp drift on %s", ev.Kind())
	}
}

func TestMarshalEvent_StampsVersion(t *testing.T) {
	ev := NewUserMessage("s", "x", 0, time.Now())
	ev.V = 0 // simulate a hand-built event
	data, err := MarshalEvent(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"v":1`)
}

func TestUnmarshalEvent_UnknownVersion(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"v":2,"ts":"2024-05-10T12:00:00Z","type":"user_message","sessionId":"s","content":"x"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVersion)
	assert.NotErrorIs(t, err, ErrMalformedEvent)
}

func TestUnmarshalEvent_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"v":1,`,
		"unknown type": `{"v":1,"type":"quantum_leap","sessionId":"s"}`,
		"plain text":   `hello world`,
	}
	for name, line := range cases {
		_, err := UnmarshalEvent([]byte(line))
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrMalformedEvent, name)
	}
}

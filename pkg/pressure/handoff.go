package pressure

import (
	"fmt"
	"strings"
)

// Turn is one conversational message for handoff rendering.
type Turn struct {
	Role    string
	Content string
}

const (
	handoffMaxChars  = 1000
	handoffTurnChars = 200
	handoffTurnCount = 5
)

// BuildAutoRotateHandoff renders the deterministic emergency handoff used
// when rotation happens without a model-generated summary: the triggering
// percentage, the last five turns as "[role]: content" lines (each truncated
// to 200 chars), and optionally the previous session's summary. The whole
// result is capped at 1000 chars.
func BuildAutoRotateHandoff(usagePercent float64, turns []Turn, previousSummary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session rotated at %.0f%% context usage. Recent conversation:\n", usagePercent)

	if len(turns) > handoffTurnCount {
		turns = turns[len(turns)-handoffTurnCount:]
	}
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if runes := []rune(content); len(runes) > handoffTurnChars {
			content = string(runes[:handoffTurnChars]) + "..."
		}
		fmt.Fprintf(&b, "[%s]: %s\n", t.Role, content)
	}

	if s := strings.TrimSpace(previousSummary); s != "" {
		b.WriteString("Previous summary: ")
		b.WriteString(s)
	}

	out := strings.TrimSpace(b.String())
	if runes := []rune(out); len(runes) > handoffMaxChars {
		out = string(runes[:handoffMaxChars])
	}
	return out
}

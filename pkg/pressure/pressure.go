package pressure

// Band grades context-window usage severity.
type Band string

const (
	BandNone       Band = "none"
	BandInfo       Band = "info"
	BandWarning    Band = "warning"
	BandCritical   Band = "critical"
	BandAutoRotate Band = "auto_rotate"
)

// Signal is the per-turn pressure verdict: a band plus the fixed instruction
// injected into the model prompt. None carries no instruction.
type Signal struct {
	Band         Band
	UsagePercent float64
	Instruction  string
}

var bandInstructions = map[Band]string{
	BandInfo:       "Context usage is moderate. Prefer concise responses and avoid repeating earlier content.",
	BandWarning:    "Context usage is high. Keep responses brief, summarize instead of quoting, and avoid large tool outputs.",
	BandCritical:   "Context usage is critical. Respond minimally and wrap up open threads; the session will rotate soon.",
	BandAutoRotate: "Context limit reached. This session is rotating now; a handoff summary will carry into the next session.",
}

// Evaluate maps a usage percentage to its band. Boundaries are inclusive on
// the lower edge: 50 is info, 70 warning, 85 critical, 95 auto_rotate.
func Evaluate(usagePercent float64) Signal {
	band := BandNone
	switch {
	case usagePercent >= 95:
		band = BandAutoRotate
	case usagePercent >= 85:
		band = BandCritical
	case usagePercent >= 70:
		band = BandWarning
	case usagePercent >= 50:
		band = BandInfo
	}
	return Signal{
		Band:         band,
		UsagePercent: usagePercent,
		Instruction:  bandInstructions[band],
	}
}

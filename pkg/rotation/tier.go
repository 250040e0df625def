package rotation

import (
	"time"

	"github.com/dotsetgreg/sessiond/pkg/sessionlog"
)

// Tier classifies recent conversation activity. The tier picks the session's
// idle timeout and hard age cap: busy conversations get short sessions,
// sporadic ones get long-lived sessions.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
	TierRare   Tier = "rare"
)

// TierThresholds holds the per-tier session limits in minutes.
type TierThresholds struct {
	HardCapMinutes     int
	IdleTimeoutMinutes int
}

var tierTable = map[Tier]TierThresholds{
	TierHigh:   {HardCapMinutes: 180, IdleTimeoutMinutes: 20},
	TierMedium: {HardCapMinutes: 360, IdleTimeoutMinutes: 45},
	TierLow:    {HardCapMinutes: 720, IdleTimeoutMinutes: 90},
	TierRare:   {HardCapMinutes: 1440, IdleTimeoutMinutes: 180},
}

// ThresholdsFor looks up the fixed limit table.
func ThresholdsFor(tier Tier) TierThresholds {
	if th, ok := tierTable[tier]; ok {
		return th
	}
	return tierTable[TierRare]
}

// activityWindow is the sliding window the activity score is computed over.
// The score is a rate, not a cumulative count.
const activityWindow = 60 * time.Minute

const (
	userMessageWeight      = 3
	assistantMessageWeight = 2
	toolCallWeight         = 4
	tokensPerScorePoint    = 1500
)

// ComputeActivityScore scores the trailing hour of a timeline.
func ComputeActivityScore(timeline []sessionlog.Event, now time.Time) float64 {
	cutoff := now.Add(-activityWindow)
	var userMsgs, assistantMsgs, toolCalls, tokenSum int
	for _, ev := range timeline {
		if ev.Time().Before(cutoff) {
			continue
		}
		switch v := ev.(type) {
		case *sessionlog.UserMessage:
			userMsgs++
			tokenSum += v.Tokens
		case *sessionlog.AssistantMessage:
			assistantMsgs++
			tokenSum += v.Tokens
		case *sessionlog.ToolCall:
			toolCalls++
		}
	}
	return float64(userMessageWeight*userMsgs+assistantMessageWeight*assistantMsgs+toolCallWeight*toolCalls) +
		float64(tokenSum)/tokensPerScorePoint
}

// ScoreToTier maps an activity score to its tier.
func ScoreToTier(score float64) Tier {
	switch {
	case score >= 40:
		return TierHigh
	case score >= 20:
		return TierMedium
	case score >= 8:
		return TierLow
	default:
		return TierRare
	}
}

// hysteresisHits is how many consecutive identical observations commit a tier
// change. A single noisy observation never moves the tier.
const hysteresisHits = 2

// TierState is the debounced tier for one session.
type TierState struct {
	Tier               Tier
	HardCapMinutes     int
	IdleTimeoutMinutes int

	CandidateTier Tier
	CandidateHits int
}

// NewTierState starts sessions in the rare tier; activity walks them up.
func NewTierState() *TierState {
	th := ThresholdsFor(TierRare)
	return &TierState{
		Tier:               TierRare,
		HardCapMinutes:     th.HardCapMinutes,
		IdleTimeoutMinutes: th.IdleTimeoutMinutes,
	}
}

// Refresh observes a desired tier and applies hysteresis. Returns true when
// the tier change committed. Observing the current tier clears any candidate.
func (t *TierState) Refresh(desired Tier) bool {
	if desired == t.Tier {
		t.CandidateTier = ""
		t.CandidateHits = 0
		return false
	}
	if desired == t.CandidateTier {
		t.CandidateHits++
		if t.CandidateHits >= hysteresisHits {
			th := ThresholdsFor(desired)
			t.Tier = desired
			t.HardCapMinutes = th.HardCapMinutes
			t.IdleTimeoutMinutes = th.IdleTimeoutMinutes
			t.CandidateTier = ""
			t.CandidateHits = 0
			return true
		}
		return false
	}
	t.CandidateTier = desired
	t.CandidateHits = 1
	return false
}

// ShouldCloseSession is true when the idle gap reached the tier's idle
// timeout or the session age reached its hard cap. Either alone suffices.
func (t *TierState) ShouldCloseSession(idle, age time.Duration) bool {
	idleTimeout := time.Duration(t.IdleTimeoutMinutes) * time.Minute
	hardCap := time.Duration(t.HardCapMinutes) * time.Minute
	return idle >= idleTimeout || age >= hardCap
}

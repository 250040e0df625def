package rotation

import (
	"time"

	"github.com/dotsetgreg/sessiond/pkg/config"
	"github.com/dotsetgreg/sessiond/pkg/logger"
)

// Reason names why a session rotated, in evaluation priority order.
type Reason string

const (
	ReasonContextOverflow  Reason = "context_overflow"
	ReasonIdleTimeout      Reason = "idle_timeout"
	ReasonMaxSessionAge    Reason = "max_session_age"
	ReasonMidnightRollover Reason = "midnight_rollover"
	ReasonMidnightDeferred Reason = "midnight_rollover_deferred_limit"
	ReasonTopicShift       Reason = "topic_shift"
	ReasonModelDirective   Reason = "model_directive"
)

// contextOverflowPercent is the usage at which rotation is unconditional.
const contextOverflowPercent = 95

// Input is everything the evaluator looks at for one inbound message. The
// context percentage is an already-known value from the serving layer; the
// evaluator never blocks on anything.
type Input struct {
	Now             time.Time
	SessionStart    time.Time
	LastActivity    time.Time
	UsagePercent    float64
	Message         string
	RecentUserTexts []string
	Tier            *TierState
	Pending         *PendingRollover
}

// Decision is the rotate/continue outcome plus the possibly updated pending
// rollover record (nil means cleared or never created).
type Decision struct {
	Rotate  bool
	Reason  Reason
	Pending *PendingRollover
}

// Evaluator applies the rotation rules in fixed priority order.
type Evaluator struct {
	boundary   *DayBoundary
	grace      time.Duration
	maxDefer   time.Duration
	minUsage   float64
	maxOverlap float64
}

func NewEvaluator(cfg config.RotationConfig) (*Evaluator, error) {
	boundary, err := NewDayBoundary(cfg.RolloverCron)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		boundary:   boundary,
		grace:      time.Duration(cfg.RolloverGraceMinutes) * time.Minute,
		maxDefer:   time.Duration(cfg.RolloverMaxDeferHrs) * time.Hour,
		minUsage:   cfg.TopicShiftMinUsage,
		maxOverlap: cfg.TopicShiftMaxOverlap,
	}, nil
}

// Evaluate runs the rule chain, first match wins. Any internal failure or
// panic degrades to "continue": chat availability outranks bookkeeping.
func (e *Evaluator) Evaluate(in Input) (dec Decision) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("rotation", "Evaluator panic, continuing session", map[string]interface{}{
				"panic": r,
			})
			dec = Decision{Rotate: false, Pending: in.Pending}
		}
	}()

	// 1. Context overflow: rotate no matter what the message says.
	if in.UsagePercent >= contextOverflowPercent {
		return Decision{Rotate: true, Reason: ReasonContextOverflow}
	}

	// 2. Tier-driven close: idle timeout or hard age cap. Firing here also
	// clears any pending rollover; the rotation it wanted happens anyway.
	if in.Tier != nil {
		idle := in.Now.Sub(in.LastActivity)
		age := in.Now.Sub(in.SessionStart)
		if in.Tier.ShouldCloseSession(idle, age) {
			reason := ReasonIdleTimeout
			if age >= time.Duration(in.Tier.HardCapMinutes)*time.Minute {
				reason = ReasonMaxSessionAge
			}
			return Decision{Rotate: true, Reason: reason}
		}
	}

	// 3. Calendar rollover.
	fromKey, toKey, crossed, err := e.boundary.Crossed(in.LastActivity, in.Now)
	if err != nil {
		logger.WarnCF("rotation", "Day boundary check failed, continuing session", map[string]interface{}{
			"err": err.Error(),
		})
		return Decision{Rotate: false, Pending: in.Pending}
	}
	idle := in.Now.Sub(in.LastActivity)
	if crossed && idle >= e.grace {
		// The user stepped away across the boundary; rotate immediately.
		return Decision{Rotate: true, Reason: ReasonMidnightRollover}
	}
	if in.Pending != nil {
		if in.Now.Sub(in.Pending.FirstDetectedAt) >= e.maxDefer {
			return Decision{Rotate: true, Reason: ReasonMidnightDeferred}
		}
		pending := *in.Pending
		if crossed {
			pending.ToDayKey = toKey
		}
		return Decision{Rotate: false, Pending: &pending}
	}
	if crossed {
		// Boundary seen mid-conversation: defer, remember when.
		return Decision{Rotate: false, Pending: &PendingRollover{
			FromDayKey:      fromKey,
			ToDayKey:        toKey,
			FirstDetectedAt: in.Now,
		}}
	}

	// 4. Topic shift: gated by a context floor and the small-talk veto.
	if in.UsagePercent >= e.minUsage && !IsSmallTalk(in.Message) {
		if looksLikeTopicShift(in.Message, in.RecentUserTexts, e.maxOverlap) {
			return Decision{Rotate: true, Reason: ReasonTopicShift}
		}
	}

	// 5. Keep going.
	return Decision{Rotate: false}
}

package rotation

import (
	"testing"
	"time"

	"github.com/dotsetgreg/sessiond/pkg/sessionlog"
)

func TestScoreToTier_Boundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Tier
	}{
		{0, TierRare},
		{7.9, TierRare},
		{8, TierLow},
		{19.9, TierLow},
		{20, TierMedium},
		{39.9, TierMedium},
		{40, TierHigh},
		{120, TierHigh},
	}
	for _, tc := range cases {
		if got := ScoreToTier(tc.score); got != tc.want {
			t.Errorf("ScoreToTier(%.1f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestComputeActivityScore_SlidingWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	sid := "s1"

	timeline := []sessionlog.Event{
		// Outside the trailing hour: must not count.
		sessionlog.NewUserMessage(sid, "old", 3000, now.Add(-2*time.Hour)),
		sessionlog.NewToolCall(sid, "c0", "search", nil, now.Add(-61*time.Minute)),
		// Inside the window.
		sessionlog.NewUserMessage(sid, "hi", 1500, now.Add(-30*time.Minute)),
		sessionlog.NewAssistantMessage(sid, "yo", 1500, now.Add(-29*time.Minute)),
		sessionlog.NewToolCall(sid, "c1", "search", nil, now.Add(-10*time.Minute)),
	}

	// 3*1 + 2*1 + 4*1 + 3000/1500 = 11
	got := ComputeActivityScore(timeline, now)
	if got != 11 {
		t.Fatalf("score = %v, want 11", got)
	}
}

func TestTierState_HysteresisCommitsAtTwoHits(t *testing.T) {
	ts := NewTierState()
	if ts.Tier != TierRare {
		t.Fatalf("fresh tier = %s, want rare", ts.Tier)
	}

	if committed := ts.Refresh(TierLow); committed {
		t.Fatal("single observation committed a tier change")
	}
	if ts.Tier != TierRare || ts.CandidateTier != TierLow || ts.CandidateHits != 1 {
		t.Fatalf("unexpected state after first observation: %+v", ts)
	}

	if committed := ts.Refresh(TierLow); !committed {
		t.Fatal("second consecutive observation did not commit")
	}
	if ts.Tier != TierLow || ts.HardCapMinutes != 720 || ts.IdleTimeoutMinutes != 90 {
		t.Fatalf("thresholds not swapped on commit: %+v", ts)
	}
	if ts.CandidateTier != "" || ts.CandidateHits != 0 {
		t.Fatalf("candidate not cleared after commit: %+v", ts)
	}
}

func TestTierState_CurrentTierObservationClearsCandidate(t *testing.T) {
	ts := NewTierState()
	ts.Refresh(TierLow)
	ts.Refresh(TierRare) // matches current: clears candidate
	if ts.CandidateTier != "" || ts.CandidateHits != 0 {
		t.Fatalf("candidate survived a current-tier observation: %+v", ts)
	}
	ts.Refresh(TierLow)
	if committed := ts.Refresh(TierLow); !committed {
		t.Fatal("two fresh consecutive observations should commit")
	}
}

func TestTierState_DifferentCandidateRestartsCount(t *testing.T) {
	ts := NewTierState()
	ts.Refresh(TierLow)
	ts.Refresh(TierMedium)
	if ts.CandidateTier != TierMedium || ts.CandidateHits != 1 {
		t.Fatalf("candidate switch did not restart at 1 hit: %+v", ts)
	}
	if ts.Tier != TierRare {
		t.Fatalf("tier moved without commit: %s", ts.Tier)
	}
}

func TestShouldCloseSession_Boundaries(t *testing.T) {
	ts := NewTierState() // rare: 1440 hard cap / 180 idle

	cases := []struct {
		name string
		idle time.Duration
		age  time.Duration
		want bool
	}{
		{"fresh", 0, 0, false},
		{"idle just under", 180*time.Minute - time.Second, time.Hour, false},
		{"idle exact", 180 * time.Minute, time.Hour, true},
		{"age just under", time.Minute, 1440*time.Minute - time.Second, false},
		{"age exact", time.Minute, 1440 * time.Minute, true},
		{"both over", 200 * time.Minute, 1500 * time.Minute, true},
	}
	for _, tc := range cases {
		if got := ts.ShouldCloseSession(tc.idle, tc.age); got != tc.want {
			t.Errorf("%s: ShouldCloseSession(%v, %v) = %v, want %v", tc.name, tc.idle, tc.age, got, tc.want)
		}
	}
}

func TestThresholdsFor_Table(t *testing.T) {
	cases := []struct {
		tier    Tier
		hardCap int
		idle    int
	}{
		{TierHigh, 180, 20},
		{TierMedium, 360, 45},
		{TierLow, 720, 90},
		{TierRare, 1440, 180},
	}
	for _, tc := range cases {
		th := ThresholdsFor(tc.tier)
		if th.HardCapMinutes != tc.hardCap || th.IdleTimeoutMinutes != tc.idle {
			t.Errorf("ThresholdsFor(%s) = %+v, want {%d %d}", tc.tier, th, tc.hardCap, tc.idle)
		}
	}
}

package escalation

import (
	"strings"
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		threshold int
		want      Tier
	}{
		{"zero count", 0, 3, TierNone},
		{"below warn boundary", 1, 3, TierNone},
		{"warn fraction rounds real-valued", 2, 3, TierNone}, // 0.7*3 = 2.1
		{"at threshold", 3, 3, TierLight},
		{"above threshold below moderate", 4, 3, TierLight},
		{"double threshold", 6, 3, TierSevere},
		{"warn at seven of ten", 7, 10, TierWarn},
		{"none at six of ten", 6, 10, TierNone},
		{"light at exactly ten", 10, 10, TierLight},
		{"moderate at fifteen", 15, 10, TierModerate},
		{"moderate below severe", 19, 10, TierModerate},
		{"severe at twenty", 20, 10, TierSevere},
		{"severe far above", 50, 10, TierSevere},
		{"warn boundary inclusive", 7, 10, TierWarn}, // 0.7*10 = 7 exactly
		{"moderate boundary inclusive", 3, 2, TierModerate},
		{"threshold five warn at four", 4, 5, TierWarn}, // 0.7*5 = 3.5
		{"threshold five none at three", 3, 5, TierNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.count, tt.threshold); got != tt.want {
				t.Errorf("Decide(%d, %d) = %v, want %v", tt.count, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestTierOrdering(t *testing.T) {
	// Counts walking up through every boundary must never de-escalate.
	prev := TierNone
	for count := 0; count <= 25; count++ {
		tier := Decide(count, 10)
		if tier < prev {
			t.Fatalf("tier regressed at count %d: %v after %v", count, tier, prev)
		}
		prev = tier
	}
}

func TestDirectiveFor(t *testing.T) {
	reason := "excessive channel.delete (3/3 within window)"

	d, ok := DirectiveFor(TierLight, reason)
	if !ok {
		t.Fatal("expected directive for light tier")
	}
	if d.Kind != DirectiveSuspend {
		t.Errorf("light kind = %v, want %v", d.Kind, DirectiveSuspend)
	}
	if d.Duration != time.Hour {
		t.Errorf("light duration = %v, want 1h", d.Duration)
	}

	d, ok = DirectiveFor(TierModerate, reason)
	if !ok {
		t.Fatal("expected directive for moderate tier")
	}
	if d.Kind != DirectiveStripRolesAndSuspend {
		t.Errorf("moderate kind = %v, want %v", d.Kind, DirectiveStripRolesAndSuspend)
	}
	if d.Duration != 24*time.Hour {
		t.Errorf("moderate duration = %v, want 24h", d.Duration)
	}

	d, ok = DirectiveFor(TierSevere, reason)
	if !ok {
		t.Fatal("expected directive for severe tier")
	}
	if d.Kind != DirectiveRemove {
		t.Errorf("severe kind = %v, want %v", d.Kind, DirectiveRemove)
	}
	if d.PurgeWindowDay != 1 {
		t.Errorf("severe purge window = %d, want 1", d.PurgeWindowDay)
	}

	if _, ok := DirectiveFor(TierWarn, reason); ok {
		t.Error("warn tier must not carry a directive")
	}
	if _, ok := DirectiveFor(TierNone, reason); ok {
		t.Error("none tier must not carry a directive")
	}
}

func TestReason(t *testing.T) {
	got := Reason("channel.delete", 3, 3)
	if !strings.Contains(got, "channel.delete") || !strings.Contains(got, "3/3") {
		t.Errorf("unexpected reason: %q", got)
	}
}

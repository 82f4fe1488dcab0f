package policy

import (
	"errors"
	"testing"
	"time"

	"guild-sentinel/internal/schema"
)

func TestGetMaterializesDefaults(t *testing.T) {
	s := NewStore(nil)

	pol := s.Get("tenant-1")
	if pol.Configured {
		t.Error("fresh tenant should not be marked configured")
	}
	if pol.Window != DefaultWindow {
		t.Errorf("window = %v, want %v", pol.Window, DefaultWindow)
	}

	want := map[schema.ActionType]int{
		schema.ActionChannelDelete: 3,
		schema.ActionRoleDelete:    3,
		schema.ActionMemberBan:     5,
		schema.ActionMemberKick:    7,
		schema.ActionChannelCreate: 10,
		schema.ActionRoleCreate:    10,
	}
	for action, limit := range want {
		if got := pol.Threshold(action); got != limit {
			t.Errorf("threshold(%s) = %d, want %d", action, got, limit)
		}
	}
}

func TestSetThreshold(t *testing.T) {
	s := NewStore(nil)

	if err := s.SetThreshold("tenant-1", "channel.delete", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pol := s.Get("tenant-1")
	if got := pol.Threshold(schema.ActionChannelDelete); got != 5 {
		t.Errorf("threshold = %d, want 5", got)
	}
	if !pol.Configured {
		t.Error("tenant should be marked configured after update")
	}

	// Other actions keep defaults.
	if got := pol.Threshold(schema.ActionMemberBan); got != 5 {
		t.Errorf("member.ban threshold = %d, want default 5", got)
	}
}

func TestSetThresholdWindow(t *testing.T) {
	s := NewStore(nil)

	if err := s.SetThreshold("tenant-1", WindowKey, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.Get("tenant-1").Window; got != 60*time.Second {
		t.Errorf("window = %v, want 60s", got)
	}
}

func TestSetThresholdRejectsInvalid(t *testing.T) {
	s := NewStore(nil)

	tests := []struct {
		name  string
		key   string
		value int
	}{
		{"zero value", "channel.delete", 0},
		{"negative value", "channel.delete", -1},
		{"zero window", WindowKey, 0},
		{"unknown key", "message.delete", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetThreshold("tenant-1", tt.key, tt.value)
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("error = %v, want ErrInvalidValue", err)
			}
		})
	}

	// Rejected writes never partially apply.
	pol := s.Get("tenant-1")
	if got := pol.Threshold(schema.ActionChannelDelete); got != 3 {
		t.Errorf("threshold after rejected writes = %d, want default 3", got)
	}
}

func TestNotificationTargetUpsert(t *testing.T) {
	s := NewStore(nil)

	s.SetNotificationTarget("tenant-1", "channel-100")
	s.SetNotificationTarget("tenant-1", "channel-200")

	if got := s.Get("tenant-1").NotificationTarget; got != "channel-200" {
		t.Errorf("notification target = %q, want channel-200", got)
	}
}

func TestExemptions(t *testing.T) {
	s := NewStore([]string{"operator-1"})

	if !s.IsExempt("any-tenant", "operator-1") {
		t.Error("global exemption must apply in every tenant")
	}

	s.AddExemption("tenant-1", "mod-1")
	if !s.IsExempt("tenant-1", "mod-1") {
		t.Error("tenant exemption not applied")
	}
	if s.IsExempt("tenant-2", "mod-1") {
		t.Error("tenant exemption must not leak across tenants")
	}

	// Duplicates are no-ops.
	s.AddExemption("tenant-1", "mod-1")
	if got := len(s.Get("tenant-1").Exemptions); got != 1 {
		t.Errorf("exemptions = %d, want 1", got)
	}

	s.AddGlobalExemption("operator-2")
	s.AddGlobalExemption("operator-2")
	if got := len(s.GlobalExemptions()); got != 2 {
		t.Errorf("global exemptions = %d, want 2", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore(nil)

	pol := s.Get("tenant-1")
	pol.Thresholds[schema.ActionChannelDelete] = 999

	if got := s.Get("tenant-1").Threshold(schema.ActionChannelDelete); got != 3 {
		t.Errorf("store mutated through snapshot: threshold = %d", got)
	}
}

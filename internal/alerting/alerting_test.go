package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"guild-sentinel/internal/escalation"
	"guild-sentinel/internal/schema"
)

type recordingChannel struct {
	mu    sync.Mutex
	sends []*Alert
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(ctx context.Context, alert *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, alert)
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

type failingCooldown struct{}

func (failingCooldown) Allow(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	return false, errors.New("store unavailable")
}
func (failingCooldown) Close() error { return nil }

func testAlert(tier escalation.Tier) *Alert {
	event := &schema.ActionEvent{
		EventID:  uuid.New(),
		ActorID:  "actor-1",
		TenantID: "tenant-1",
		Action:   schema.ActionChannelCreate,
	}
	return New(tier, "Suspicious activity", event, "excessive channel.create (7/10 within window)", "channel-1", Metadata{Count: 7, Threshold: 10})
}

func TestCooldownKey(t *testing.T) {
	got := CooldownKey("tenant-1", "actor-1", "channel.create")
	want := "warncd:tenant-1:actor-1:channel.create"
	if got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestMemoryCooldownAllowThenDeny(t *testing.T) {
	c := NewMemoryCooldown()
	ctx := context.Background()

	allowed, err := c.Allow(ctx, "k1", time.Minute)
	if err != nil || !allowed {
		t.Fatalf("first Allow = (%v, %v), want (true, nil)", allowed, err)
	}

	allowed, _ = c.Allow(ctx, "k1", time.Minute)
	if allowed {
		t.Error("second Allow within cooldown must be denied")
	}

	// Independent keys are unaffected.
	allowed, _ = c.Allow(ctx, "k2", time.Minute)
	if !allowed {
		t.Error("distinct key must be allowed")
	}
}

func TestMemoryCooldownExpiry(t *testing.T) {
	c := NewMemoryCooldown()
	ctx := context.Background()

	c.Allow(ctx, "k1", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	allowed, _ := c.Allow(ctx, "k1", time.Minute)
	if !allowed {
		t.Error("expired cooldown must allow again")
	}
}

func TestNotifierSuppressesRepeatWarns(t *testing.T) {
	ch := &recordingChannel{}
	n := NewNotifier(NotifierConfig{WarnCooldown: time.Minute, SendTimeout: time.Second}, nil, ch)

	n.Notify(testAlert(escalation.TierWarn))
	n.Notify(testAlert(escalation.TierWarn))
	n.Wait()

	if got := ch.count(); got != 1 {
		t.Errorf("deliveries = %d, want 1 (repeat warn suppressed)", got)
	}
}

func TestNotifierHigherTiersBypassCooldown(t *testing.T) {
	ch := &recordingChannel{}
	n := NewNotifier(NotifierConfig{WarnCooldown: time.Minute, SendTimeout: time.Second}, nil, ch)

	n.Notify(testAlert(escalation.TierLight))
	n.Notify(testAlert(escalation.TierLight))
	n.Wait()

	if got := ch.count(); got != 2 {
		t.Errorf("deliveries = %d, want 2", got)
	}
}

func TestNotifierDeliversOnCooldownError(t *testing.T) {
	ch := &recordingChannel{}
	n := NewNotifier(NotifierConfig{WarnCooldown: time.Minute, SendTimeout: time.Second}, failingCooldown{}, ch)

	n.Notify(testAlert(escalation.TierWarn))
	n.Wait()

	if got := ch.count(); got != 1 {
		t.Errorf("deliveries = %d, want 1 (deliver when suppression state unknown)", got)
	}
}

func TestNotifierZeroCooldownDisablesSuppression(t *testing.T) {
	ch := &recordingChannel{}
	n := NewNotifier(NotifierConfig{WarnCooldown: 0, SendTimeout: time.Second}, nil, ch)

	n.Notify(testAlert(escalation.TierWarn))
	n.Notify(testAlert(escalation.TierWarn))
	n.Wait()

	if got := ch.count(); got != 2 {
		t.Errorf("deliveries = %d, want 2", got)
	}
}

func TestNotifierFansOut(t *testing.T) {
	a, b := &recordingChannel{}, &recordingChannel{}
	n := NewNotifier(NotifierConfig{SendTimeout: time.Second}, nil, a, b)

	n.Notify(testAlert(escalation.TierSevere))
	n.Wait()

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("deliveries = %d/%d, want 1 each", a.count(), b.count())
	}
}

func TestAlertSeverityFromTier(t *testing.T) {
	alert := testAlert(escalation.TierModerate)
	if alert.Severity != escalation.TierModerate.String() {
		t.Errorf("severity = %q, want %q", alert.Severity, escalation.TierModerate.String())
	}
	if alert.ID == uuid.Nil {
		t.Error("alert must carry a generated id")
	}
}

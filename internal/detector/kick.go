package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"guild-sentinel/internal/platform"
	"guild-sentinel/internal/schema"
)

// AuditLookup is the slice of the gateway client the kick verifier uses.
type AuditLookup interface {
	LatestAuditEntry(ctx context.Context, tenantID, action string) (*platform.AuditEntry, error)
}

// KickVerifier turns member departures into kick events when the audit trail
// attributes them to a non-bot actor. Classification is deferred briefly so
// the platform's audit write can land first.
type KickVerifier struct {
	delay     time.Duration
	staleness time.Duration
	lookup    AuditLookup
	submit    func(*schema.ActionEvent)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// NewKickVerifier creates a kick verifier. Verified kicks are handed to
// submit, typically the intake queue.
func NewKickVerifier(cfg Config, lookup AuditLookup, submit func(*schema.ActionEvent)) *KickVerifier {
	if cfg.KickDelay <= 0 {
		cfg.KickDelay = 1 * time.Second
	}
	if cfg.KickStaleness <= 0 {
		cfg.KickStaleness = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KickVerifier{
		delay:     cfg.KickDelay,
		staleness: cfg.KickStaleness,
		lookup:    lookup,
		submit:    submit,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnDeparture schedules verification of a member departure. Departures that
// cannot be attributed to a fresh kick entry are dropped without touching
// detection state.
func (k *KickVerifier) OnDeparture(tenantID, userID string) {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.wg.Add(1)
	k.mu.Unlock()

	go func() {
		defer k.wg.Done()

		select {
		case <-time.After(k.delay):
		case <-k.ctx.Done():
			return
		}
		k.verify(tenantID, userID)
	}()
}

func (k *KickVerifier) verify(tenantID, userID string) {
	ctx, cancel := context.WithTimeout(k.ctx, 5*time.Second)
	defer cancel()

	entry, err := k.lookup.LatestAuditEntry(ctx, tenantID, string(schema.ActionMemberKick))
	if err != nil {
		// Ambiguous departure; never guess a kick from a failed lookup.
		slog.Warn("kick verification lookup failed",
			"tenant_id", tenantID, "user_id", userID, "error", err)
		return
	}
	if entry == nil {
		return
	}
	if entry.ActorIsBot {
		return
	}
	if entry.TargetID != userID {
		return
	}
	if time.Since(entry.CreatedAt) > k.staleness {
		return
	}

	event := &schema.ActionEvent{
		EventID:       uuid.New(),
		ActorID:       entry.ActorID,
		TenantID:      tenantID,
		Action:        schema.ActionMemberKick,
		Timestamp:     entry.CreatedAt,
		TargetName:    entry.TargetName,
		SchemaVersion: schema.SchemaVersionCurrent,
		ReceivedAt:    time.Now().UTC(),
	}

	slog.Debug("departure attributed to kick",
		"tenant_id", tenantID, "user_id", userID, "actor_id", entry.ActorID)
	k.submit(event)
}

// Stop cancels pending verifications and waits for in-flight ones.
func (k *KickVerifier) Stop() {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()

	k.cancel()
	k.wg.Wait()
}

package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"guild-sentinel/internal/escalation"
)

const defaultSendTimeout = 10 * time.Second

// Notifier fans alerts out to all configured channels. Sends are
// asynchronous; a failed channel never blocks or fails detection.
type Notifier struct {
	channels     []NotificationChannel
	cooldown     CooldownStore
	warnCooldown time.Duration
	sendTimeout  time.Duration
	wg           sync.WaitGroup
}

// NotifierConfig holds notifier settings.
type NotifierConfig struct {
	// WarnCooldown suppresses repeat warn-tier alerts per actor within the
	// period. Zero disables suppression.
	WarnCooldown time.Duration `yaml:"warn_cooldown"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
}

// DefaultNotifierConfig returns the default notifier configuration.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		WarnCooldown: 60 * time.Second,
		SendTimeout:  defaultSendTimeout,
	}
}

// NewNotifier creates a notifier over the given channels.
func NewNotifier(cfg NotifierConfig, cooldown CooldownStore, channels ...NotificationChannel) *Notifier {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cooldown == nil {
		cooldown = NewMemoryCooldown()
	}
	return &Notifier{
		channels:     channels,
		cooldown:     cooldown,
		warnCooldown: cfg.WarnCooldown,
		sendTimeout:  cfg.SendTimeout,
	}
}

// Notify dispatches the alert to every channel. Warn-tier alerts are rate
// limited per actor/tenant/action; higher tiers always fire.
func (n *Notifier) Notify(alert *Alert) {
	if alert.Tier == escalation.TierWarn && n.warnCooldown > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, err := n.cooldown.Allow(ctx, CooldownKey(alert.TenantID, alert.ActorID, string(alert.Action)), n.warnCooldown)
		cancel()
		if err != nil {
			// Suppression state unavailable; deliver rather than drop.
			slog.Warn("cooldown check failed, delivering alert", "error", err, "alert_id", alert.ID)
		} else if !allowed {
			slog.Debug("warn alert suppressed by cooldown",
				"tenant_id", alert.TenantID, "actor_id", alert.ActorID, "action", alert.Action)
			return
		}
	}

	for _, ch := range n.channels {
		n.wg.Add(1)
		go func(ch NotificationChannel) {
			defer n.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
			defer cancel()

			if err := ch.Send(ctx, alert); err != nil {
				slog.Error("alert delivery failed",
					"channel", ch.Name(), "alert_id", alert.ID, "error", err)
			}
		}(ch)
	}
}

// Wait blocks until all in-flight sends complete. Used during shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Close waits for in-flight sends and releases the cooldown store.
func (n *Notifier) Close() error {
	n.wg.Wait()
	return n.cooldown.Close()
}

// Package alerting delivers structured alert records to notification
// channels. Delivery is fire-and-forget: failures are logged, never retried.
package alerting

import (
	"time"

	"github.com/google/uuid"

	"guild-sentinel/internal/escalation"
	"guild-sentinel/internal/schema"
)

// Alert is the structured record handed to notification channels.
type Alert struct {
	ID        uuid.UUID         `json:"id"`
	Tier      escalation.Tier   `json:"-"`
	Severity  string            `json:"severity"`
	Title     string            `json:"title"`
	ActorID   string            `json:"actor_id"`
	ActorTag  string            `json:"actor_tag,omitempty"`
	TenantID  string            `json:"tenant_id"`
	Action    schema.ActionType `json:"action"`
	Reason    string            `json:"reason"`
	Target    string            `json:"notification_target,omitempty"`
	Metadata  Metadata          `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// Metadata carries the count/threshold context shown alongside an alert.
type Metadata struct {
	Count      int    `json:"count"`
	Threshold  int    `json:"threshold"`
	TargetName string `json:"target_name,omitempty"`
}

// New builds an alert for the given event and tier.
func New(tier escalation.Tier, title string, event *schema.ActionEvent, reason, target string, meta Metadata) *Alert {
	return &Alert{
		ID:        uuid.New(),
		Tier:      tier,
		Severity:  tier.String(),
		Title:     title,
		ActorID:   event.ActorID,
		ActorTag:  event.ActorTag,
		TenantID:  event.TenantID,
		Action:    event.Action,
		Reason:    reason,
		Target:    target,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
}

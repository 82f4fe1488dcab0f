// Package policy holds the per-tenant detection policy: action thresholds,
// window length, notification target, and exemptions. State is
// process-lifetime and in-memory only.
package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"guild-sentinel/internal/schema"
)

// ErrInvalidValue is returned when a configuration input is out of domain.
// Rejected at the boundary, never partially applied.
var ErrInvalidValue = errors.New("policy: invalid value")

// WindowKey is the caller-facing settings key for the detection window.
// Window values are accepted in seconds and stored as a duration.
const WindowKey = "window"

// DefaultWindow is the default sliding-window length.
const DefaultWindow = 30 * time.Second

// DefaultThresholds returns the default per-action thresholds.
func DefaultThresholds() map[schema.ActionType]int {
	return map[schema.ActionType]int{
		schema.ActionChannelDelete: 3,
		schema.ActionRoleDelete:    3,
		schema.ActionMemberBan:     5,
		schema.ActionMemberKick:    7,
		schema.ActionChannelCreate: 10,
		schema.ActionRoleCreate:    10,
	}
}

// TenantPolicy is the effective policy for one tenant. Values returned by
// the store are snapshots; mutation goes through store methods only.
type TenantPolicy struct {
	TenantID           string                    `json:"tenant_id"`
	Thresholds         map[schema.ActionType]int `json:"thresholds"`
	Window             time.Duration             `json:"window"`
	NotificationTarget string                    `json:"notification_target,omitempty"`
	Exemptions         []string                  `json:"exemptions,omitempty"`
	Configured         bool                      `json:"configured"`
}

// Threshold returns the threshold for the action type, falling back to the
// default when unset.
func (p TenantPolicy) Threshold(action schema.ActionType) int {
	if v, ok := p.Thresholds[action]; ok && v > 0 {
		return v
	}
	return DefaultThresholds()[action]
}

type tenantState struct {
	thresholds         map[schema.ActionType]int
	window             time.Duration
	notificationTarget string
	exemptions         map[string]bool
	configured         bool
}

// Store owns all tenant policies plus the process-wide exemption set seeded
// at startup. Reads during in-flight evaluations may race with administrator
// writes; that staleness is tolerated since thresholds change rarely.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState
	global  map[string]bool
}

// NewStore creates a Store seeded with the operator-level exemptions.
func NewStore(globalExemptions []string) *Store {
	global := make(map[string]bool, len(globalExemptions))
	for _, id := range globalExemptions {
		if id != "" {
			global[id] = true
		}
	}
	return &Store{
		tenants: make(map[string]*tenantState),
		global:  global,
	}
}

// Get returns the effective policy for the tenant, materializing a
// default-valued one on first access. Never fails.
func (s *Store) Get(tenantID string) TenantPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreateLocked(tenantID)
	return s.snapshotLocked(tenantID, t)
}

// SetNotificationTarget sets the notification target for the tenant.
// Idempotent upsert.
func (s *Store) SetNotificationTarget(tenantID, targetRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreateLocked(tenantID)
	t.notificationTarget = targetRef
	t.configured = true
	slog.Info("notification target updated", "tenant_id", tenantID, "target", targetRef)
}

// SetThreshold updates a threshold by settings key. The key is either a
// monitored action type or WindowKey; window values are given in seconds.
// Returns ErrInvalidValue for values below 1 or unknown keys.
func (s *Store) SetThreshold(tenantID, key string, value int) error {
	if value < 1 {
		return fmt.Errorf("%w: %q must be at least 1, got %d", ErrInvalidValue, key, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreateLocked(tenantID)

	if key == WindowKey {
		t.window = time.Duration(value) * time.Second
		t.configured = true
		slog.Info("window updated", "tenant_id", tenantID, "window", t.window)
		return nil
	}

	action := schema.ActionType(key)
	if !action.IsValid() {
		return fmt.Errorf("%w: unknown settings key %q", ErrInvalidValue, key)
	}

	t.thresholds[action] = value
	t.configured = true
	slog.Info("threshold updated", "tenant_id", tenantID, "action", action, "threshold", value)
	return nil
}

// IsExempt reports whether the actor is in the tenant exemption set or the
// process-wide set. Global exemption cannot be revoked at tenant scope.
func (s *Store) IsExempt(tenantID, actorID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.global[actorID] {
		return true
	}
	if t := s.tenants[tenantID]; t != nil {
		return t.exemptions[actorID]
	}
	return false
}

// AddExemption adds the actor to the tenant exemption set. Duplicates are
// no-ops.
func (s *Store) AddExemption(tenantID, actorID string) {
	if actorID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreateLocked(tenantID)
	if !t.exemptions[actorID] {
		t.exemptions[actorID] = true
		slog.Info("exemption added", "tenant_id", tenantID, "actor_id", actorID)
	}
}

// AddGlobalExemption adds the actor to the process-wide exemption set.
// Duplicates are no-ops.
func (s *Store) AddGlobalExemption(actorID string) {
	if actorID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.global[actorID] {
		s.global[actorID] = true
		slog.Info("global exemption added", "actor_id", actorID)
	}
}

// GlobalExemptions returns the process-wide exemption set.
func (s *Store) GlobalExemptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.global))
	for id := range s.global {
		out = append(out, id)
	}
	return out
}

// Tenants returns the number of materialized tenant policies.
func (s *Store) Tenants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants)
}

func (s *Store) getOrCreateLocked(tenantID string) *tenantState {
	if t := s.tenants[tenantID]; t != nil {
		return t
	}
	t := &tenantState{
		thresholds: DefaultThresholds(),
		window:     DefaultWindow,
		exemptions: make(map[string]bool),
	}
	s.tenants[tenantID] = t
	return t
}

func (s *Store) snapshotLocked(tenantID string, t *tenantState) TenantPolicy {
	thresholds := make(map[schema.ActionType]int, len(t.thresholds))
	for k, v := range t.thresholds {
		thresholds[k] = v
	}

	var exemptions []string
	for id := range t.exemptions {
		exemptions = append(exemptions, id)
	}

	return TenantPolicy{
		TenantID:           tenantID,
		Thresholds:         thresholds,
		Window:             t.window,
		NotificationTarget: t.notificationTarget,
		Exemptions:         exemptions,
		Configured:         t.configured,
	}
}

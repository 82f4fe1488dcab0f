// Package escalation maps observed action rates to severity tiers and
// punitive directives. Decisions are pure functions of (count, threshold) so
// the policy stays centralized and testable.
package escalation

import (
	"fmt"
	"time"
)

// Tier represents the escalation level derived from count vs. threshold.
type Tier int

const (
	TierNone Tier = iota
	TierWarn
	TierLight
	TierModerate
	TierSevere
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierWarn:
		return "warn"
	case TierLight:
		return "light"
	case TierModerate:
		return "moderate"
	case TierSevere:
		return "severe"
	}
	return "unknown"
}

// Tier boundary multipliers. Comparisons are against the real-valued
// product of threshold and multiplier; lower bounds are inclusive, so a
// count exactly at threshold escalates to light, not warn.
const (
	warnFraction     = 0.7
	moderateFraction = 1.5
	severeFraction   = 2.0
)

// Decide maps a post-prune window count and the configured threshold to a
// severity tier.
func Decide(count, threshold int) Tier {
	c := float64(count)
	th := float64(threshold)

	switch {
	case c >= severeFraction*th:
		return TierSevere
	case c >= moderateFraction*th:
		return TierModerate
	case c >= th:
		return TierLight
	case c >= warnFraction*th:
		return TierWarn
	}
	return TierNone
}

// DirectiveKind identifies a punitive instruction for the enforcement
// executor.
type DirectiveKind string

const (
	DirectiveSuspend              DirectiveKind = "suspend"
	DirectiveStripRolesAndSuspend DirectiveKind = "strip_roles_and_suspend"
	DirectiveRemove               DirectiveKind = "remove"
)

// Punishment durations per tier.
const (
	lightSuspension    = time.Hour
	moderateSuspension = 24 * time.Hour
	severePurgeDays    = 1
)

// Directive is a punitive instruction emitted for execution by the external
// enforcement collaborator. Immutable and ephemeral.
type Directive struct {
	Kind           DirectiveKind `json:"kind"`
	Duration       time.Duration `json:"duration_ms,omitempty"`
	PurgeWindowDay int           `json:"purge_window_days,omitempty"`
	Reason         string        `json:"reason"`
}

// DirectiveFor builds the punitive directive for an enforceable tier.
// Returns false for tiers that carry no directive (none, warn).
func DirectiveFor(tier Tier, reason string) (Directive, bool) {
	switch tier {
	case TierLight:
		return Directive{
			Kind:     DirectiveSuspend,
			Duration: lightSuspension,
			Reason:   reason,
		}, true
	case TierModerate:
		return Directive{
			Kind:     DirectiveStripRolesAndSuspend,
			Duration: moderateSuspension,
			Reason:   reason,
		}, true
	case TierSevere:
		return Directive{
			Kind:           DirectiveRemove,
			PurgeWindowDay: severePurgeDays,
			Reason:         reason,
		}, true
	}
	return Directive{}, false
}

// Reason builds the human-readable reason string attached to alerts and
// directives.
func Reason(action string, count, threshold int) string {
	return fmt.Sprintf("excessive %s (%d/%d within window)", action, count, threshold)
}

// Package detector ties the ledger, policy store, escalation rules, gateway,
// and notifier into the evaluation pipeline for inbound action events.
package detector

import (
	"context"
	"log/slog"
	"time"

	"guild-sentinel/internal/alerting"
	"guild-sentinel/internal/escalation"
	"guild-sentinel/internal/ledger"
	"guild-sentinel/internal/policy"
	"guild-sentinel/internal/schema"
)

// Outcome classifies the result of evaluating one action event.
type Outcome int

const (
	// OutcomeIgnored means the event did not enter detection: exempt actor,
	// unmonitored action, or a degraded dependency.
	OutcomeIgnored Outcome = iota
	// OutcomeNoAction means the event was recorded but stayed below every
	// escalation boundary.
	OutcomeNoAction
	// OutcomeAlert means a warn-tier alert fired with no enforcement.
	OutcomeAlert
	// OutcomePermissionDenied means enforcement was warranted but the actor
	// outranks the enforcing agent.
	OutcomePermissionDenied
	// OutcomeDirective means a punitive directive was executed.
	OutcomeDirective
	// OutcomeEnforcementFailed means the directive was issued but the
	// gateway rejected or failed it.
	OutcomeEnforcementFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNoAction:
		return "no_action"
	case OutcomeAlert:
		return "alert"
	case OutcomePermissionDenied:
		return "permission_denied"
	case OutcomeDirective:
		return "directive"
	case OutcomeEnforcementFailed:
		return "enforcement_failed"
	}
	return "unknown"
}

// Result is the full evaluation record for one event.
type Result struct {
	Outcome   Outcome
	Tier      escalation.Tier
	Count     int
	Threshold int
	Directive *escalation.Directive
	Detail    string
}

// Gateway is the slice of the platform client the detector depends on.
type Gateway interface {
	CanEnforce(ctx context.Context, tenantID, actorID string) (bool, error)
	Execute(ctx context.Context, tenantID, actorID string, d escalation.Directive) error
}

// Config holds detector timing settings.
type Config struct {
	// RankCheckTimeout bounds the enforceability probe. On expiry the event
	// degrades to ignored rather than blocking the worker.
	RankCheckTimeout time.Duration `yaml:"rank_check_timeout"`
	// EnforceTimeout bounds directive execution.
	EnforceTimeout time.Duration `yaml:"enforce_timeout"`
	// KickDelay defers departure classification so the audit trail can
	// catch up.
	KickDelay time.Duration `yaml:"kick_delay"`
	// KickStaleness is the maximum audit-entry age still attributable to a
	// departure.
	KickStaleness time.Duration `yaml:"kick_staleness"`
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		RankCheckTimeout: 3 * time.Second,
		EnforceTimeout:   5 * time.Second,
		KickDelay:        1 * time.Second,
		KickStaleness:    5 * time.Second,
	}
}

// Orchestrator evaluates action events against per-tenant policy.
type Orchestrator struct {
	cfg      Config
	policies *policy.Store
	ledger   *ledger.Ledger
	gateway  Gateway
	notifier *alerting.Notifier
	archiver Archiver
}

// Archiver receives completed evaluation records for offline analysis.
// Optional; a nil archiver disables archiving.
type Archiver interface {
	Archive(event *schema.ActionEvent, result Result)
}

// NewOrchestrator creates a detection orchestrator.
func NewOrchestrator(cfg Config, policies *policy.Store, lg *ledger.Ledger, gateway Gateway, notifier *alerting.Notifier, archiver Archiver) *Orchestrator {
	if cfg.RankCheckTimeout <= 0 {
		cfg.RankCheckTimeout = 3 * time.Second
	}
	if cfg.EnforceTimeout <= 0 {
		cfg.EnforceTimeout = 5 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		policies: policies,
		ledger:   lg,
		gateway:  gateway,
		notifier: notifier,
		archiver: archiver,
	}
}

// Evaluate runs one event through the pipeline: exemption gate, ledger
// record, escalation decision, then alerting and enforcement as warranted.
// The ledger is mutated at most once per event.
func (o *Orchestrator) Evaluate(ctx context.Context, event *schema.ActionEvent) Result {
	result := o.evaluate(ctx, event)

	slog.Info("event evaluated",
		"event_id", event.EventID,
		"tenant_id", event.TenantID,
		"actor_id", event.ActorID,
		"action", event.Action,
		"outcome", result.Outcome.String(),
		"tier", result.Tier.String(),
		"count", result.Count,
		"threshold", result.Threshold,
	)

	if o.archiver != nil {
		o.archiver.Archive(event, result)
	}
	return result
}

func (o *Orchestrator) evaluate(ctx context.Context, event *schema.ActionEvent) Result {
	if !event.Action.IsValid() {
		return Result{Outcome: OutcomeIgnored, Detail: "unmonitored action"}
	}

	// Exemption is checked before any ledger mutation: exempt activity
	// leaves no trace and can never contribute to a later escalation.
	if o.policies.IsExempt(event.TenantID, event.ActorID) {
		return Result{Outcome: OutcomeIgnored, Detail: "actor exempt"}
	}

	pol := o.policies.Get(event.TenantID)
	threshold := pol.Threshold(event.Action)

	key := ledger.Key{ActorID: event.ActorID, TenantID: event.TenantID, Action: event.Action}
	count := o.ledger.Record(key, pol.Window, event.Timestamp)

	tier := escalation.Decide(count, threshold)
	if tier == escalation.TierNone {
		return Result{Outcome: OutcomeNoAction, Tier: tier, Count: count, Threshold: threshold}
	}

	reason := escalation.Reason(string(event.Action), count, threshold)
	meta := alerting.Metadata{Count: count, Threshold: threshold, TargetName: event.TargetName}

	if tier == escalation.TierWarn {
		o.notify(tier, "Suspicious activity", event, reason, pol.NotificationTarget, meta)
		return Result{Outcome: OutcomeAlert, Tier: tier, Count: count, Threshold: threshold}
	}

	directive, ok := escalation.DirectiveFor(tier, reason)
	if !ok {
		return Result{Outcome: OutcomeNoAction, Tier: tier, Count: count, Threshold: threshold}
	}

	rankCtx, cancel := context.WithTimeout(ctx, o.cfg.RankCheckTimeout)
	enforceable, err := o.gateway.CanEnforce(rankCtx, event.TenantID, event.ActorID)
	cancel()
	if err != nil {
		// Rank state unknown; degrade rather than enforce blind. The count
		// is already recorded, so a subsequent event re-triggers.
		slog.Warn("rank lookup unavailable",
			"event_id", event.EventID, "tenant_id", event.TenantID, "actor_id", event.ActorID, "error", err)
		return Result{Outcome: OutcomeIgnored, Tier: tier, Count: count, Threshold: threshold, Detail: "rank lookup unavailable"}
	}

	if !enforceable {
		o.notify(tier, "Enforcement blocked: actor outranks agent", event, reason, pol.NotificationTarget, meta)
		return Result{Outcome: OutcomePermissionDenied, Tier: tier, Count: count, Threshold: threshold, Directive: &directive}
	}

	execCtx, cancel := context.WithTimeout(ctx, o.cfg.EnforceTimeout)
	err = o.gateway.Execute(execCtx, event.TenantID, event.ActorID, directive)
	cancel()
	if err != nil {
		// No retry: enforcement is at-most-once per evaluation.
		slog.Error("enforcement failed",
			"event_id", event.EventID, "tenant_id", event.TenantID, "actor_id", event.ActorID,
			"directive", directive.Kind, "error", err)
		o.notify(tier, "Enforcement failed", event, reason, pol.NotificationTarget, meta)
		return Result{Outcome: OutcomeEnforcementFailed, Tier: tier, Count: count, Threshold: threshold, Directive: &directive}
	}

	o.notify(tier, "Raid countermeasure applied", event, reason, pol.NotificationTarget, meta)
	return Result{Outcome: OutcomeDirective, Tier: tier, Count: count, Threshold: threshold, Directive: &directive}
}

func (o *Orchestrator) notify(tier escalation.Tier, title string, event *schema.ActionEvent, reason, target string, meta alerting.Metadata) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(alerting.New(tier, title, event, reason, target, meta))
}

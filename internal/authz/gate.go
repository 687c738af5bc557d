package authz

import (
	"context"
	"fmt"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/pkg/types"
)

// Gate decides whether a submitted scenario may proceed. Every request
// and its outcome is written to the audit trail, including automatic
// approvals when ethical mode is off.
type Gate struct {
	policy    config.AttackPolicy
	confirmer core.Confirmer
	trail     core.AuditTrail
	telemetry core.Telemetry
	log       *logger.Logger
}

var _ core.AuthorizationGate = (*Gate)(nil)

func NewGate(policy config.AttackPolicy, confirmer core.Confirmer, trail core.AuditTrail, telemetry core.Telemetry, log *logger.Logger) *Gate {
	return &Gate{
		policy:    policy,
		confirmer: confirmer,
		trail:     trail,
		telemetry: telemetry,
		log:       log.WithComponent("authz"),
	}
}

// Authorize blocks until the operator answers (or ctx is cancelled).
// There is deliberately no timeout on the confirmation itself: an
// unanswered prompt must never auto-approve.
func (g *Gate) Authorize(ctx context.Context, instanceID string, req types.ScenarioRequest) (core.Decision, error) {
	if err := g.trail.Append(types.AuditEntry{
		Actor:      req.RequestedBy,
		Action:     "authorization_requested",
		InstanceID: instanceID,
		Detail:     fmt.Sprintf("%s against %s", req.Kind, req.Target),
	}); err != nil {
		return core.Decision{}, err
	}

	if !g.policy.EthicalMode {
		g.log.WithScenarioID(instanceID).Warn("Ethical mode disabled, authorization granted automatically")
		return g.record(ctx, instanceID, req, core.Decision{Allowed: true, Reason: "ethical mode disabled"})
	}

	if !g.policy.RequireConfirmation {
		return g.record(ctx, instanceID, req, core.Decision{Allowed: true, Reason: "confirmation not required by policy"})
	}

	prompt := fmt.Sprintf("Execute %s attack against %s? Only proceed with written authorization for this target.", req.Kind, req.Target)
	approved, err := g.confirmer.Confirm(ctx, prompt)
	if err != nil {
		// Any failure to obtain an answer is a denial, never an approval.
		_, _ = g.record(ctx, instanceID, req, core.Decision{Allowed: false, Reason: "confirmation unavailable: " + err.Error()})
		return core.Decision{}, fmt.Errorf("authz: confirmation: %w", err)
	}

	if !approved {
		return g.record(ctx, instanceID, req, core.Decision{Allowed: false, Reason: "operator declined"})
	}
	return g.record(ctx, instanceID, req, core.Decision{Allowed: true, Reason: "operator confirmed"})
}

func (g *Gate) record(ctx context.Context, instanceID string, req types.ScenarioRequest, decision core.Decision) (core.Decision, error) {
	action := "authorization_denied"
	if decision.Allowed {
		action = "authorization_granted"
	}
	err := g.trail.Append(types.AuditEntry{
		Actor:      req.RequestedBy,
		Action:     action,
		InstanceID: instanceID,
		Outcome:    decision.Reason,
	})
	if err != nil {
		return core.Decision{}, err
	}
	if g.telemetry != nil {
		g.telemetry.RecordAuthorization(decision.Allowed)
	}
	g.log.WithScenarioID(instanceID).LogSecurityEvent(ctx, action, map[string]interface{}{
		"allowed": decision.Allowed,
		"reason":  decision.Reason,
		"kind":    req.Kind,
		"target":  req.Target,
		"actor":   req.RequestedBy,
	})
	return decision, nil
}

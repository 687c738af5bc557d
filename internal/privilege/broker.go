package privilege

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/pkg/types"
)

// Strategy names recognised in PrivilegeConfig.Methods.
const (
	StrategyPkexec = "pkexec"
	StrategySudo   = "sudo"
	StrategyNone   = "none"
)

// ErrNoStrategy is returned when every configured elevation strategy
// failed. The caller must treat this as a denial, never as permission
// to run unprivileged.
var ErrNoStrategy = errors.New("privilege: no elevation strategy available")

// Broker acquires elevated execution rights for a single scenario
// instance at a time of use. Strategies are tried in configured order
// and every attempt is audited.
type Broker struct {
	methods []string
	trail   core.AuditTrail
	log     *logger.Logger

	// overridable in tests
	lookPath func(string) (string, error)
	probe    func(ctx context.Context, name string, args ...string) error
}

var _ core.PrivilegeBroker = (*Broker)(nil)

func NewBroker(cfg config.PrivilegeConfig, trail core.AuditTrail, log *logger.Logger) *Broker {
	return &Broker{
		methods:  cfg.Methods,
		trail:    trail,
		log:      log.WithComponent("privilege"),
		lookPath: exec.LookPath,
		probe:    runProbe,
	}
}

func runProbe(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Run()
}

// Acquire tries each configured strategy in order and returns a grant
// bound to the given instance. Failure of every strategy is reported
// as ErrNoStrategy so the caller fails closed.
func (b *Broker) Acquire(ctx context.Context, instanceID string) (*types.PrivilegeGrant, error) {
	var lastErr error
	for _, method := range b.methods {
		grant, err := b.tryStrategy(ctx, method, instanceID)
		if err == nil {
			if auditErr := b.trail.Append(types.AuditEntry{
				Action:     "privilege_acquired",
				InstanceID: instanceID,
				Outcome:    grant.Strategy,
			}); auditErr != nil {
				return nil, auditErr
			}
			b.log.WithScenarioID(instanceID).Infow("Privilege acquired", "strategy", grant.Strategy)
			return grant, nil
		}
		lastErr = err
		_ = b.trail.Append(types.AuditEntry{
			Action:     "privilege_attempt_failed",
			InstanceID: instanceID,
			Outcome:    method,
			Detail:     err.Error(),
		})
		b.log.WithScenarioID(instanceID).Debugw("Elevation strategy failed",
			"strategy", method,
			"error", err)
	}
	_ = b.trail.Append(types.AuditEntry{
		Action:     "privilege_denied",
		InstanceID: instanceID,
		Detail:     "all strategies exhausted",
	})
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStrategy, lastErr)
	}
	return nil, ErrNoStrategy
}

func (b *Broker) tryStrategy(ctx context.Context, method, instanceID string) (*types.PrivilegeGrant, error) {
	switch method {
	case StrategyPkexec:
		if _, err := b.lookPath("pkexec"); err != nil {
			return nil, &types.PrivilegeError{Strategy: method, Err: err}
		}
		return b.grant(method, instanceID), nil
	case StrategySudo:
		if _, err := b.lookPath("sudo"); err != nil {
			return nil, &types.PrivilegeError{Strategy: method, Err: err}
		}
		// Refresh the cached sudo timestamp so the wrapped command
		// does not stall on an inner password prompt.
		if err := b.probe(ctx, "sudo", "-n", "-v"); err != nil {
			return nil, &types.PrivilegeError{Strategy: method, Err: err}
		}
		return b.grant(method, instanceID), nil
	case StrategyNone:
		return b.grant(method, instanceID), nil
	default:
		return nil, &types.PrivilegeError{Strategy: method, Err: errors.New("unknown strategy")}
	}
}

func (b *Broker) grant(strategy, instanceID string) *types.PrivilegeGrant {
	return &types.PrivilegeGrant{
		Strategy:   strategy,
		InstanceID: instanceID,
		AcquiredAt: time.Now().UTC(),
	}
}

// Release records that the grant is no longer in use. Grants carry no
// OS-level state, so releasing is an audit event only.
func (b *Broker) Release(grant *types.PrivilegeGrant) {
	if grant == nil {
		return
	}
	_ = b.trail.Append(types.AuditEntry{
		Action:     "privilege_released",
		InstanceID: grant.InstanceID,
		Outcome:    grant.Strategy,
	})
}

// Wrap prepends the elevation prefix for the grant's strategy to argv.
func (b *Broker) Wrap(grant *types.PrivilegeGrant, argv []string) []string {
	if grant == nil {
		return argv
	}
	switch grant.Strategy {
	case StrategyPkexec:
		return append([]string{"pkexec"}, argv...)
	case StrategySudo:
		return append([]string{"sudo", "-n"}, argv...)
	default:
		return argv
	}
}

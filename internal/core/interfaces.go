package core

import (
	"context"
	"time"

	"github.com/btsentry/btsentry/pkg/types"
)

// Decision is the outcome of an authorization gate call.
type Decision struct {
	Allowed bool
	Reason  string
}

// AuthorizationGate decides whether a requested scenario may proceed.
// The gate is always consulted, even when policy auto-approves; the
// decision itself is audited either way.
type AuthorizationGate interface {
	Authorize(ctx context.Context, instanceID string, req types.ScenarioRequest) (Decision, error)
}

// Confirmer obtains an explicit yes/no from the interactive surface.
// Confirm blocks until answered or ctx is cancelled; there is no
// default timeout.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// PrivilegeBroker obtains elevated execution rights for exactly one
// scenario instance. Grants are never shared or reused.
type PrivilegeBroker interface {
	Acquire(ctx context.Context, instanceID string) (*types.PrivilegeGrant, error)
	Release(grant *types.PrivilegeGrant)
	// Wrap prepends the grant's escalation prefix to argv.
	Wrap(grant *types.PrivilegeGrant, argv []string) []string
}

// AuditTrail is the append-only, strictly ordered system of record.
// Append is durable before it returns.
type AuditTrail interface {
	Append(entry types.AuditEntry) error
	ReadAll() ([]types.AuditEntry, error)
	Close() error
}

// ScenarioRunner supervises scenario instances on a bounded pool.
type ScenarioRunner interface {
	Submit(req types.ScenarioRequest) (string, error)
	Status(id string) (types.ScenarioSnapshot, error)
	Cancel(id string) bool
	AwaitTerminal(id string, timeout time.Duration) (types.ScenarioSnapshot, error)
	Shutdown(ctx context.Context) error
}

// SessionSink collects discovery results and terminal scenario
// snapshots. Purely additive and safe for concurrent appends.
type SessionSink interface {
	RecordDiscovery(devices []types.DeviceInfo)
	RecordScenarioResult(snap types.ScenarioSnapshot)
	Snapshot() types.SessionRecord
}

// ResultStore persists sessions and their contents for later reporting.
type ResultStore interface {
	SaveSession(ctx context.Context, record types.SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]types.SessionRecord, error)
	Close() error
}

// Scanner discovers peripherals and enumerates their services.
type Scanner interface {
	Scan(ctx context.Context, duration time.Duration) ([]types.DeviceInfo, error)
	EnumerateServices(ctx context.Context, mac string) (*types.ServiceReport, error)
}

// Summarizer turns session material into analyst prose.
type Summarizer interface {
	SummarizeSession(ctx context.Context, record types.SessionRecord) (string, error)
	AnalyzeScenario(ctx context.Context, snap types.ScenarioSnapshot) (string, error)
}

// Telemetry records operational metrics.
type Telemetry interface {
	RecordScenario(kind types.ScenarioKind, duration float64, status types.Status)
	RecordAuthorization(allowed bool)
	RecordWorkerMetrics(status *types.WorkerStatus)
	Close() error
}

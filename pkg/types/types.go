package types

import (
	"time"
)

type ScenarioKind string

const (
	KindFlood    ScenarioKind = "flood"
	KindDeauth   ScenarioKind = "deauth"
	KindSniff    ScenarioKind = "sniff"
	KindPinBrute ScenarioKind = "pinbrute"
	KindHijack   ScenarioKind = "hijack"
	KindMITM     ScenarioKind = "mitm"
)

// Kinds returns the closed set of supported scenario kinds.
func Kinds() []ScenarioKind {
	return []ScenarioKind{KindFlood, KindDeauth, KindSniff, KindPinBrute, KindHijack, KindMITM}
}

func ValidKind(k ScenarioKind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending               Status = "pending"
	StatusAwaitingAuthorization Status = "awaiting_authorization"
	StatusAwaitingPrivilege     Status = "awaiting_privilege"
	StatusRunning               Status = "running"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusTimedOut              Status = "timed_out"
	StatusCancelled             Status = "cancelled"
	StatusDenied                Status = "denied"
)

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled, StatusDenied:
		return true
	}
	return false
}

// ScenarioRequest is one user invocation of a disruptive technique.
// Immutable after construction.
type ScenarioRequest struct {
	Kind        ScenarioKind      `json:"kind"`
	Target      string            `json:"target"`
	Duration    time.Duration     `json:"duration"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	RequestedBy string            `json:"requested_by"`
	RequestedAt time.Time         `json:"requested_at"`
}

// ScenarioSnapshot is the read-only view of a scenario instance exposed
// to callers and to the session record. The live instance is owned by
// the runner; snapshots are safe to retain.
type ScenarioSnapshot struct {
	ID         string          `json:"id" db:"id"`
	Request    ScenarioRequest `json:"request"`
	Status     Status          `json:"status" db:"status"`
	StartedAt  *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	ExitCode   *int            `json:"exit_code,omitempty" db:"exit_code"`
	Output     []string        `json:"output,omitempty"`
	Error      string          `json:"error,omitempty" db:"error"`
}

// PrivilegeGrant is a single-instance elevation of execution rights.
// It is never persisted and never reused across instances.
type PrivilegeGrant struct {
	Strategy   string    `json:"strategy"`
	InstanceID string    `json:"instance_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AuditEntry is one line in the append-only audit trail.
type AuditEntry struct {
	Sequence   uint64    `json:"seq"`
	Timestamp  time.Time `json:"ts"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	InstanceID string    `json:"instance_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
}

// DeviceInfo is a discovered peripheral snapshot. Opaque to the
// scenario core; produced by the scanner and carried in the session.
type DeviceInfo struct {
	MAC          string    `json:"mac" db:"mac"`
	Name         string    `json:"name" db:"name"`
	Type         string    `json:"type" db:"type"`
	DeviceClass  uint32    `json:"device_class,omitempty" db:"device_class"`
	MajorClass   string    `json:"major_class,omitempty" db:"major_class"`
	RSSI         *int      `json:"rssi,omitempty" db:"rssi"`
	DiscoveredAt time.Time `json:"discovered_at" db:"discovered_at"`
}

// ServiceInfo is one enumerated service on a device.
type ServiceInfo struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol,omitempty"`
	Channel  string `json:"channel,omitempty"`
	UUID     string `json:"uuid,omitempty"`
}

// ServiceReport is the result of enumerating one device.
type ServiceReport struct {
	MAC          string        `json:"mac"`
	Services     []ServiceInfo `json:"services"`
	EnumeratedAt time.Time     `json:"enumerated_at"`
}

// SessionRecord is the structured output of one user-facing run,
// handed to reporting. Mutated only by appends for the lifetime of a
// session.
type SessionRecord struct {
	ID        string             `json:"session_id"`
	CreatedAt time.Time          `json:"created_at"`
	Devices   []DeviceInfo       `json:"devices"`
	Scenarios []ScenarioSnapshot `json:"scenarios"`
}

type WorkerStatus struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	CurrentJob   string    `json:"current_job,omitempty"`
	JobsComplete int       `json:"jobs_complete"`
	LastPing     time.Time `json:"last_ping"`
}

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/pkg/types"
)

// Aggregator collects discovery results and terminal scenario
// snapshots for one user-facing run. Strictly additive; nothing is
// ever removed or rewritten.
type Aggregator struct {
	mu     sync.Mutex
	record types.SessionRecord
}

var _ core.SessionSink = (*Aggregator)(nil)

func NewAggregator() *Aggregator {
	return &Aggregator{
		record: types.SessionRecord{
			ID:        uuid.New().String(),
			CreatedAt: time.Now().UTC(),
		},
	}
}

func (a *Aggregator) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.ID
}

func (a *Aggregator) RecordDiscovery(devices []types.DeviceInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record.Devices = append(a.record.Devices, devices...)
}

func (a *Aggregator) RecordScenarioResult(snap types.ScenarioSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record.Scenarios = append(a.record.Scenarios, snap)
}

// Snapshot returns a deep copy safe to hand to reporting while
// recording continues.
func (a *Aggregator) Snapshot() types.SessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := types.SessionRecord{
		ID:        a.record.ID,
		CreatedAt: a.record.CreatedAt,
	}
	if len(a.record.Devices) > 0 {
		out.Devices = make([]types.DeviceInfo, len(a.record.Devices))
		copy(out.Devices, a.record.Devices)
	}
	if len(a.record.Scenarios) > 0 {
		out.Scenarios = make([]types.ScenarioSnapshot, len(a.record.Scenarios))
		for i, snap := range a.record.Scenarios {
			out.Scenarios[i] = copySnapshot(snap)
		}
	}
	return out
}

func copySnapshot(snap types.ScenarioSnapshot) types.ScenarioSnapshot {
	if len(snap.Output) > 0 {
		output := make([]string, len(snap.Output))
		copy(output, snap.Output)
		snap.Output = output
	}
	return snap
}

// SaveTo writes the session as pretty-printed JSON under dir, named by
// session id and date.
func (a *Aggregator) SaveTo(dir string) (string, error) {
	record := a.Snapshot()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("session: create directory: %w", err)
	}
	name := fmt.Sprintf("session_%s_%s.json", record.CreatedAt.Format("20060102_150405"), record.ID[:8])
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("session: write: %w", err)
	}
	return path, nil
}

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	store, err := NewStore(config.DatabaseConfig{
		Driver:         "sqlite",
		DSN:            ":memory:",
		MaxConnections: 1,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord() types.SessionRecord {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(30 * time.Second)
	code := 0
	rssi := -60
	return types.SessionRecord{
		ID:        "sess-1",
		CreatedAt: started,
		Devices: []types.DeviceInfo{
			{
				MAC:          "AA:BB:CC:DD:EE:FF",
				Name:         "JBL Flip",
				Type:         "classic",
				DeviceClass:  0x240404,
				MajorClass:   "Audio/Video",
				RSSI:         &rssi,
				DiscoveredAt: started,
			},
		},
		Scenarios: []types.ScenarioSnapshot{
			{
				ID: "scen-1",
				Request: types.ScenarioRequest{
					Kind:        types.KindFlood,
					Target:      "AA:BB:CC:DD:EE:FF",
					Duration:    30 * time.Second,
					RequestedBy: "tester",
					RequestedAt: started,
				},
				Status:     types.StatusCompleted,
				StartedAt:  &started,
				FinishedAt: &finished,
				ExitCode:   &code,
				Output:     []string{"44 bytes from AA:BB:CC:DD:EE:FF"},
			},
		},
	}
}

func TestSaveAndGetSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, sampleRecord()))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)

	require.Len(t, got.Devices, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", got.Devices[0].MAC)
	assert.Equal(t, "Audio/Video", got.Devices[0].MajorClass)
	require.NotNil(t, got.Devices[0].RSSI)
	assert.Equal(t, -60, *got.Devices[0].RSSI)

	require.Len(t, got.Scenarios, 1)
	snap := got.Scenarios[0]
	assert.Equal(t, types.StatusCompleted, snap.Status)
	assert.Equal(t, types.KindFlood, snap.Request.Kind)
	require.NotNil(t, snap.ExitCode)
	assert.Equal(t, 0, *snap.ExitCode)
	assert.Equal(t, []string{"44 bytes from AA:BB:CC:DD:EE:FF"}, snap.Output)
}

func TestSaveSessionIsIdempotentReplace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord()
	require.NoError(t, store.SaveSession(ctx, record))

	record.Scenarios = append(record.Scenarios, types.ScenarioSnapshot{
		ID:      "scen-2",
		Request: types.ScenarioRequest{Kind: types.KindSniff, Target: "AA:BB:CC:DD:EE:FF"},
		Status:  types.StatusCancelled,
	})
	require.NoError(t, store.SaveSession(ctx, record))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, got.Scenarios, 2)
	assert.Len(t, got.Devices, 1)
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSession(context.Background(), "nope")
	assert.Error(t, err)
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := types.SessionRecord{ID: "old", CreatedAt: time.Now().Add(-time.Hour)}
	newer := types.SessionRecord{ID: "new", CreatedAt: time.Now()}
	require.NoError(t, store.SaveSession(ctx, older))
	require.NoError(t, store.SaveSession(ctx, newer))

	records, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "old", records[1].ID)
}

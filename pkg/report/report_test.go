package report

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsentry/btsentry/pkg/types"
)

func TestGenerateWritesHTMLReport(t *testing.T) {
	dir := t.TempDir()
	gen, err := NewGenerator(dir)
	require.NoError(t, err)

	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	code := 0
	record := types.SessionRecord{
		ID:        "sess-1",
		CreatedAt: started,
		Devices: []types.DeviceInfo{
			{MAC: "AA:BB:CC:DD:EE:FF", Name: "JBL Flip", Type: "classic", MajorClass: "Audio/Video", DiscoveredAt: started},
		},
		Scenarios: []types.ScenarioSnapshot{
			{
				ID:         "scen-1",
				Request:    types.ScenarioRequest{Kind: types.KindFlood, Target: "AA:BB:CC:DD:EE:FF"},
				Status:     types.StatusCompleted,
				StartedAt:  &started,
				FinishedAt: &finished,
				ExitCode:   &code,
				Output:     []string{"44 bytes from AA:BB:CC:DD:EE:FF"},
			},
		},
	}

	path, err := gen.Generate(record, "One speaker was found and survived a ping flood.")
	require.NoError(t, err)

	html, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(html)

	assert.Contains(t, content, "sess-1")
	assert.Contains(t, content, "JBL Flip")
	assert.Contains(t, content, "AA:BB:CC:DD:EE:FF")
	assert.Contains(t, content, "flood")
	assert.Contains(t, content, "completed")
	assert.Contains(t, content, "44 bytes from AA:BB:CC:DD:EE:FF")
	assert.Contains(t, content, "One speaker was found")
}

func TestGenerateEscapesHostileDeviceNames(t *testing.T) {
	gen, err := NewGenerator(t.TempDir())
	require.NoError(t, err)

	record := types.SessionRecord{
		ID:        "sess-2",
		CreatedAt: time.Now().UTC(),
		Devices: []types.DeviceInfo{
			{MAC: "AA:BB:CC:DD:EE:FF", Name: "<script>alert(1)</script>", DiscoveredAt: time.Now()},
		},
	}

	path, err := gen.Generate(record, "")
	require.NoError(t, err)

	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(html), "<script>alert(1)</script>",
		"device names are attacker-controlled and must be escaped")
}

func TestGenerateEmptySession(t *testing.T) {
	gen, err := NewGenerator(t.TempDir())
	require.NoError(t, err)

	path, err := gen.Generate(types.SessionRecord{ID: "empty", CreatedAt: time.Now().UTC()}, "")
	require.NoError(t, err)

	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "No devices were discovered.")
	assert.Contains(t, string(html), "No scenarios were executed.")
}

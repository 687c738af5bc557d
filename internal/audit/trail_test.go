package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsentry/btsentry/pkg/types"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	trail, err := Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	defer trail.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, trail.Append(types.AuditEntry{
			Action:  "scenario_state",
			Outcome: "running",
		}))
	}

	entries, err := trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, entry := range entries {
		assert.Equal(t, uint64(i+1), entry.Sequence)
		assert.False(t, entry.Timestamp.IsZero())
		assert.Equal(t, "system", entry.Actor)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	trail, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, trail.Append(types.AuditEntry{Action: "authorization_granted"}))
	}
	require.NoError(t, trail.Close())

	trail, err = Open(path)
	require.NoError(t, err)
	defer trail.Close()
	require.NoError(t, trail.Append(types.AuditEntry{Action: "authorization_granted"}))

	entries, err := trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, uint64(6), entries[5].Sequence)
}

func TestConcurrentAppendsAreGapFree(t *testing.T) {
	trail, err := Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	defer trail.Close()

	const writers = 10
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = trail.Append(types.AuditEntry{
					Action: "scenario_state",
					Detail: fmt.Sprintf("writer %d", w),
				})
			}
		}(w)
	}
	wg.Wait()

	entries, err := trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)

	seen := make(map[uint64]bool)
	for _, entry := range entries {
		assert.False(t, seen[entry.Sequence], "duplicate sequence %d", entry.Sequence)
		seen[entry.Sequence] = true
	}
	for seq := uint64(1); seq <= writers*perWriter; seq++ {
		assert.True(t, seen[seq], "missing sequence %d", seq)
	}
}

func TestTornFinalLineTolerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	trail, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, trail.Append(types.AuditEntry{Action: "privilege_acquired"}))
	}
	require.NoError(t, trail.Close())

	// Simulate a crash mid-write of the fourth entry.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":4,"action":"priv`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	trail, err = Open(path)
	require.NoError(t, err)
	defer trail.Close()

	entries, err := trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// The next append continues from the last complete entry.
	require.NoError(t, trail.Append(types.AuditEntry{Action: "privilege_acquired"}))
	entries, err = trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, uint64(4), entries[3].Sequence)
}

func TestReadAllOnEmptyTrail(t *testing.T) {
	trail, err := Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	defer trail.Close()

	entries, err := trail.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

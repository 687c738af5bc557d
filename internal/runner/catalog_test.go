package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsentry/btsentry/pkg/types"
)

func TestCatalogCoversEveryKind(t *testing.T) {
	catalog := NewCatalog("hci0")
	for _, kind := range types.Kinds() {
		spec, err := catalog.Resolve(kind)
		require.NoError(t, err, "kind %s", kind)
		assert.NotEmpty(t, spec.Binary)
		assert.NotNil(t, spec.Args)
	}
}

func TestCatalogRejectsUnknownKind(t *testing.T) {
	catalog := NewCatalog("hci0")
	_, err := catalog.Resolve("warpdrive")
	assert.Error(t, err)
}

func TestFloodArgsUseAdapterAndPacketSize(t *testing.T) {
	catalog := NewCatalog("hci1")
	spec, err := catalog.Resolve(types.KindFlood)
	require.NoError(t, err)

	args := spec.Args(types.ScenarioRequest{
		Kind:   types.KindFlood,
		Target: "AA:BB:CC:DD:EE:FF",
	})
	assert.Equal(t, []string{"-i", "hci1", "-s", "600", "-f", "AA:BB:CC:DD:EE:FF"}, args)

	args = spec.Args(types.ScenarioRequest{
		Kind:       types.KindFlood,
		Target:     "AA:BB:CC:DD:EE:FF",
		Parameters: map[string]string{"packet_size": "1200"},
	})
	assert.Equal(t, []string{"-i", "hci1", "-s", "1200", "-f", "AA:BB:CC:DD:EE:FF"}, args)
}

func TestSniffArgsOptionalCaptureFile(t *testing.T) {
	catalog := NewCatalog("hci0")
	spec, err := catalog.Resolve(types.KindSniff)
	require.NoError(t, err)

	args := spec.Args(types.ScenarioRequest{Kind: types.KindSniff, Target: "AA:BB:CC:DD:EE:FF"})
	assert.NotContains(t, args, "-w")

	args = spec.Args(types.ScenarioRequest{
		Kind:       types.KindSniff,
		Target:     "AA:BB:CC:DD:EE:FF",
		Parameters: map[string]string{"capture_file": "session.pcapng"},
	})
	assert.Contains(t, args, "-w")
	assert.Contains(t, args, "session.pcapng")
}

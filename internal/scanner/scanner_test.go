package scanner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/pkg/types"
)

type passthroughBroker struct{}

func (passthroughBroker) Acquire(_ context.Context, instanceID string) (*types.PrivilegeGrant, error) {
	return &types.PrivilegeGrant{Strategy: "none", InstanceID: instanceID}, nil
}
func (passthroughBroker) Release(_ *types.PrivilegeGrant)                       {}
func (passthroughBroker) Wrap(_ *types.PrivilegeGrant, argv []string) []string  { return argv }

var _ core.PrivilegeBroker = passthroughBroker{}

const classicScanOutput = `Scanning ...
	AA:BB:CC:DD:EE:01	0x240404	JBL Flip 5
	AA:BB:CC:DD:EE:02	0x5a020c	Pixel 7
`

const leScanOutput = `LE Scan ...
AA:BB:CC:DD:EE:03 (unknown)
AA:BB:CC:DD:EE:03 Mi Band 6
AA:BB:CC:DD:EE:03 (unknown)
`

const sdpBrowseOutput = `Browsing AA:BB:CC:DD:EE:01 ...
Service Name: Audio Sink
Service RecHandle: 0x10001
Service Class ID List:
  "Audio Sink" (0x110b)
Protocol Descriptor List:
  "L2CAP" (0x0100)
  "AVDTP" (0x0019)

Service Name: Hands-Free unit
Service RecHandle: 0x10002
Protocol Descriptor List:
  "L2CAP" (0x0100)
  "RFCOMM" (0x0003)
    Channel: 2
`

func newTestScanner(t *testing.T, cfg config.BluetoothConfig) *BluetoothScanner {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	s := New(cfg, passthroughBroker{}, log)
	s.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	return s
}

func TestScanMergesClassicAndLowEnergy(t *testing.T) {
	s := newTestScanner(t, config.BluetoothConfig{
		Adapter:      "hci0",
		ScanDuration: time.Second,
		Classic:      true,
		LowEnergy:    true,
	})
	s.runCmd = func(_ context.Context, argv []string) (string, error) {
		if contains(argv, "lescan") {
			return leScanOutput, nil
		}
		return classicScanOutput, nil
	}

	devices, err := s.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, "AA:BB:CC:DD:EE:01", devices[0].MAC)
	assert.Equal(t, "JBL Flip 5", devices[0].Name)
	assert.Equal(t, "classic", devices[0].Type)
	assert.Equal(t, "Audio/Video", devices[0].MajorClass)

	assert.Equal(t, "Pixel 7", devices[1].Name)
	assert.Equal(t, "Phone", devices[1].MajorClass)

	assert.Equal(t, "AA:BB:CC:DD:EE:03", devices[2].MAC)
	assert.Equal(t, "Mi Band 6", devices[2].Name, "a later advertisement with a name fills in an unknown one")
	assert.Equal(t, "le", devices[2].Type)
}

func TestScanClassicOnly(t *testing.T) {
	s := newTestScanner(t, config.BluetoothConfig{Adapter: "hci0", Classic: true})
	var sawLEScan bool
	s.runCmd = func(_ context.Context, argv []string) (string, error) {
		if contains(argv, "lescan") {
			sawLEScan = true
		}
		return classicScanOutput, nil
	}

	devices, err := s.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.False(t, sawLEScan)
}

func TestScanMissingTool(t *testing.T) {
	s := newTestScanner(t, config.BluetoothConfig{Adapter: "hci0", Classic: true})
	s.lookPath = func(string) (string, error) { return "", assert.AnError }

	_, err := s.Scan(context.Background(), time.Second)
	var unavailable *types.ToolUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "hcitool", unavailable.Binary)
}

func TestEnumerateServicesParsesRecords(t *testing.T) {
	s := newTestScanner(t, config.BluetoothConfig{Adapter: "hci0"})
	s.runCmd = func(_ context.Context, argv []string) (string, error) {
		assert.Equal(t, []string{"sdptool", "browse", "AA:BB:CC:DD:EE:01"}, argv)
		return sdpBrowseOutput, nil
	}

	report, err := s.EnumerateServices(context.Background(), "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", report.MAC)
	require.Len(t, report.Services, 2)

	assert.Equal(t, "Audio Sink", report.Services[0].Name)
	assert.Equal(t, "L2CAP", report.Services[0].Protocol)

	assert.Equal(t, "Hands-Free unit", report.Services[1].Name)
	assert.Equal(t, "2", report.Services[1].Channel)
}

func TestEnumerateServicesRejectsBadMAC(t *testing.T) {
	s := newTestScanner(t, config.BluetoothConfig{Adapter: "hci0"})
	_, err := s.EnumerateServices(context.Background(), "not-a-mac")
	assert.True(t, types.IsValidation(err))
}

func contains(argv []string, want string) bool {
	for _, a := range argv {
		if strings.Contains(a, want) {
			return true
		}
	}
	return false
}

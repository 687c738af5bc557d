package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "hci0", cfg.Bluetooth.Adapter)

	// Safety posture defaults on.
	assert.True(t, cfg.Attacks.EthicalMode)
	assert.True(t, cfg.Attacks.RequireConfirmation)

	assert.Equal(t, 5*time.Minute, cfg.Attacks.MaxDuration)
	assert.Equal(t, 3, cfg.Attacks.WorkerCount)
	assert.Equal(t, 5*time.Second, cfg.Attacks.CancelGrace)
	assert.Equal(t, 1000, cfg.Attacks.OutputBufferLines)

	assert.Equal(t, []string{"pkexec", "sudo"}, cfg.Privilege.Methods)
	assert.Equal(t, "logs/audit.jsonl", cfg.Audit.Path)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.Ollama.Enabled)
}

package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsentry/btsentry/internal/config"
)

func TestNewWithValidConfig(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		log, err := New(config.LoggerConfig{Level: "debug", Format: format})
		require.NoError(t, err, "format %s", format)
		require.NotNil(t, log)
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := New(config.LoggerConfig{Level: "loud", Format: "console"})
	assert.Error(t, err)
}

func TestWithFieldsReturnsDerivedLogger(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	derived := log.WithComponent("runner").WithScenarioID("abc").WithTarget("AA:BB:CC:DD:EE:FF")
	require.NotNil(t, derived)
	assert.NotSame(t, log, derived)
}

func TestOperationSpanLifecycle(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	ctx, span := log.StartOperation(context.Background(), "test_op", "key", "value")
	require.NotNil(t, span)
	log.FinishOperation(ctx, span, "test_op", time.Now(), nil)

	ctx, span = log.StartOperation(context.Background(), "failing_op")
	log.FinishOperation(ctx, span, "failing_op", time.Now(), errors.New("boom"))
}

func TestLogSecurityEvent(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	log.LogSecurityEvent(context.Background(), "authorization_granted", map[string]interface{}{
		"target": "AA:BB:CC:DD:EE:FF",
	})
}

func TestContextRoundTrip(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))

	// A bare context still yields a usable logger.
	assert.NotNil(t, FromContext(context.Background()))
}

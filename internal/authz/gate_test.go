package authz

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsentry/btsentry/internal/audit"
	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/pkg/types"
)

type stubConfirmer struct {
	approve bool
	err     error
	asked   int
}

func (s *stubConfirmer) Confirm(_ context.Context, _ string) (bool, error) {
	s.asked++
	return s.approve, s.err
}

type countingTelemetry struct {
	granted int
	denied  int
}

func (c *countingTelemetry) RecordScenario(_ types.ScenarioKind, _ float64, _ types.Status) {}

func (c *countingTelemetry) RecordAuthorization(allowed bool) {
	if allowed {
		c.granted++
	} else {
		c.denied++
	}
}

func (c *countingTelemetry) RecordWorkerMetrics(_ *types.WorkerStatus) {}
func (c *countingTelemetry) Close() error                              { return nil }

func newTestGate(t *testing.T, policy config.AttackPolicy, confirmer core.Confirmer) (*Gate, *audit.Trail) {
	t.Helper()
	trail, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	return NewGate(policy, confirmer, trail, nil, log), trail
}

func testRequest() types.ScenarioRequest {
	return types.ScenarioRequest{
		Kind:        types.KindFlood,
		Target:      "AA:BB:CC:DD:EE:FF",
		RequestedBy: "tester",
	}
}

func TestEthicalModeOffGrantsAutomatically(t *testing.T) {
	confirmer := &stubConfirmer{}
	gate, trail := newTestGate(t, config.AttackPolicy{EthicalMode: false, RequireConfirmation: true}, confirmer)

	decision, err := gate.Authorize(context.Background(), "inst-1", testRequest())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Zero(t, confirmer.asked, "confirmer must not be consulted when ethical mode is off")

	entries, err := trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "authorization_requested", entries[0].Action)
	assert.Equal(t, "authorization_granted", entries[1].Action)
}

func TestOperatorDeclineDenies(t *testing.T) {
	gate, trail := newTestGate(t, config.AttackPolicy{EthicalMode: true, RequireConfirmation: true}, &stubConfirmer{approve: false})

	decision, err := gate.Authorize(context.Background(), "inst-1", testRequest())
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "operator declined", decision.Reason)

	entries, err := trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "authorization_denied", entries[1].Action)
}

func TestDecisionsReachTelemetry(t *testing.T) {
	trail, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	tel := &countingTelemetry{}
	policy := config.AttackPolicy{EthicalMode: true, RequireConfirmation: true}
	gate := NewGate(policy, &stubConfirmer{approve: true}, trail, tel, log)

	_, err = gate.Authorize(context.Background(), "inst-1", testRequest())
	require.NoError(t, err)

	gate = NewGate(policy, &stubConfirmer{approve: false}, trail, tel, log)
	_, err = gate.Authorize(context.Background(), "inst-2", testRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, tel.granted)
	assert.Equal(t, 1, tel.denied)
}

func TestOperatorApprovalGrants(t *testing.T) {
	gate, _ := newTestGate(t, config.AttackPolicy{EthicalMode: true, RequireConfirmation: true}, &stubConfirmer{approve: true})

	decision, err := gate.Authorize(context.Background(), "inst-1", testRequest())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestConfirmationErrorFailsClosed(t *testing.T) {
	gate, trail := newTestGate(t, config.AttackPolicy{EthicalMode: true, RequireConfirmation: true},
		&stubConfirmer{err: errors.New("stdin closed")})

	_, err := gate.Authorize(context.Background(), "inst-1", testRequest())
	require.Error(t, err)

	entries, err := trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "authorization_denied", entries[1].Action)
}

func TestTerminalConfirmerParsesAnswers(t *testing.T) {
	cases := []struct {
		input    string
		approved bool
	}{
		{"yes\n", true},
		{"YES\n", true},
		{"no\n", false},
		{"y\n", false},
		{"\n", false},
	}
	for _, tc := range cases {
		confirmer := NewTerminalConfirmer(strings.NewReader(tc.input), &strings.Builder{})
		approved, err := confirmer.Confirm(context.Background(), "proceed?")
		require.NoError(t, err)
		assert.Equal(t, tc.approved, approved, "input %q", tc.input)
	}
}

func TestTerminalConfirmerCancellable(t *testing.T) {
	// A reader that never produces input.
	blocked, w := newBlockedReader()
	defer w()

	confirmer := NewTerminalConfirmer(blocked, &strings.Builder{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		approved, err := confirmer.Confirm(ctx, "proceed?")
		assert.False(t, approved)
		assert.ErrorIs(t, err, context.Canceled)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Confirm did not unblock on context cancellation")
	}
}

type blockedReader struct{ ch chan struct{} }

func (b *blockedReader) Read(_ []byte) (int, error) {
	<-b.ch
	return 0, context.Canceled
}

func newBlockedReader() (*blockedReader, func()) {
	b := &blockedReader{ch: make(chan struct{})}
	var once bool
	return b, func() {
		if !once {
			once = true
			close(b.ch)
		}
	}
}

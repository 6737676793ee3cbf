package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalping/probe-agent/internal/config"
)

func TestNewDisabledYieldsSafeNoOp(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, config.Telemetry{Enabled: false})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	assert.NotPanics(t, func() {
		m.RecordJobDispatched(ctx, "ping")
		m.RecordReconnect(ctx)
		m.RecordPrivateIPBlocked(ctx)
	})
}

func TestNewStdoutExporterRegistersInstruments(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, config.Telemetry{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	require.NotNil(t, m.jobsDispatched)
	require.NotNil(t, m.reconnects)
	require.NotNil(t, m.privateIPBlocked)

	assert.NotPanics(t, func() {
		m.RecordJobDispatched(ctx, "dns")
		m.RecordReconnect(ctx)
		m.RecordPrivateIPBlocked(ctx)
	})
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	_, err := New(context.Background(), config.Telemetry{Enabled: true, Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNilMetricsRecordAndShutdownAreNoOps(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordJobDispatched(ctx, "mtr")
		m.RecordReconnect(ctx)
		m.RecordPrivateIPBlocked(ctx)
		_ = m.Shutdown(ctx)
	})
}

func TestGlobalReturnsWhateverWasSet(t *testing.T) {
	defer SetGlobal(nil)

	assert.Nil(t, Global())

	ctx := context.Background()
	m, err := New(ctx, config.Telemetry{Enabled: false})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	SetGlobal(m)
	assert.Same(t, m, Global())
}

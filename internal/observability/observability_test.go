package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json")

	logger.Debug("hello", slog.String("session_id", "abc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "abc", line["session_id"])
}

func TestNewLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestMetricsRegistered(t *testing.T) {
	m := NewMetrics()

	m.ExecutionsTotal.WithLabelValues("success").Inc()
	m.GateChecksTotal.WithLabelValues("allowed").Inc()
	m.PoolInFlight.Inc()

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["runbox_execution_total"])
	assert.True(t, names["runbox_gate_checks_total"])
	assert.True(t, names["runbox_pool_in_flight"])
}

func TestObserveSweep(t *testing.T) {
	m := NewMetrics()

	m.ObserveSweep(3, nil)
	m.ObserveSweep(1, errors.New("boom"))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.SessionsSweptTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepFailuresTotal))

	var nilMetrics *Metrics
	nilMetrics.ObserveSweep(1, nil)
}

func TestTracerSetupDisabled(t *testing.T) {
	ts, err := NewTracerSetup(context.Background(), TracingConfig{})
	require.NoError(t, err)
	assert.Nil(t, ts)

	// A nil setup still hands out a usable tracer.
	_, span := ts.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, ts.Shutdown(context.Background()))
}

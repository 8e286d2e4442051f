package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	tel, err := New(Config{})
	require.NoError(t, err)

	tel.Execution("complete")
	tel.Execution("complete")
	tel.Execution("blocked")
	tel.Revisit("backward")
	tel.Violation("non-atomic-race")
	tel.SubExploration()

	assert.Equal(t, 2.0, testutil.ToFloat64(tel.executions.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.executions.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.revisits.WithLabelValues("backward")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.violations.WithLabelValues("non-atomic-race")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.states))
	require.NoError(t, tel.Close(context.Background()))
}

// TestIndependentRegistries verifies that two runs in one process keep
// separate counters.
func TestIndependentRegistries(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)
	b, err := New(Config{})
	require.NoError(t, err)

	a.Execution("complete")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.executions.WithLabelValues("complete")))
}

// TestOutputs verifies that Close writes the textfile and the spans.
func TestOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		MetricsFile: filepath.Join(dir, "weakcheck.prom"),
		TraceFile:   filepath.Join(dir, "trace.json"),
		RunID:       "run-1",
		Version:     "test",
	}
	tel, err := New(cfg)
	require.NoError(t, err)

	ctx, run := tel.StartRun(context.Background(), "sb", "ra")
	_, st := tel.StartState(ctx, 0)
	tel.Execution("complete")
	st.End()
	run.End()
	require.NoError(t, tel.Close(context.Background()))

	metrics, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `weakcheck_executions_total{outcome="complete"} 1`)

	spans, err := os.ReadFile(cfg.TraceFile)
	require.NoError(t, err)
	assert.Contains(t, string(spans), "weakcheck.run")
	assert.Contains(t, string(spans), "weakcheck.subexploration")
	assert.Contains(t, string(spans), "run-1")
}

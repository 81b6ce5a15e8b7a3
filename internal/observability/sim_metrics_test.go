package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

func TestSimCollectorObservesEngineHours(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	cfg := core.EngineConfig{
		Topology: []core.TopologyEntry{
			{ID: "A", Downstream: []string{"P"}},
			{ID: "B", Downstream: []string{"P"}},
		},
		PlantID:     "P",
		OverflowID:  "O",
		HourlyMeans: core.HourlyMeans{0: {"A": 2100}},
		Plant:       model.DefaultPlantThresholds(),
		MaxHours:    2,
	}
	e, err := core.NewSimulationEngine(cfg, core.WithObserver(c), core.WithMissingMeanRecorder(c))
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ToFloat64(c.HoursSimulated); got != 2 {
		t.Fatalf("hours simulated = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.CurrentHour); got != 2 {
		t.Fatalf("current hour = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.NodeFlow.WithLabelValues("A", "current")); got != 2100 {
		t.Fatalf("node A flow = %v, want 2100", got)
	}
	// A = 2100, B = default 50 -> plant 2150 is CRITICAL.
	if got := testutil.ToFloat64(c.PlantRegime); got != float64(model.RegimeCritical) {
		t.Fatalf("plant regime = %v, want CRITICAL", got)
	}
	if got := testutil.ToFloat64(c.RegimeHours.WithLabelValues("CRITICAL")); got != 2 {
		t.Fatalf("critical hours = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.OverflowActive); got != 1 {
		t.Fatalf("overflow active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.MissingMean.WithLabelValues("B", "default")); got != 2 {
		t.Fatalf("missing mean B = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.MissingMean.WithLabelValues("A", "hour_zero")); got != 1 {
		t.Fatalf("missing mean A = %v, want 1 (hour 2 falls back)", got)
	}

	c.ObserveStepDuration(2 * time.Millisecond)
	if count := histogramSampleCount(t, reg, "sewersim_step_duration_seconds", nil); count != 1 {
		t.Fatalf("step duration samples = %d, want 1", count)
	}
}

func TestSimCollectorNilSafe(t *testing.T) {
	var c *SimCollector
	c.ObserveHour(context.Background(), &core.HourSnapshot{})
	c.RecordMissingMean("x", core.MeanDefault)
	c.ObserveStepDuration(time.Second)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector has no gatherer")
	}
}

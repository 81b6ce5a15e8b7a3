package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

// SimCollector exposes the simulated catchment as Prometheus metrics. It is
// registered on the engine as both HourObserver and MissingMeanRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	HoursSimulated prometheus.Counter
	CurrentHour    prometheus.Gauge
	StepDuration   prometheus.Histogram

	RainIntensity prometheus.Gauge
	RainDepth     prometheus.Gauge

	NodeFlow    *prometheus.GaugeVec
	NodeAlert   *prometheus.GaugeVec
	AlertNodes  prometheus.Gauge
	MissingMean *prometheus.CounterVec

	PlantTotalIn   prometheus.Gauge
	PlantEstimated prometheus.Gauge
	PlantRegime    prometheus.Gauge
	RegimeHours    *prometheus.CounterVec

	SplitFactorApplied prometheus.Gauge
	SplitFactorNext    prometheus.Gauge
	OverflowActive     prometheus.Gauge
	OverflowDiverted   prometheus.Gauge
	DivertedVolume     prometheus.Counter
	Undischarged       prometheus.Gauge
}

// NewSimCollector registers simulation metrics against reg, defaulting to
// the global registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimCollector{gatherer: gatherer}
	var err error

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.CurrentHour, "sewersim_current_hour", "Last simulated hour (1-based)."},
		{&c.RainIntensity, "sewersim_rain_intensity_mm_per_hour", "Rain intensity applied in the last simulated hour."},
		{&c.RainDepth, "sewersim_rain_depth_mm", "Accumulated rain depth in the last simulated hour."},
		{&c.AlertNodes, "sewersim_alert_nodes", "Number of flow nodes in ALERT during the last simulated hour."},
		{&c.PlantTotalIn, "sewersim_plant_total_inflow", "Plant inflow including the rain-depth correction (m3/h)."},
		{&c.PlantEstimated, "sewersim_plant_estimated_flow", "Flow the plant is estimated to treat (m3/h)."},
		{&c.PlantRegime, "sewersim_plant_regime", "Plant regime: 0 normal, 1 warning, 2 critical, 3 failure soft, 4 failure hard."},
		{&c.SplitFactorApplied, "sewersim_split_factor_applied", "Overflow split factor used by feeders in the last hour."},
		{&c.SplitFactorNext, "sewersim_split_factor_next", "Overflow split factor decided for the next hour."},
		{&c.OverflowActive, "sewersim_overflow_active", "1 when the overflow was active in the last hour."},
		{&c.OverflowDiverted, "sewersim_overflow_diverted_flow", "Flow diverted to the overflow in the last hour (m3/h)."},
		{&c.Undischarged, "sewersim_undischarged_flow", "Excess above nominal that neither plant nor overflow took (m3/h)."},
	}
	for _, g := range gauges {
		if *g.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name); err != nil {
			return nil, err
		}
	}

	if c.HoursSimulated, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sewersim_hours_simulated_total",
		Help: "Total number of simulated hours.",
	}), "sewersim_hours_simulated_total"); err != nil {
		return nil, err
	}
	if c.DivertedVolume, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sewersim_overflow_diverted_volume_total",
		Help: "Cumulative volume sent to the overflow (m3).",
	}), "sewersim_overflow_diverted_volume_total"); err != nil {
		return nil, err
	}
	if c.StepDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sewersim_step_duration_seconds",
		Help:    "Wall-clock time spent simulating one hour.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}), "sewersim_step_duration_seconds"); err != nil {
		return nil, err
	}

	if c.NodeFlow, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sewersim_node_flow",
		Help: "Total flow at each node in the last simulated hour (m3/h).",
	}, []string{"node", "component"}), "sewersim_node_flow"); err != nil {
		return nil, err
	}
	if c.NodeAlert, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sewersim_node_alert",
		Help: "1 when the node was in ALERT during the last simulated hour.",
	}, []string{"node"}), "sewersim_node_alert"); err != nil {
		return nil, err
	}
	if c.MissingMean, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sewersim_missing_mean_total",
		Help: "Hourly-mean lookups that fell back, labeled by node and fallback.",
	}, []string{"node", "fallback"}), "sewersim_missing_mean_total"); err != nil {
		return nil, err
	}
	if c.RegimeHours, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sewersim_plant_regime_hours_total",
		Help: "Hours spent in each plant regime.",
	}, []string{"regime"}), "sewersim_plant_regime_hours_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// ObserveHour implements core.HourObserver.
func (c *SimCollector) ObserveHour(_ context.Context, s *core.HourSnapshot) {
	if c == nil || s == nil {
		return
	}
	c.HoursSimulated.Inc()
	c.CurrentHour.Set(float64(s.Hour))
	c.RainIntensity.Set(s.Rain.Intensity)
	c.RainDepth.Set(s.Rain.Depth)

	for _, n := range s.Nodes {
		c.NodeFlow.WithLabelValues(n.ID, "current").Set(n.CurrentFlow)
		c.NodeFlow.WithLabelValues(n.ID, "local").Set(n.LocalFlow)
		c.NodeFlow.WithLabelValues(n.ID, "mean").Set(n.MeanFlow)
		c.NodeAlert.WithLabelValues(n.ID).Set(boolGauge(n.Status == model.StatusAlert))
	}
	c.AlertNodes.Set(float64(s.AlertCount()))

	c.PlantTotalIn.Set(s.Plant.TotalIn)
	c.PlantEstimated.Set(s.Plant.EstimatedFlow)
	c.PlantRegime.Set(float64(s.Plant.Regime))
	c.RegimeHours.WithLabelValues(s.Plant.Regime.String()).Inc()

	c.SplitFactorApplied.Set(s.AppliedSplitFactor)
	c.SplitFactorNext.Set(s.Plant.NextSplitFactor)
	c.OverflowActive.Set(boolGauge(s.Overflow.Active))
	c.OverflowDiverted.Set(s.Overflow.DivertedFlow)
	if s.Overflow.DivertedFlow > 0 {
		// One hour at the diverted rate.
		c.DivertedVolume.Add(s.Overflow.DivertedFlow)
	}
	c.Undischarged.Set(s.Undischarged)
}

// RecordMissingMean implements core.MissingMeanRecorder.
func (c *SimCollector) RecordMissingMean(nodeID string, source core.MeanSource) {
	if c == nil {
		return
	}
	c.MissingMean.WithLabelValues(nodeID, source.String()).Inc()
}

// ObserveStepDuration records how long one engine step took.
func (c *SimCollector) ObserveStepDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.StepDuration.Observe(d.Seconds())
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

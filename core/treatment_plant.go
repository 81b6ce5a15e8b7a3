package core

import (
	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

// TreatmentPlant aggregates terminal inflow, classifies its operating regime
// and decides how much upstream flow must be diverted next hour.
type TreatmentPlant struct {
	ID         string
	Location   orb.Point
	Thresholds model.PlantThresholds

	InflowFromGraph float64
	TotalIn         float64
	EstimatedFlow   float64
	Regime          model.Regime

	split    *SplitControl
	overflow *OverflowPoint
}

// NewTreatmentPlant wires the plant to the split control it writes and the
// overflow it gates. Thresholds are validated by the caller.
func NewTreatmentPlant(id string, loc orb.Point, th model.PlantThresholds, split *SplitControl, overflow *OverflowPoint) *TreatmentPlant {
	return &TreatmentPlant{
		ID:         id,
		Location:   loc,
		Thresholds: th,
		split:      split,
		overflow:   overflow,
	}
}

// ResetBuffers clears per-hour state.
func (p *TreatmentPlant) ResetBuffers() {
	p.InflowFromGraph = 0
	p.TotalIn = 0
	p.EstimatedFlow = 0
	p.Regime = model.RegimeNormal
}

// Receive implements Receiver.
func (p *TreatmentPlant) Receive(amount float64) {
	if amount > 0 {
		p.InflowFromGraph += amount
	}
}

// PlantDecision is the result of evaluating one total inflow.
type PlantDecision struct {
	Regime         model.Regime
	EstimatedFlow  float64
	SplitFactor    float64
	OverflowActive bool
}

// Evaluate classifies totalIn against the thresholds. It has no side effects.
func Evaluate(th model.PlantThresholds, totalIn float64) PlantDecision {
	d := PlantDecision{EstimatedFlow: totalIn}
	switch {
	case totalIn <= th.Nominal:
		d.Regime = model.RegimeNormal
	case totalIn <= th.Warning:
		d.Regime = model.RegimeWarning
	case totalIn <= th.Hydraulic:
		d.Regime = model.RegimeCritical
		d.SplitFactor = 1
		if span := th.Hydraulic - th.Warning; span > 0 {
			d.SplitFactor = clamp01((totalIn - th.Warning) / span)
		}
	case totalIn <= th.RetentionLimit():
		d.Regime = model.RegimeFailureSoft
		d.EstimatedFlow = th.Hydraulic
		d.SplitFactor = 1
	default:
		d.Regime = model.RegimeFailureHard
		d.EstimatedFlow = th.Hydraulic
		d.SplitFactor = 1
	}
	d.OverflowActive = d.Regime.DivertsToOverflow()
	return d
}

// Step evaluates this hour's inflow plus the rainfall-depth correction. The
// pending split decision and the overflow flag are cleared first so nothing
// stale survives an hour in which conditions improved.
func (p *TreatmentPlant) Step(rainDepth float64) PlantDecision {
	if p.split != nil {
		p.split.ResetNext()
	}
	if p.overflow != nil {
		p.overflow.Active = false
	}

	p.TotalIn = p.InflowFromGraph + p.Thresholds.KRainDepth*rainDepth
	d := Evaluate(p.Thresholds, p.TotalIn)

	p.Regime = d.Regime
	p.EstimatedFlow = d.EstimatedFlow
	if p.split != nil {
		p.split.SetNext(d.SplitFactor, d.OverflowActive)
	}
	if p.overflow != nil {
		p.overflow.Active = d.OverflowActive
	}
	return d
}

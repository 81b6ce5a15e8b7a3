package core

import (
	"math"

	"github.com/paulmach/orb"
)

// OverflowPoint is the emergency outfall. It only discharges when the plant
// has activated it during the current hour's band evaluation.
type OverflowPoint struct {
	ID       string
	Location orb.Point

	// Capacity is the maximum sustained diversion rate; +Inf when unbounded.
	Capacity float64

	InflowFromGraph float64
	DivertedFlow    float64
	Active          bool
}

// NewOverflowPoint builds an overflow; a non-positive or NaN capacity means
// unbounded.
func NewOverflowPoint(id string, loc orb.Point, capacity float64) *OverflowPoint {
	if capacity <= 0 || math.IsNaN(capacity) {
		capacity = math.Inf(1)
	}
	return &OverflowPoint{ID: id, Location: loc, Capacity: capacity}
}

// ResetBuffers clears per-hour state including the activation flag; the
// plant re-raises it when conditions require.
func (o *OverflowPoint) ResetBuffers() {
	o.InflowFromGraph = 0
	o.DivertedFlow = 0
	o.Active = false
}

// Receive implements Receiver.
func (o *OverflowPoint) Receive(amount float64) {
	if amount > 0 {
		o.InflowFromGraph += amount
	}
}

// Step computes the diverted flow for this hour.
func (o *OverflowPoint) Step() {
	if !o.Active {
		o.DivertedFlow = 0
		return
	}
	o.DivertedFlow = math.Min(o.InflowFromGraph, o.Capacity)
}

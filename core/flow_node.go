package core

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

const (
	// StorageDecay is the per-hour retention of the rainfall-depth storage.
	StorageDecay = 0.9
	// DefaultInfiltrationGamma converts storage into baseline flow.
	DefaultInfiltrationGamma = 0.02
	// AlertRatio is the multiple of mean flow above which a node alerts.
	AlertRatio = 1.5
)

// Receiver accepts flow routed from an upstream node. Contributions from
// several senders within one hour accumulate.
type Receiver interface {
	Receive(amount float64)
}

// SplitSource exposes the overflow split decision in force for the
// current hour's routing.
type SplitSource interface {
	Current() (factor float64, active bool)
}

// RoutedPortion is the amount one node delivered to one successor.
type RoutedPortion struct {
	Target string
	Amount float64
}

type routeTarget struct {
	id   string
	recv Receiver
}

// FlowNode is one monitored sub-catchment. It produces local flow from dry
// weather baseline, lagged rainfall response and storage, adds whatever its
// upstream neighbours routed into it this hour, and forwards the result.
type FlowNode struct {
	ID       string
	Location orb.Point
	Params   model.NodeParams

	// MeanFlow is the expected dry-weather flow for the current hour.
	MeanFlow float64
	// LocalMeanFlow removes upstream dry flow already counted in MeanFlow.
	LocalMeanFlow float64

	InflowFromUpstream float64
	LocalFlow          float64
	CurrentFlow        float64
	Status             model.Status

	// Storage and the rain buffer persist across hours.
	Storage    float64
	rainBuffer float64

	gamma float64

	upstream []*FlowNode
	targets  []routeTarget

	// feedsOverflow marks a node eligible for the lagged overflow split.
	feedsOverflow bool
	overflowID    string
	split         SplitSource
}

// NewFlowNode returns a node with zeroed buffers. Graph wiring happens in
// the engine.
func NewFlowNode(id string, loc orb.Point, params model.NodeParams, gamma float64) *FlowNode {
	return &FlowNode{
		ID:       id,
		Location: loc,
		Params:   params,
		gamma:    gamma,
	}
}

// ResetBuffers clears the per-hour state. Storage and the lagged rain value
// are kept.
func (n *FlowNode) ResetBuffers() {
	n.InflowFromUpstream = 0
	n.LocalFlow = 0
	n.CurrentFlow = 0
	n.Status = model.StatusNormal
}

// Receive implements Receiver.
func (n *FlowNode) Receive(amount float64) {
	if amount > 0 {
		n.InflowFromUpstream += amount
	}
}

// refreshLocalMean recomputes LocalMeanFlow from the direct upstream nodes'
// MeanFlow, which must already be refreshed for this hour.
func (n *FlowNode) refreshLocalMean() {
	var up float64
	for _, u := range n.upstream {
		up += u.MeanFlow
	}
	n.LocalMeanFlow = math.Max(n.MeanFlow-up, 0)
}

// Step computes this hour's local and total flow. Upstream nodes must have
// routed into this node before it is called.
func (n *FlowNode) Step(hour int, rainIntensityNow, rainDepth float64) {
	lagged := n.rainBuffer
	n.rainBuffer = nonNegative(rainIntensityNow)

	n.Storage = StorageDecay*n.Storage + nonNegative(rainDepth)

	qBase := n.LocalMeanFlow + n.gamma*n.Storage
	var qRain float64
	if lagged > 0 {
		qRain = n.Params.KSensor * math.Pow(lagged, n.Params.Alpha) * n.Params.ImperviousFactor * n.Params.Area
	}

	n.LocalFlow = nonNegative(qBase + qRain)
	n.CurrentFlow = n.LocalFlow + n.InflowFromUpstream
	n.classify()
}

func (n *FlowNode) classify() {
	if n.CurrentFlow > AlertRatio*n.MeanFlow {
		n.Status = model.StatusAlert
	} else {
		n.Status = model.StatusNormal
	}
}

// SplitFractions returns the share of available flow per successor, aligned
// with the node's downstream order.
func (n *FlowNode) SplitFractions() []float64 {
	switch len(n.targets) {
	case 0:
		return nil
	case 1:
		return []float64{1}
	}

	fractions := make([]float64, len(n.targets))
	if n.feedsOverflow && len(n.targets) == 2 && n.split != nil {
		overflowIdx := -1
		for i, t := range n.targets {
			if t.id == n.overflowID {
				overflowIdx = i
			}
		}
		if overflowIdx >= 0 {
			f, active := n.split.Current()
			if !active || f <= 0 {
				f = 0
			}
			f = clamp01(f)
			fractions[overflowIdx] = f
			fractions[1-overflowIdx] = 1 - f
			return fractions
		}
	}

	share := 1.0 / float64(len(n.targets))
	for i := range fractions {
		fractions[i] = share
	}
	return fractions
}

// Route distributes CurrentFlow*PipeLoss among the successors and returns
// what was delivered to each.
func (n *FlowNode) Route() []RoutedPortion {
	if len(n.targets) == 0 {
		return nil
	}
	available := math.Max(0, n.CurrentFlow*n.Params.PipeLoss)

	fractions := n.SplitFractions()
	out := make([]RoutedPortion, 0, len(n.targets))
	for i, t := range n.targets {
		portion := nonNegative(available * fractions[i])
		if portion > 0 {
			t.recv.Receive(portion)
		}
		out = append(out, RoutedPortion{Target: t.id, Amount: portion})
	}
	return out
}

// Upstream returns the IDs of the direct predecessors.
func (n *FlowNode) Upstream() []string {
	ids := make([]string, len(n.upstream))
	for i, u := range n.upstream {
		ids[i] = u.ID
	}
	return ids
}

// Downstream returns the successor IDs in routing order.
func (n *FlowNode) Downstream() []string {
	ids := make([]string, len(n.targets))
	for i, t := range n.targets {
		ids[i] = t.id
	}
	return ids
}

package core

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

// NodeSnapshot is one flow node's state at the end of an hour.
type NodeSnapshot struct {
	ID       string
	Location orb.Point

	MeanFlow           float64
	LocalMeanFlow      float64
	LocalFlow          float64
	InflowFromUpstream float64
	CurrentFlow        float64
	Storage            float64
	Status             model.Status
	MeanSource         MeanSource

	Routed []RoutedPortion
}

// PlantSnapshot is the plant's state at the end of an hour.
type PlantSnapshot struct {
	ID       string
	Location orb.Point

	InflowFromGraph float64
	TotalIn         float64
	EstimatedFlow   float64
	Regime          model.Regime
	// NextSplitFactor is the decision that routing will use next hour.
	NextSplitFactor float64
}

// OverflowSnapshot is the overflow's state at the end of an hour.
type OverflowSnapshot struct {
	ID       string
	Location orb.Point

	Active          bool
	InflowFromGraph float64
	DivertedFlow    float64
	Capacity        float64
}

// HourSnapshot is the recorded result of one engine step.
type HourSnapshot struct {
	Hour      int
	HourOfDay int
	Time      time.Time

	Rain RainfallState
	// AppliedSplitFactor is the factor feeders used for routing this hour.
	AppliedSplitFactor float64
	AppliedActive      bool

	Nodes    []NodeSnapshot // topological order
	Plant    PlantSnapshot
	Overflow OverflowSnapshot

	// Undischarged is inflow above nominal that neither the plant nor the
	// overflow took; only computed while the overflow is active.
	Undischarged float64

	// Running is false when this was the last hour of the horizon.
	Running bool
}

// Node returns the snapshot of a node by ID.
func (s *HourSnapshot) Node(id string) (NodeSnapshot, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSnapshot{}, false
}

// AlertCount returns how many nodes were in ALERT.
func (s *HourSnapshot) AlertCount() int {
	c := 0
	for _, n := range s.Nodes {
		if n.Status == model.StatusAlert {
			c++
		}
	}
	return c
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *HourSnapshot) Clone() *HourSnapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Nodes = make([]NodeSnapshot, len(s.Nodes))
	for i, n := range s.Nodes {
		n.Routed = append([]RoutedPortion(nil), n.Routed...)
		cp.Nodes[i] = n
	}
	return &cp
}

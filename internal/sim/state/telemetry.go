package state

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

// NodeStats accumulates one node's behaviour over a run.
type NodeStats struct {
	NodeID     string
	PeakFlow   float64
	PeakHour   int
	AlertHours int
	// Volume is the total flow through the node (m³), one hour per step.
	Volume float64
}

// Summary is the aggregate view of every hour recorded so far.
type Summary struct {
	Hours int

	Nodes []NodeStats // sorted by NodeID

	RegimeHours        map[string]int
	OverflowHours      int
	DivertedVolume     float64
	UndischargedVolume float64

	PeakPlantInflow float64
	PeakPlantHour   int
}

// Telemetry is a concurrency-safe accumulator of per-hour results.
type Telemetry struct {
	mu     sync.RWMutex
	hours  int
	nodes  map[string]*NodeStats
	regime map[string]int

	overflowHours int
	diverted      float64
	undischarged  float64
	peakPlant     float64
	peakPlantHour int
}

// NewTelemetry creates an empty accumulator.
func NewTelemetry() *Telemetry {
	return &Telemetry{
		nodes:  make(map[string]*NodeStats),
		regime: make(map[string]int),
	}
}

// Record folds one hour into the totals.
func (t *Telemetry) Record(s *core.HourSnapshot) {
	if t == nil || s == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.hours++
	for _, n := range s.Nodes {
		st, ok := t.nodes[n.ID]
		if !ok {
			st = &NodeStats{NodeID: n.ID}
			t.nodes[n.ID] = st
		}
		if n.CurrentFlow > st.PeakFlow || st.PeakHour == 0 {
			st.PeakFlow = n.CurrentFlow
			st.PeakHour = s.Hour
		}
		if n.Status == model.StatusAlert {
			st.AlertHours++
		}
		st.Volume += n.CurrentFlow
	}

	t.regime[s.Plant.Regime.String()]++
	if s.Overflow.Active {
		t.overflowHours++
	}
	t.diverted += s.Overflow.DivertedFlow
	t.undischarged += s.Undischarged
	if s.Plant.TotalIn > t.peakPlant || t.peakPlantHour == 0 {
		t.peakPlant = s.Plant.TotalIn
		t.peakPlantHour = s.Hour
	}
}

// Summary returns a copy of the accumulated statistics.
func (t *Telemetry) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := Summary{
		Hours:              t.hours,
		Nodes:              make([]NodeStats, 0, len(t.nodes)),
		RegimeHours:        make(map[string]int, len(t.regime)),
		OverflowHours:      t.overflowHours,
		DivertedVolume:     t.diverted,
		UndischargedVolume: t.undischarged,
		PeakPlantInflow:    t.peakPlant,
		PeakPlantHour:      t.peakPlantHour,
	}
	for _, st := range t.nodes {
		out.Nodes = append(out.Nodes, *st)
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].NodeID < out.Nodes[j].NodeID })
	for k, v := range t.regime {
		out.RegimeHours[k] = v
	}
	return out
}


package nbi

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	sim "github.com/signalsfoundry/sewerflow-simulator/internal/sim/state"
	"github.com/signalsfoundry/sewerflow-simulator/kb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

// Simulation is the run-level surface the northbound API serves.
// *state.RunState satisfies it.
type Simulation interface {
	RunID() string
	Status() sim.Status
	Progress() (nextHour, maxHours int)
	Latest() (*core.HourSnapshot, error)
	SnapshotAt(hour int) (*core.HourSnapshot, error)
	History(from, to int) []*core.HourSnapshot
	Summary() sim.Summary
	Topology() *core.Topology
	Sites() *kb.KnowledgeBase
	MoveSite(ctx context.Context, id string, loc orb.Point) (model.SiteDefinition, error)
	Pause() error
	Resume() error
	Stop() error
}

var _ Simulation = (*sim.RunState)(nil)

// The view helpers below build plain maps made only of the value types
// structpb accepts, so the same document serves gRPC and JSON.

// StatusView describes the run lifecycle.
func StatusView(s Simulation) map[string]any {
	next, horizon := s.Progress()
	return map[string]any{
		"run_id":    s.RunID(),
		"status":    s.Status().String(),
		"next_hour": next,
		"max_hours": horizon,
	}
}

// SnapshotView renders one recorded hour.
func SnapshotView(s *core.HourSnapshot) map[string]any {
	nodes := make([]any, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		routed := make([]any, 0, len(n.Routed))
		for _, r := range n.Routed {
			routed = append(routed, map[string]any{"target": r.Target, "amount": r.Amount})
		}
		nodes = append(nodes, map[string]any{
			"id":                   n.ID,
			"lon":                  n.Location.Lon(),
			"lat":                  n.Location.Lat(),
			"mean_flow":            n.MeanFlow,
			"local_flow":           n.LocalFlow,
			"inflow_from_upstream": n.InflowFromUpstream,
			"current_flow":         n.CurrentFlow,
			"storage":              n.Storage,
			"status":               n.Status.String(),
			"mean_source":          n.MeanSource.String(),
			"routed":               routed,
		})
	}

	view := map[string]any{
		"hour":                 s.Hour,
		"hour_of_day":          s.HourOfDay,
		"rain_intensity":       s.Rain.Intensity,
		"rain_depth":           s.Rain.Depth,
		"applied_split_factor": s.AppliedSplitFactor,
		"applied_active":       s.AppliedActive,
		"undischarged":         s.Undischarged,
		"running":              s.Running,
		"alert_nodes":          s.AlertCount(),
		"nodes":                nodes,
		"plant": map[string]any{
			"id":                s.Plant.ID,
			"inflow_from_graph": s.Plant.InflowFromGraph,
			"total_in":          s.Plant.TotalIn,
			"estimated_flow":    s.Plant.EstimatedFlow,
			"regime":            s.Plant.Regime.String(),
			"next_split_factor": s.Plant.NextSplitFactor,
		},
		"overflow": map[string]any{
			"id":                s.Overflow.ID,
			"active":            s.Overflow.Active,
			"inflow_from_graph": s.Overflow.InflowFromGraph,
			"diverted_flow":     s.Overflow.DivertedFlow,
			"capacity":          finiteOrNil(s.Overflow.Capacity),
		},
	}
	if !s.Time.IsZero() {
		view["time"] = s.Time.UTC().Format(time.RFC3339)
	}
	return view
}

// finiteOrNil maps an unbounded capacity to null; JSON has no Inf.
func finiteOrNil(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

// HistoryView renders a list of hours.
func HistoryView(history []*core.HourSnapshot) []any {
	out := make([]any, 0, len(history))
	for _, s := range history {
		out = append(out, SnapshotView(s))
	}
	return out
}

// SummaryView renders aggregate run statistics.
func SummaryView(sum sim.Summary) map[string]any {
	nodes := make([]any, 0, len(sum.Nodes))
	for _, n := range sum.Nodes {
		nodes = append(nodes, map[string]any{
			"id":          n.NodeID,
			"peak_flow":   n.PeakFlow,
			"peak_hour":   n.PeakHour,
			"alert_hours": n.AlertHours,
			"volume":      n.Volume,
		})
	}
	regimes := make(map[string]any, len(sum.RegimeHours))
	for k, v := range sum.RegimeHours {
		regimes[k] = v
	}
	return map[string]any{
		"hours":               sum.Hours,
		"nodes":               nodes,
		"regime_hours":        regimes,
		"overflow_hours":      sum.OverflowHours,
		"diverted_volume":     sum.DivertedVolume,
		"undischarged_volume": sum.UndischargedVolume,
		"peak_plant_inflow":   sum.PeakPlantInflow,
		"peak_plant_hour":     sum.PeakPlantHour,
	}
}

// SiteView renders a site.
func SiteView(s model.SiteDefinition) map[string]any {
	return map[string]any{
		"id":   s.ID,
		"name": s.Name,
		"kind": s.Kind.String(),
		"lon":  s.Location.Lon(),
		"lat":  s.Location.Lat(),
	}
}

// TopologyView renders the graph as adjacency rows in visiting order.
func TopologyView(t *core.Topology) map[string]any {
	order := t.Order()
	rows := make([]any, 0, len(order))
	for _, id := range order {
		down := t.Downstream(id)
		targets := make([]any, len(down))
		for i, d := range down {
			targets[i] = d
		}
		rows = append(rows, map[string]any{"id": id, "downstream": targets})
	}
	var up []string
	for _, e := range t.Edges() {
		if e[1] == t.OverflowID() {
			up = append(up, e[0])
		}
	}
	sort.Strings(up)
	feeders := make([]any, len(up))
	for i, id := range up {
		feeders[i] = id
	}
	return map[string]any{
		"plant_id":          t.PlantID(),
		"overflow_id":       t.OverflowID(),
		"nodes":             rows,
		"overflow_upstream": feeders,
	}
}

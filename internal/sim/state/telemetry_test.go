package state

import (
	"testing"

	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

func TestTelemetryAccumulates(t *testing.T) {
	tel := NewTelemetry()
	tel.Record(&core.HourSnapshot{
		Hour: 1,
		Nodes: []core.NodeSnapshot{
			{ID: "B", CurrentFlow: 10},
			{ID: "A", CurrentFlow: 30, Status: model.StatusAlert},
		},
		Plant: core.PlantSnapshot{TotalIn: 2100, Regime: model.RegimeCritical},
		Overflow: core.OverflowSnapshot{Active: true, DivertedFlow: 5},
		Undischarged: 2,
	})
	tel.Record(&core.HourSnapshot{
		Hour: 2,
		Nodes: []core.NodeSnapshot{
			{ID: "A", CurrentFlow: 20},
			{ID: "B", CurrentFlow: 40},
		},
		Plant: core.PlantSnapshot{TotalIn: 900, Regime: model.RegimeNormal},
	})
	tel.Record(nil)

	sum := tel.Summary()
	if sum.Hours != 2 {
		t.Fatalf("Hours = %d", sum.Hours)
	}
	if len(sum.Nodes) != 2 || sum.Nodes[0].NodeID != "A" {
		t.Fatalf("nodes not sorted: %+v", sum.Nodes)
	}
	a, b := sum.Nodes[0], sum.Nodes[1]
	if a.PeakFlow != 30 || a.PeakHour != 1 || a.AlertHours != 1 || a.Volume != 50 {
		t.Fatalf("A = %+v", a)
	}
	if b.PeakFlow != 40 || b.PeakHour != 2 {
		t.Fatalf("B = %+v", b)
	}
	if sum.RegimeHours["CRITICAL"] != 1 || sum.RegimeHours["NORMAL"] != 1 {
		t.Fatalf("RegimeHours = %v", sum.RegimeHours)
	}
	if sum.OverflowHours != 1 || sum.DivertedVolume != 5 || sum.UndischargedVolume != 2 {
		t.Fatalf("overflow totals = %+v", sum)
	}
	if sum.PeakPlantInflow != 2100 || sum.PeakPlantHour != 1 {
		t.Fatalf("plant peak = %v at %d", sum.PeakPlantInflow, sum.PeakPlantHour)
	}

	sum.RegimeHours["CRITICAL"] = 99
	if tel.Summary().RegimeHours["CRITICAL"] != 1 {
		t.Fatalf("Summary leaked its map")
	}
}

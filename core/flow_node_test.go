package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/sewerflow-simulator/model"
)

type sink struct{ got float64 }

func (s *sink) Receive(v float64) { s.got += v }

type fixedSplit struct {
	f      float64
	active bool
}

func (s fixedSplit) Current() (float64, bool) { return s.f, s.active }

func TestFlowNode_DryWeatherIsMean(t *testing.T) {
	n := NewFlowNode("A", model.DefaultMeterLocation(0), model.DefaultNodeParams(), DefaultInfiltrationGamma)
	n.MeanFlow = 100
	n.refreshLocalMean()
	n.Step(1, 0, 0)

	if n.CurrentFlow != 100 {
		t.Fatalf("CurrentFlow = %v, want 100", n.CurrentFlow)
	}
	if n.Status != model.StatusNormal {
		t.Fatalf("Status = %v, want NORMAL", n.Status)
	}
}

func TestFlowNode_AlertAboveRatio(t *testing.T) {
	up := NewFlowNode("U", model.DefaultMeterLocation(0), model.DefaultNodeParams(), 0)
	n := NewFlowNode("A", model.DefaultMeterLocation(1), model.DefaultNodeParams(), 0)
	n.upstream = []*FlowNode{up}
	up.MeanFlow = 200
	n.MeanFlow = 100
	n.refreshLocalMean()
	if n.LocalMeanFlow != 0 {
		t.Fatalf("LocalMeanFlow = %v, want 0", n.LocalMeanFlow)
	}

	n.Receive(200)
	n.Step(1, 0, 0)
	if n.CurrentFlow != 200 {
		t.Fatalf("CurrentFlow = %v, want 200", n.CurrentFlow)
	}
	if n.Status != model.StatusAlert {
		t.Fatalf("Status = %v, want ALERT", n.Status)
	}
}

func TestFlowNode_RainRespondsOneHourLate(t *testing.T) {
	p := model.DefaultNodeParams()
	p.Alpha = 1
	n := NewFlowNode("A", model.DefaultMeterLocation(0), p, 0)

	n.Step(1, 4, 4)
	if n.LocalFlow != 0 {
		t.Fatalf("hour 1 LocalFlow = %v, want 0 before the lag elapses", n.LocalFlow)
	}

	n.ResetBuffers()
	n.Step(2, 0, 4)
	want := p.KSensor * 4 * p.ImperviousFactor * p.Area
	if math.Abs(n.LocalFlow-want) > 1e-9 {
		t.Fatalf("hour 2 LocalFlow = %v, want %v", n.LocalFlow, want)
	}

	n.ResetBuffers()
	n.Step(3, 0, 0)
	if n.LocalFlow != 0 {
		t.Fatalf("hour 3 LocalFlow = %v, want 0", n.LocalFlow)
	}
}

func TestFlowNode_StorageDecaysAndInfiltrates(t *testing.T) {
	n := NewFlowNode("A", model.DefaultMeterLocation(0), model.DefaultNodeParams(), 0.5)
	n.Step(1, 0, 10)
	if n.Storage != 10 || n.LocalFlow != 5 {
		t.Fatalf("hour 1 storage=%v local=%v", n.Storage, n.LocalFlow)
	}
	n.ResetBuffers()
	n.Step(2, 0, 0)
	if math.Abs(n.Storage-9) > 1e-12 || math.Abs(n.LocalFlow-4.5) > 1e-12 {
		t.Fatalf("hour 2 storage=%v local=%v", n.Storage, n.LocalFlow)
	}
}

func TestFlowNode_RouteConservesFlow(t *testing.T) {
	p := model.DefaultNodeParams()
	p.PipeLoss = 0.8
	n := NewFlowNode("A", model.DefaultMeterLocation(0), p, 0)
	a, b, c := &sink{}, &sink{}, &sink{}
	n.targets = []routeTarget{{"X", a}, {"Y", b}, {"Z", c}}
	n.MeanFlow = 300
	n.refreshLocalMean()
	n.Step(1, 0, 0)

	out := n.Route()
	var total float64
	for _, r := range out {
		total += r.Amount
	}
	if math.Abs(total-240) > 1e-9 {
		t.Fatalf("routed %v, want 240", total)
	}
	if math.Abs(a.got-80) > 1e-9 || math.Abs(b.got-80) > 1e-9 || math.Abs(c.got-80) > 1e-9 {
		t.Fatalf("uneven equal split: %v %v %v", a.got, b.got, c.got)
	}
}

func TestFlowNode_FeederSplit(t *testing.T) {
	cases := []struct {
		name  string
		split fixedSplit
		want  []float64
	}{
		{"inactive", fixedSplit{f: 0.7, active: false}, []float64{1, 0}},
		{"zero factor", fixedSplit{f: 0, active: true}, []float64{1, 0}},
		{"active", fixedSplit{f: 0.25, active: true}, []float64{0.75, 0.25}},
		{"clamped", fixedSplit{f: 3, active: true}, []float64{0, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := NewFlowNode("F", model.DefaultMeterLocation(0), model.DefaultNodeParams(), 0)
			n.targets = []routeTarget{{"D", &sink{}}, {"O", &sink{}}}
			n.feedsOverflow = true
			n.overflowID = "O"
			n.split = tc.split

			got := n.SplitFractions()
			var sum float64
			for i := range tc.want {
				if math.Abs(got[i]-tc.want[i]) > 1e-12 {
					t.Fatalf("fractions = %v, want %v", got, tc.want)
				}
				sum += got[i]
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Fatalf("fractions sum to %v", sum)
			}
		})
	}
}

func TestFlowNode_NonFeederSplitsEqually(t *testing.T) {
	n := NewFlowNode("F", model.DefaultMeterLocation(0), model.DefaultNodeParams(), 0)
	n.targets = []routeTarget{{"D", &sink{}}, {"O", &sink{}}}
	got := n.SplitFractions()
	if got[0] != 0.5 || got[1] != 0.5 {
		t.Fatalf("fractions = %v, want equal halves", got)
	}
	if n.Route() == nil {
		t.Fatalf("expected routed portions")
	}
}

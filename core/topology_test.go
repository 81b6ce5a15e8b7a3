package core

import (
	"errors"
	"testing"
)

func TestNewTopology_OrderPutsUpstreamFirst(t *testing.T) {
	topo, err := NewTopology(defaultGraph, DefaultPlantID, DefaultOverflowID)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}

	order := topo.Order()
	if len(order) != len(defaultGraph) {
		t.Fatalf("order has %d nodes, want %d", len(order), len(defaultGraph))
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, e := range topo.Edges() {
		if topo.IsSink(e[1]) {
			continue
		}
		if pos[e[0]] >= pos[e[1]] {
			t.Fatalf("edge %s->%s visited out of order: %v", e[0], e[1], order)
		}
	}
	for _, id := range order {
		if topo.IsSink(id) {
			t.Fatalf("sink %q must not appear in the order", id)
		}
	}
}

func TestNewTopology_UpstreamIndex(t *testing.T) {
	topo, err := NewTopology(defaultGraph, DefaultPlantID, DefaultOverflowID)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	up := topo.Upstream("KP8")
	want := []string{"KP9", "KP10", "ŁPA-P1"}
	if len(up) != len(want) {
		t.Fatalf("Upstream(KP8) = %v, want %v", up, want)
	}
	for i := range want {
		if up[i] != want[i] {
			t.Fatalf("Upstream(KP8) = %v, want %v", up, want)
		}
	}
	if got := topo.Upstream("KP9"); len(got) != 0 {
		t.Fatalf("Upstream(KP9) = %v, want none", got)
	}
	if got := topo.Downstream("KP16"); len(got) != 2 || got[1] != DefaultOverflowID {
		t.Fatalf("Downstream(KP16) = %v", got)
	}
}

func TestNewTopology_SinkWithEmptyListIsSkipped(t *testing.T) {
	entries := []TopologyEntry{
		{ID: "A", Downstream: []string{"P"}},
		{ID: "P"},
	}
	topo, err := NewTopology(entries, "P", "O")
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	if topo.Has("P") {
		t.Fatalf("plant must not be a flow node")
	}
	if got := topo.Nodes(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("Nodes() = %v, want [A]", got)
	}
}

func TestNewTopology_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		entries []TopologyEntry
		plant   string
		over    string
	}{
		{"empty", nil, "P", "O"},
		{"missing plant id", []TopologyEntry{{ID: "A", Downstream: []string{"P"}}}, "", "O"},
		{"same sink ids", []TopologyEntry{{ID: "A", Downstream: []string{"P"}}}, "P", "P"},
		{"cycle", []TopologyEntry{
			{ID: "A", Downstream: []string{"B"}},
			{ID: "B", Downstream: []string{"C"}},
			{ID: "C", Downstream: []string{"A", "P"}},
		}, "P", "O"},
		{"self loop", []TopologyEntry{{ID: "A", Downstream: []string{"A"}}}, "P", "O"},
		{"dangling successor", []TopologyEntry{{ID: "A", Downstream: []string{"Z"}}}, "P", "O"},
		{"duplicate node", []TopologyEntry{
			{ID: "A", Downstream: []string{"P"}},
			{ID: "A", Downstream: []string{"O"}},
		}, "P", "O"},
		{"duplicate successor", []TopologyEntry{{ID: "A", Downstream: []string{"P", "P"}}}, "P", "O"},
		{"sink maps to itself", []TopologyEntry{
			{ID: "A", Downstream: []string{"P"}},
			{ID: "P", Downstream: []string{"P"}},
		}, "P", "O"},
		{"sink with successors", []TopologyEntry{
			{ID: "A", Downstream: []string{"P"}},
			{ID: "O", Downstream: []string{"A"}},
		}, "P", "O"},
		{"only sinks", []TopologyEntry{{ID: "P"}}, "P", "O"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTopology(tc.entries, tc.plant, tc.over)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/kb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(hour int, regime model.Regime, active bool, flows map[string]float64, alert ...string) *core.HourSnapshot {
	s := &core.HourSnapshot{
		Hour: hour,
		Time: time.Date(2026, 3, 1, hour-1, 0, 0, 0, time.UTC),
		Rain: core.RainfallState{Intensity: 1.5, Depth: 2.25},
		Plant: core.PlantSnapshot{
			ID:            "P",
			TotalIn:       1000,
			EstimatedFlow: 1000,
			Regime:        regime,
		},
		Overflow: core.OverflowSnapshot{ID: "O", Active: active},
	}
	alerts := map[string]bool{}
	for _, id := range alert {
		alerts[id] = true
	}
	for _, id := range []string{"A", "B"} {
		n := core.NodeSnapshot{ID: id, CurrentFlow: flows[id], MeanFlow: 10}
		if alerts[id] {
			n.Status = model.StatusAlert
		}
		n.Routed = []core.RoutedPortion{{Target: "P", Amount: flows[id]}}
		s.Nodes = append(s.Nodes, n)
	}
	return s
}

func TestDetector_Transitions(t *testing.T) {
	var d Detector

	first := d.Observe(snapshot(1, model.RegimeNormal, false, nil))
	assert.Empty(t, first)

	second := d.Observe(snapshot(2, model.RegimeCritical, true, map[string]float64{"A": 30}, "A"))
	require.Len(t, second, 3)
	assert.Equal(t, EventRegimeChanged, second[0].Kind)
	assert.Equal(t, "NORMAL", second[0].From)
	assert.Equal(t, "CRITICAL", second[0].To)
	assert.Equal(t, EventNodeAlert, second[1].Kind)
	assert.Equal(t, "A", second[1].Subject)
	assert.Equal(t, 30.0, second[1].Value)
	assert.Equal(t, EventOverflowOpened, second[2].Kind)

	third := d.Observe(snapshot(3, model.RegimeCritical, true, nil, "A"))
	assert.Empty(t, third)

	fourth := d.Observe(snapshot(4, model.RegimeWarning, false, nil))
	require.Len(t, fourth, 3)
	assert.Equal(t, EventRegimeChanged, fourth[0].Kind)
	assert.Equal(t, EventNodeCleared, fourth[1].Kind)
	assert.Equal(t, EventOverflowClosed, fourth[2].Kind)

	assert.Nil(t, d.Observe(nil))
}

func TestLogSink_LogsAndKeepsEvents(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	sink := NewLogSink(log, true)

	ctx := context.Background()
	sink.ObserveHour(ctx, snapshot(1, model.RegimeNormal, false, nil))
	sink.ObserveHour(ctx, snapshot(2, model.RegimeFailureSoft, true, nil, "B"))

	events := sink.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "B", events[1].Subject)

	out := buf.String()
	assert.Contains(t, out, "plant regime changed")
	assert.Contains(t, out, "node flow above alert threshold")
	assert.Contains(t, out, "overflow state changed")
	assert.Contains(t, out, `"to":"FAILURE_SOFT"`)
}

func TestWriteCSV(t *testing.T) {
	history := []*core.HourSnapshot{
		snapshot(1, model.RegimeNormal, false, map[string]float64{"A": 10, "B": 20}),
		snapshot(2, model.RegimeCritical, true, map[string]float64{"A": 12.5, "B": 21}),
	}
	history[1].Overflow.DivertedFlow = 40
	history[1].Undischarged = 7

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, history))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"hour", "time", "rain_intensity", "rain_depth",
		"total_flow", "regime", "overflow_active", "diverted_flow", "undischarged",
		"A_Flow", "B_Flow",
	}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2026-03-01T00:00:00Z", rows[1][1])
	assert.Equal(t, "0", rows[1][6])
	assert.Equal(t, "10.000", rows[1][9])
	assert.Equal(t, "CRITICAL", rows[2][5])
	assert.Equal(t, "1", rows[2][6])
	assert.Equal(t, "40.000", rows[2][7])
	assert.Equal(t, "7.000", rows[2][8])
	assert.Equal(t, "12.500", rows[2][9])
}

func TestWriteCSV_EmptyHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestNetworkLayer(t *testing.T) {
	topo, err := core.NewTopology([]core.TopologyEntry{
		{ID: "A", Downstream: []string{"B"}},
		{ID: "B", Downstream: []string{"P"}},
	}, "P", "O")
	require.NoError(t, err)

	sites := kb.NewKnowledgeBase()
	require.NoError(t, sites.AddSite(&model.SiteDefinition{ID: "P", Kind: model.SiteKindPlant, Location: orb.Point{19.0, 49.0}}))
	require.NoError(t, sites.AddSite(&model.SiteDefinition{ID: "O", Kind: model.SiteKindOverflow, Location: orb.Point{19.1, 49.0}}))
	require.NoError(t, sites.AddSite(&model.SiteDefinition{ID: "A", Name: "Upper", Kind: model.SiteKindMeter, Location: orb.Point{19.2, 49.2}}))
	require.NoError(t, sites.AddSite(&model.SiteDefinition{ID: "B", Kind: model.SiteKindMeter, Location: orb.Point{19.1, 49.1}}))

	fc := NetworkLayer(topo, sites, nil)
	require.Len(t, fc.Features, 6)

	var points, lines int
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Point:
			points++
		case orb.LineString:
			lines++
			require.Len(t, g, 2)
			if f.Properties["from"] == "A" {
				assert.Equal(t, orb.Point{19.2, 49.2}, g[0])
				assert.Equal(t, orb.Point{19.1, 49.1}, g[1])
				// About 13.3 km between the two points.
				assert.InDelta(t, 13300, f.Properties["length_m"], 300)
			}
		}
	}
	assert.Equal(t, 4, points)
	assert.Equal(t, 2, lines)

	raw, err := fc.MarshalJSON()
	require.NoError(t, err)
	back, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err)
	assert.Len(t, back.Features, 6)
}

func TestNetworkLayer_WithSnapshot(t *testing.T) {
	topo, err := core.NewTopology([]core.TopologyEntry{
		{ID: "A", Downstream: []string{"P"}},
		{ID: "B", Downstream: []string{"P"}},
	}, "P", "O")
	require.NoError(t, err)

	sites := kb.NewKnowledgeBase()
	require.NoError(t, sites.AddSite(&model.SiteDefinition{ID: "P", Kind: model.SiteKindPlant, Location: orb.Point{19.0, 49.0}}))
	require.NoError(t, sites.AddSite(&model.SiteDefinition{ID: "A", Kind: model.SiteKindMeter, Location: orb.Point{19.2, 49.2}}))

	snap := snapshot(5, model.RegimeWarning, false, map[string]float64{"A": 33}, "A")
	fc := NetworkLayer(topo, sites, snap)

	raw, err := json.Marshal(fc)
	require.NoError(t, err)

	var doc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	// P, A and the A->P pipe; B has no site so its pipe is skipped.
	require.Len(t, doc.Features, 3)

	byKey := map[string]map[string]any{}
	for _, f := range doc.Features {
		if id, ok := f.Properties["id"].(string); ok {
			byKey[id] = f.Properties
		} else {
			byKey[f.Properties["from"].(string)+">"+f.Properties["to"].(string)] = f.Properties
		}
	}
	assert.Equal(t, "WARNING", byKey["P"]["regime"])
	assert.Equal(t, "ALERT", byKey["A"]["status"])
	assert.Equal(t, 33.0, byKey["A"]["current_flow"])
	assert.Equal(t, 33.0, byKey["A>P"]["flow"])
}

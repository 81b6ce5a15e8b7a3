package report

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/kb"
)

// NetworkLayer renders the catchment as GeoJSON: one point per site and one
// line per pipe connection with its straight-line length. When snap is
// non-nil, node and pipe features carry that hour's flows.
func NetworkLayer(topo *core.Topology, sites *kb.KnowledgeBase, snap *core.HourSnapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, s := range sites.ListSites() {
		f := geojson.NewFeature(s.Location)
		f.ID = s.ID
		f.Properties["id"] = s.ID
		f.Properties["kind"] = s.Kind.String()
		if s.Name != "" {
			f.Properties["name"] = s.Name
		}
		if snap != nil {
			addSiteFlows(f.Properties, s.ID, snap)
		}
		fc.Append(f)
	}

	if topo == nil {
		return fc
	}
	for _, e := range topo.Edges() {
		from, ok := sites.Location(e[0])
		if !ok {
			continue
		}
		to, ok := sites.Location(e[1])
		if !ok {
			continue
		}
		f := geojson.NewFeature(orb.LineString{from, to})
		f.Properties["from"] = e[0]
		f.Properties["to"] = e[1]
		f.Properties["length_m"] = math.Round(geo.Distance(from, to))
		if snap != nil {
			if n, ok := snap.Node(e[0]); ok {
				for _, r := range n.Routed {
					if r.Target == e[1] {
						f.Properties["flow"] = r.Amount
					}
				}
			}
		}
		fc.Append(f)
	}
	return fc
}

func addSiteFlows(props geojson.Properties, id string, snap *core.HourSnapshot) {
	props["hour"] = snap.Hour
	switch id {
	case snap.Plant.ID:
		props["total_in"] = snap.Plant.TotalIn
		props["estimated_flow"] = snap.Plant.EstimatedFlow
		props["regime"] = snap.Plant.Regime.String()
	case snap.Overflow.ID:
		props["active"] = snap.Overflow.Active
		props["diverted_flow"] = snap.Overflow.DivertedFlow
	default:
		if n, ok := snap.Node(id); ok {
			props["current_flow"] = n.CurrentFlow
			props["mean_flow"] = n.MeanFlow
			props["status"] = n.Status.String()
		}
	}
}

package core

import (
	"github.com/signalsfoundry/sewerflow-simulator/kb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

// Identifiers of the built-in catchment.
const (
	DefaultPlantID    = "WWTP"
	DefaultOverflowID = "KP26"
	DefaultMaxHours   = 168
)

// defaultGraph is the metered network of the reference catchment. Every
// entry lists the direct downstream neighbours of a meter. The order is
// the insertion order of the original network and breaks ties in the
// topological pass.
var defaultGraph = []TopologyEntry{
	{ID: "KP1", Downstream: []string{DefaultPlantID}},
	{ID: "KP2", Downstream: []string{DefaultPlantID}},
	{ID: "KP4", Downstream: []string{DefaultPlantID}},
	{ID: "KP6", Downstream: []string{DefaultPlantID}},
	{ID: "KP7", Downstream: []string{"KP16"}},
	{ID: "KP8", Downstream: []string{DefaultPlantID}},
	{ID: "KP9", Downstream: []string{"KP8"}},
	{ID: "KP10", Downstream: []string{"KP8"}},
	{ID: "KP11", Downstream: []string{DefaultPlantID}},
	{ID: "KP16", Downstream: []string{"KP2", DefaultOverflowID}},
	{ID: "KP25", Downstream: []string{"KP2", DefaultOverflowID}},
	{ID: "G-T1", Downstream: []string{DefaultPlantID}},
	{ID: "ŁPA-P1", Downstream: []string{"KP8"}},
	{ID: "LBT1", Downstream: []string{DefaultPlantID}},
	{ID: "M1", Downstream: []string{DefaultPlantID}},
}

// defaultDryWeather is the daily average dry-weather flow of each meter.
// Downstream meters carry more than the sum of their upstream meters.
var defaultDryWeather = map[string]float64{
	"KP1":    95,
	"KP2":    210,
	"KP4":    60,
	"KP6":    75,
	"KP8":    240,
	"KP11":   40,
	"G-T1":   55,
	"LBT1":   35,
	"M1":     45,
	"KP7":    30,
	"KP9":    50,
	"KP10":   40,
	"ŁPA-P1": 65,
	"KP16":   70,
	"KP25":   55,
}

// diurnalProfile scales dry-weather flow by hour of day. It averages to 1.
var diurnalProfile = [24]float64{
	0.62, 0.55, 0.50, 0.48, 0.52, 0.65,
	0.90, 1.20, 1.35, 1.30, 1.22, 1.15,
	1.12, 1.10, 1.05, 1.05, 1.10, 1.20,
	1.30, 1.32, 1.25, 1.10, 0.90, 0.77,
}

// DefaultHourlyMeans derives a 24-row mean table from the dry-weather flows
// and the diurnal profile.
func DefaultHourlyMeans() HourlyMeans {
	out := make(HourlyMeans, len(diurnalProfile))
	for hod, f := range diurnalProfile {
		row := make(map[string]float64, len(defaultDryWeather))
		for id, q := range defaultDryWeather {
			row[id] = q * f
		}
		out[hod] = row
	}
	return out
}

// DefaultRain is a dry first day followed by a frontal storm on day two and
// a shorter convective burst on day four.
func DefaultRain() []float64 {
	rain := make([]float64, DefaultMaxHours)
	storm := []float64{0.4, 1.2, 3.5, 6.0, 9.5, 12.0, 10.0, 7.5, 4.0, 2.0, 0.8, 0.3}
	copy(rain[30:], storm)
	burst := []float64{2.0, 14.0, 18.5, 6.0, 1.0}
	copy(rain[80:], burst)
	return rain
}

// DefaultScenario returns the reference catchment with synthetic means and
// rainfall. Callers may override any field of Config before building an
// engine.
//
// Meters use the default node parameters, so PipeLoss is 1.0. The field
// deployment this network comes from ran every meter at 0.95; set Params
// per meter to reproduce that.
func DefaultScenario() *Scenario {
	sites := kb.NewKnowledgeBase()
	_ = sites.AddSite(&model.SiteDefinition{
		ID:       DefaultPlantID,
		Name:     "Wastewater treatment plant",
		Kind:     model.SiteKindPlant,
		Location: model.DefaultPlantLocation,
	})
	_ = sites.AddSite(&model.SiteDefinition{
		ID:       DefaultOverflowID,
		Name:     "Storm overflow",
		Kind:     model.SiteKindOverflow,
		Location: model.DefaultOverflowLocation,
	})

	topo := make([]TopologyEntry, len(defaultGraph))
	for i, e := range defaultGraph {
		topo[i] = TopologyEntry{ID: e.ID, Downstream: append([]string(nil), e.Downstream...)}
		_ = sites.AddSite(&model.SiteDefinition{
			ID:       e.ID,
			Name:     e.ID,
			Kind:     model.SiteKindMeter,
			Location: model.DefaultMeterLocation(i),
		})
	}

	return &Scenario{
		Name:  "default",
		Sites: sites,
		Config: EngineConfig{
			Topology:          topo,
			PlantID:           DefaultPlantID,
			OverflowID:        DefaultOverflowID,
			Params:            map[string]model.NodeParams{},
			HourlyMeans:       DefaultHourlyMeans(),
			Rain:              DefaultRain(),
			Plant:             model.DefaultPlantThresholds(),
			OverflowFeeders:   []string{"KP16", "KP25"},
			MaxHours:          DefaultMaxHours,
			RainDepth:         DefaultRainDepthConfig(),
			InfiltrationGamma: DefaultInfiltrationGamma,
		},
	}
}

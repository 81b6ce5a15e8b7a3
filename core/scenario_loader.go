// core/scenario_loader.go
package core

import (
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/kb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
	"gopkg.in/yaml.v3"
)

// Scenario is a fully described catchment: the engine configuration plus
// the site catalogue holding names and coordinates.
type Scenario struct {
	Name   string
	Config EngineConfig
	Sites  *kb.KnowledgeBase
}

// NewEngine builds a SimulationEngine for the scenario. The scenario's site
// catalogue is always attached.
func (s *Scenario) NewEngine(opts ...EngineOption) (*SimulationEngine, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil scenario", ErrConfiguration)
	}
	all := append([]EngineOption{WithSites(s.Sites)}, opts...)
	return NewSimulationEngine(s.Config, all...)
}

// internal YAML shapes – keep them unexported so we're free to evolve them.
type scenarioYAML struct {
	Name              string                     `yaml:"name"`
	MaxHours          int                        `yaml:"max_hours"`
	InfiltrationGamma *float64                   `yaml:"infiltration_gamma"`
	RainDepth         *rainDepthYAML             `yaml:"rain_depth"`
	Plant             plantYAML                  `yaml:"plant"`
	Overflow          overflowYAML               `yaml:"overflow"`
	Nodes             []nodeYAML                 `yaml:"nodes"`
	HourlyMeans       map[int]map[string]float64 `yaml:"hourly_means"`
	Rain              []float64                  `yaml:"rain"`
}

type locationYAML struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

type rainDepthYAML struct {
	Method string  `yaml:"method"`
	Window int     `yaml:"window"`
	Lambda float64 `yaml:"lambda"`
}

type plantYAML struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	Location        *locationYAML `yaml:"location"`
	Nominal         *float64      `yaml:"nominal"`
	Warning         *float64      `yaml:"warning"`
	Hydraulic       *float64      `yaml:"hydraulic"`
	RetentionBuffer *float64      `yaml:"retention_buffer"`
	MaxCapacity     *float64      `yaml:"max_capacity"`
	NormalFlow      *float64      `yaml:"normal_flow"`
	KRainDepth      float64       `yaml:"k_rain_depth"`
}

type overflowYAML struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Location *locationYAML `yaml:"location"`
	Capacity float64       `yaml:"capacity"` // 0 = unbounded
	Feeders  []string      `yaml:"feeders"`
}

type nodeYAML struct {
	ID         string                   `yaml:"id"`
	Name       string                   `yaml:"name"`
	Location   *locationYAML            `yaml:"location"`
	Downstream []string                 `yaml:"downstream"`
	Params     *model.PartialNodeParams `yaml:"params"`
}

// LoadScenario reads a YAML scenario from r. It fails on decode errors and
// on missing sink identifiers; graph validation happens when the engine is
// built.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	return payload.toScenario()
}

func (p scenarioYAML) toScenario() (*Scenario, error) {
	plantID := strings.TrimSpace(p.Plant.ID)
	overflowID := strings.TrimSpace(p.Overflow.ID)
	if plantID == "" {
		return nil, fmt.Errorf("LoadScenario: %w: plant.id is required", ErrConfiguration)
	}
	if overflowID == "" {
		return nil, fmt.Errorf("LoadScenario: %w: overflow.id is required", ErrConfiguration)
	}

	sites := kb.NewKnowledgeBase()
	cfg := EngineConfig{
		PlantID:           plantID,
		OverflowID:        overflowID,
		Params:            make(map[string]model.NodeParams, len(p.Nodes)),
		HourlyMeans:       HourlyMeans(p.HourlyMeans),
		Rain:              p.Rain,
		Plant:             p.Plant.thresholds(),
		OverflowCapacity:  p.Overflow.Capacity,
		OverflowFeeders:   p.Overflow.Feeders,
		MaxHours:          p.MaxHours,
		RainDepth:         DefaultRainDepthConfig(),
		InfiltrationGamma: DefaultInfiltrationGamma,
	}
	if cfg.HourlyMeans == nil {
		cfg.HourlyMeans = HourlyMeans{}
	}
	if p.InfiltrationGamma != nil {
		cfg.InfiltrationGamma = *p.InfiltrationGamma
	}
	if p.RainDepth != nil {
		if p.RainDepth.Method != "" {
			cfg.RainDepth.Method = RainDepthMethod(p.RainDepth.Method)
		}
		if p.RainDepth.Window != 0 {
			cfg.RainDepth.Window = p.RainDepth.Window
		}
		if p.RainDepth.Lambda != 0 {
			cfg.RainDepth.Lambda = p.RainDepth.Lambda
		}
	}

	if err := sites.AddSite(&model.SiteDefinition{
		ID:       plantID,
		Name:     p.Plant.Name,
		Kind:     model.SiteKindPlant,
		Location: p.Plant.Location.point(model.DefaultPlantLocation),
	}); err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	if err := sites.AddSite(&model.SiteDefinition{
		ID:       overflowID,
		Name:     p.Overflow.Name,
		Kind:     model.SiteKindOverflow,
		Location: p.Overflow.Location.point(model.DefaultOverflowLocation),
	}); err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}

	for i, n := range p.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("LoadScenario: %w: node with empty id", ErrConfiguration)
		}
		cfg.Topology = append(cfg.Topology, TopologyEntry{ID: n.ID, Downstream: n.Downstream})
		if n.ID == plantID || n.ID == overflowID {
			// Sink rows are validated by NewTopology; they carry no site.
			continue
		}
		if err := sites.AddSite(&model.SiteDefinition{
			ID:       n.ID,
			Name:     n.Name,
			Kind:     model.SiteKindMeter,
			Location: n.Location.point(model.DefaultMeterLocation(i)),
		}); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		if n.Params != nil {
			cfg.Params[n.ID] = n.Params.Resolve()
		}
	}

	return &Scenario{Name: p.Name, Config: cfg, Sites: sites}, nil
}

func (p plantYAML) thresholds() model.PlantThresholds {
	th := model.DefaultPlantThresholds()
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&th.Nominal, p.Nominal)
	set(&th.Warning, p.Warning)
	set(&th.Hydraulic, p.Hydraulic)
	set(&th.RetentionBuffer, p.RetentionBuffer)
	set(&th.MaxCapacity, p.MaxCapacity)
	set(&th.NormalFlow, p.NormalFlow)
	th.KRainDepth = p.KRainDepth
	return th
}

func (l *locationYAML) point(fallback orb.Point) orb.Point {
	if l == nil {
		return fallback
	}
	return orb.Point{l.Lon, l.Lat}
}

package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/kb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/sewerflow-simulator/core"

// EngineConfig is everything the engine needs to build a catchment model.
type EngineConfig struct {
	Topology   []TopologyEntry
	PlantID    string
	OverflowID string

	// Params are keyed by node ID; missing nodes use model defaults.
	Params      map[string]model.NodeParams
	HourlyMeans HourlyMeans
	Rain        []float64

	Plant            model.PlantThresholds
	OverflowCapacity float64 // <= 0 means unbounded
	OverflowFeeders  []string

	MaxHours          int
	RainDepth         RainDepthConfig
	InfiltrationGamma float64
}

// HourObserver is notified after every completed hour. Observers must not
// retain the snapshot beyond the call unless they copy it.
type HourObserver interface {
	ObserveHour(ctx context.Context, snap *HourSnapshot)
}

// HourObserverFunc adapts a function to HourObserver.
type HourObserverFunc func(ctx context.Context, snap *HourSnapshot)

func (f HourObserverFunc) ObserveHour(ctx context.Context, snap *HourSnapshot) { f(ctx, snap) }

// MissingMeanRecorder counts hourly-mean fallbacks.
type MissingMeanRecorder interface {
	RecordMissingMean(nodeID string, source MeanSource)
}

// HourClock maps a simulation hour to a wall-clock timestamp.
type HourClock interface {
	TimeForHour(hour int) time.Time
}

// EngineOption customises SimulationEngine construction.
type EngineOption func(*SimulationEngine)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *SimulationEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithObserver registers an observer for recorded hours.
func WithObserver(o HourObserver) EngineOption {
	return func(e *SimulationEngine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithMissingMeanRecorder attaches a recorder for hourly-mean fallbacks.
func WithMissingMeanRecorder(r MissingMeanRecorder) EngineOption {
	return func(e *SimulationEngine) { e.missing = r }
}

// WithClock stamps snapshots with wall-clock times.
func WithClock(c HourClock) EngineOption {
	return func(e *SimulationEngine) { e.clock = c }
}

// WithSites resolves node and sink locations from a site catalogue.
func WithSites(sites *kb.KnowledgeBase) EngineOption {
	return func(e *SimulationEngine) { e.sites = sites }
}

// SimulationEngine owns the hourly loop over one catchment. It is
// single-threaded: Step must not be called concurrently, and callers that
// share an engine across goroutines must serialise access themselves.
type SimulationEngine struct {
	topo     *Topology
	nodes    map[string]*FlowNode
	order    []*FlowNode
	plant    *TreatmentPlant
	overflow *OverflowPoint
	split    *SplitControl

	rain  *rainfall
	means HourlyMeans

	maxHours    int
	currentHour int
	terminated  bool
	history     []*HourSnapshot

	sites     *kb.KnowledgeBase
	clock     HourClock
	log       logging.Logger
	tracer    trace.Tracer
	observers []HourObserver
	missing   MissingMeanRecorder
}

// NewSimulationEngine validates cfg and builds the model. All errors wrap
// ErrConfiguration.
func NewSimulationEngine(cfg EngineConfig, opts ...EngineOption) (*SimulationEngine, error) {
	if cfg.MaxHours < 1 {
		return nil, fmt.Errorf("%w: max hours must be >= 1, got %d", ErrConfiguration, cfg.MaxHours)
	}
	if err := cfg.Plant.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	depth := cfg.RainDepth
	if depth.Method == "" {
		depth = DefaultRainDepthConfig()
	}
	if err := depth.Validate(); err != nil {
		return nil, err
	}
	gamma := cfg.InfiltrationGamma
	if gamma < 0 || math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return nil, fmt.Errorf("%w: infiltration gamma must be a non-negative number, got %v", ErrConfiguration, gamma)
	}

	topo, err := NewTopology(cfg.Topology, cfg.PlantID, cfg.OverflowID)
	if err != nil {
		return nil, err
	}

	e := &SimulationEngine{
		topo:        topo,
		nodes:       make(map[string]*FlowNode, len(topo.Nodes())),
		split:       &SplitControl{},
		rain:        newRainfall(cfg.Rain, depth),
		means:       cfg.HourlyMeans,
		maxHours:    cfg.MaxHours,
		currentHour: 1,
		log:         logging.Noop(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	for id := range cfg.Params {
		if !topo.Has(id) {
			e.log.Warn(context.Background(), "ignoring parameters for unknown node", logging.String("node_id", id))
		}
	}

	e.overflow = NewOverflowPoint(topo.OverflowID(), e.locate(topo.OverflowID(), model.DefaultOverflowLocation), cfg.OverflowCapacity)
	e.plant = NewTreatmentPlant(topo.PlantID(), e.locate(topo.PlantID(), model.DefaultPlantLocation), cfg.Plant, e.split, e.overflow)

	for i, id := range topo.Nodes() {
		params, ok := cfg.Params[id]
		if !ok {
			params = model.DefaultNodeParams()
		}
		if err := validateParams(id, params); err != nil {
			return nil, err
		}
		e.nodes[id] = NewFlowNode(id, e.locate(id, model.DefaultMeterLocation(i)), params, gamma)
	}

	feeders := make(map[string]bool, len(cfg.OverflowFeeders))
	for _, id := range cfg.OverflowFeeders {
		if !topo.Has(id) {
			return nil, fmt.Errorf("%w: overflow feeder %q is not a flow node", ErrConfiguration, id)
		}
		feeders[id] = true
	}

	for _, id := range topo.Nodes() {
		n := e.nodes[id]
		for _, up := range topo.Upstream(id) {
			n.upstream = append(n.upstream, e.nodes[up])
		}
		for _, d := range topo.Downstream(id) {
			n.targets = append(n.targets, routeTarget{id: d, recv: e.receiver(d)})
		}
		if feeders[id] {
			n.feedsOverflow = true
			n.overflowID = topo.OverflowID()
			n.split = e.split
			if !containsString(topo.Downstream(id), topo.OverflowID()) {
				e.log.Warn(context.Background(), "overflow feeder does not route to the overflow",
					logging.String("node_id", id))
			}
		}
	}

	for _, id := range topo.Order() {
		e.order = append(e.order, e.nodes[id])
	}

	return e, nil
}

func validateParams(id string, p model.NodeParams) error {
	for _, v := range []float64{p.KSensor, p.Alpha, p.ImperviousFactor, p.Area, p.PipeLoss} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: node %q has non-finite parameters", ErrConfiguration, id)
		}
	}
	switch {
	case p.KSensor < 0:
		return fmt.Errorf("%w: node %q k_sensor must be >= 0", ErrConfiguration, id)
	case p.Alpha < 0:
		return fmt.Errorf("%w: node %q alpha must be >= 0", ErrConfiguration, id)
	case p.Area < 0:
		return fmt.Errorf("%w: node %q area must be >= 0", ErrConfiguration, id)
	case p.ImperviousFactor < 0 || p.ImperviousFactor > 1:
		return fmt.Errorf("%w: node %q impervious factor must be in [0,1]", ErrConfiguration, id)
	case p.PipeLoss < 0 || p.PipeLoss > 1:
		return fmt.Errorf("%w: node %q pipe loss must be in [0,1]", ErrConfiguration, id)
	}
	return nil
}

func (e *SimulationEngine) receiver(id string) Receiver {
	switch id {
	case e.topo.PlantID():
		return e.plant
	case e.topo.OverflowID():
		return e.overflow
	default:
		return e.nodes[id]
	}
}

func (e *SimulationEngine) locate(id string, fallback orb.Point) orb.Point {
	if loc, ok := e.sites.Location(id); ok {
		return loc
	}
	return fallback
}

// Step simulates one hour. It returns a copy of the recorded snapshot, or
// ErrTerminated once the horizon has been passed.
func (e *SimulationEngine) Step(ctx context.Context) (*HourSnapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.terminated {
		return nil, ErrTerminated
	}
	hour := e.currentHour

	ctx, span := e.tracer.Start(ctx, "SimulationEngine.Step",
		trace.WithAttributes(attribute.Int("sim.hour", hour)))
	defer span.End()

	// Promote last hour's plant decision, then clear per-hour buffers.
	e.split.Swap()
	for _, n := range e.order {
		n.ResetBuffers()
	}
	e.plant.ResetBuffers()
	e.overflow.ResetBuffers()

	sources := e.refreshMeans(ctx, hour)
	rain := e.rain.advance(hour)

	routed := make([][]RoutedPortion, len(e.order))
	for i, n := range e.order {
		n.Step(hour, rain.Intensity, rain.Depth)
		routed[i] = n.Route()
	}

	decision := e.plant.Step(rain.Depth)
	e.overflow.Step()

	snap := e.record(hour, rain, routed, sources)
	e.history = append(e.history, snap)

	e.currentHour++
	if e.currentHour > e.maxHours {
		e.terminated = true
	}

	span.SetAttributes(
		attribute.String("plant.regime", decision.Regime.String()),
		attribute.Float64("plant.total_in", e.plant.TotalIn),
		attribute.Float64("plant.next_split_factor", decision.SplitFactor),
		attribute.Bool("overflow.active", e.overflow.Active),
	)
	e.log.Debug(ctx, "hour simulated",
		logging.Int("hour", hour),
		logging.Any("rain_intensity", rain.Intensity),
		logging.Any("rain_depth", rain.Depth),
		logging.Any("plant_total_in", e.plant.TotalIn),
		logging.String("regime", decision.Regime.String()),
		logging.Any("diverted", e.overflow.DivertedFlow),
	)

	for _, o := range e.observers {
		o.ObserveHour(ctx, snap)
	}
	return snap.Clone(), nil
}

// refreshMeans loads the hour-of-day means into every node, then recomputes
// local means once all upstream means are current.
func (e *SimulationEngine) refreshMeans(ctx context.Context, hour int) map[string]MeanSource {
	hod := HourOfDay(hour)
	sources := make(map[string]MeanSource, len(e.order))
	for _, n := range e.order {
		v, src := e.means.Lookup(hod, n.ID)
		n.MeanFlow = v
		sources[n.ID] = src
		if src != MeanExact {
			e.log.Warn(ctx, "hourly mean missing; using fallback",
				logging.String("node_id", n.ID),
				logging.Int("hour_of_day", hod),
				logging.String("fallback", src.String()),
				logging.Any("mean_flow", v),
			)
			if e.missing != nil {
				e.missing.RecordMissingMean(n.ID, src)
			}
		}
	}
	for _, n := range e.order {
		n.refreshLocalMean()
	}
	return sources
}

func (e *SimulationEngine) record(hour int, rain RainfallState, routed [][]RoutedPortion, sources map[string]MeanSource) *HourSnapshot {
	applied, appliedActive := e.split.Current()
	nextFactor, _ := e.split.Next()

	snap := &HourSnapshot{
		Hour:               hour,
		HourOfDay:          HourOfDay(hour),
		Rain:               rain,
		AppliedSplitFactor: applied,
		AppliedActive:      appliedActive,
		Nodes:              make([]NodeSnapshot, 0, len(e.order)),
		Plant: PlantSnapshot{
			ID:              e.plant.ID,
			Location:        e.plant.Location,
			InflowFromGraph: e.plant.InflowFromGraph,
			TotalIn:         e.plant.TotalIn,
			EstimatedFlow:   e.plant.EstimatedFlow,
			Regime:          e.plant.Regime,
			NextSplitFactor: nextFactor,
		},
		Overflow: OverflowSnapshot{
			ID:              e.overflow.ID,
			Location:        e.overflow.Location,
			Active:          e.overflow.Active,
			InflowFromGraph: e.overflow.InflowFromGraph,
			DivertedFlow:    e.overflow.DivertedFlow,
			Capacity:        e.overflow.Capacity,
		},
		Running: hour+1 <= e.maxHours,
	}
	if e.clock != nil {
		snap.Time = e.clock.TimeForHour(hour)
	}
	for i, n := range e.order {
		snap.Nodes = append(snap.Nodes, NodeSnapshot{
			ID:                 n.ID,
			Location:           n.Location,
			MeanFlow:           n.MeanFlow,
			LocalMeanFlow:      n.LocalMeanFlow,
			LocalFlow:          n.LocalFlow,
			InflowFromUpstream: n.InflowFromUpstream,
			CurrentFlow:        n.CurrentFlow,
			Storage:            n.Storage,
			Status:             n.Status,
			MeanSource:         sources[n.ID],
			Routed:             routed[i],
		})
	}
	if e.overflow.Active {
		snap.Undischarged = math.Max(0,
			e.plant.InflowFromGraph-e.plant.Thresholds.Nominal-e.overflow.DivertedFlow)
	}
	return snap
}

// Run steps until the horizon is reached or ctx is cancelled between hours.
func (e *SimulationEngine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for !e.terminated {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CurrentHour is the 1-based hour the next Step will simulate.
func (e *SimulationEngine) CurrentHour() int { return e.currentHour }

// MaxHours is the simulation horizon.
func (e *SimulationEngine) MaxHours() int { return e.maxHours }

// Running reports whether further steps are possible.
func (e *SimulationEngine) Running() bool { return !e.terminated }

// Topology exposes the validated graph.
func (e *SimulationEngine) Topology() *Topology { return e.topo }

// Rainfall returns the rainfall state of the last simulated hour.
func (e *SimulationEngine) Rainfall() RainfallState { return e.rain.current() }

// Node returns a flow node by ID.
func (e *SimulationEngine) Node(id string) (*FlowNode, error) {
	n, ok := e.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return n, nil
}

// Plant returns the treatment plant.
func (e *SimulationEngine) Plant() *TreatmentPlant { return e.plant }

// Overflow returns the overflow point.
func (e *SimulationEngine) Overflow() *OverflowPoint { return e.overflow }

// Latest returns a copy of the most recent snapshot.
func (e *SimulationEngine) Latest() (*HourSnapshot, error) {
	if len(e.history) == 0 {
		return nil, ErrNoSnapshot
	}
	return e.history[len(e.history)-1].Clone(), nil
}

// SnapshotAt returns a copy of the snapshot recorded for hour.
func (e *SimulationEngine) SnapshotAt(hour int) (*HourSnapshot, error) {
	if hour < 1 || hour > len(e.history) {
		return nil, fmt.Errorf("%w: hour %d", ErrNoSnapshot, hour)
	}
	return e.history[hour-1].Clone(), nil
}

// History returns copies of every recorded snapshot in hour order.
func (e *SimulationEngine) History() []*HourSnapshot {
	out := make([]*HourSnapshot, len(e.history))
	for i, s := range e.history {
		out[i] = s.Clone()
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

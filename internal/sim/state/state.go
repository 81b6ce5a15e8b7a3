// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/kb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
	"github.com/signalsfoundry/sewerflow-simulator/timectrl"
)

// Re-export sentinel errors so callers can depend on state.* instead of
// core.* and kb.* directly if they want to.
var (
	// ErrNoSnapshot indicates no hour has been recorded for a request.
	ErrNoSnapshot = core.ErrNoSnapshot
	// ErrTerminated indicates the run has reached its horizon.
	ErrTerminated = core.ErrTerminated
	// ErrSiteNotFound indicates a requested site was not found.
	ErrSiteNotFound = kb.ErrSiteNotFound
	// ErrAlreadyRunning indicates Run was called while a run is in progress.
	ErrAlreadyRunning = errors.New("run already in progress")
	// ErrNotRunning indicates a control call that needs an active run.
	ErrNotRunning = errors.New("run not in progress")
)

// Status is the lifecycle phase of a run.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	StatusFinished
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusFinished:
		return "finished"
	case StatusStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// StepMetricsRecorder receives the wall-clock cost of each simulated hour.
type StepMetricsRecorder interface {
	ObserveStepDuration(d time.Duration)
}

// RunState owns one SimulationEngine and makes it safe to share between the
// hour loop and concurrent readers. Advance takes the write lock; every
// reader receives deep copies.
type RunState struct {
	// mu guards the engine and everything recorded from it. Take it before
	// touching the engine; never call into the KB while holding it.
	mu sync.RWMutex

	engine *core.SimulationEngine
	sites  *kb.KnowledgeBase
	runID  string

	status    Status
	lastError error
	history   []*core.HourSnapshot
	telemetry *Telemetry

	clock  *timectrl.TimeController
	cancel context.CancelFunc
	unsub  func()

	log     logging.Logger
	metrics StepMetricsRecorder
}

// RunStateOption customises RunState construction.
type RunStateOption func(*RunState)

// WithMetricsRecorder attaches a recorder for step durations.
func WithMetricsRecorder(r StepMetricsRecorder) RunStateOption {
	return func(s *RunState) { s.metrics = r }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) RunStateOption {
	return func(s *RunState) {
		if id != "" {
			s.runID = id
		}
	}
}

// NewRunState wraps engine. Site moves in sites are mirrored onto the
// engine's nodes so later snapshots carry the new coordinates.
func NewRunState(engine *core.SimulationEngine, sites *kb.KnowledgeBase, log logging.Logger, opts ...RunStateOption) *RunState {
	if log == nil {
		log = logging.Noop()
	}
	if sites == nil {
		sites = kb.NewKnowledgeBase()
	}
	s := &RunState{
		engine:    engine,
		sites:     sites,
		runID:     logging.NewID(),
		telemetry: NewTelemetry(),
		log:       log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.unsub = sites.Subscribe(s.onSiteEvent)
	return s
}

// Close detaches the state from the site catalogue.
func (s *RunState) Close() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

// RunID identifies this run in logs and API responses.
func (s *RunState) RunID() string { return s.runID }

// Sites returns the site catalogue.
func (s *RunState) Sites() *kb.KnowledgeBase { return s.sites }

// Advance simulates the next hour under the write lock.
func (s *RunState) Advance(ctx context.Context) (*core.HourSnapshot, error) {
	ctx = logging.ContextWithRunID(ctx, s.runID)

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snap, err := s.engine.Step(ctx)
	if err != nil {
		if errors.Is(err, core.ErrTerminated) {
			s.status = StatusFinished
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveStepDuration(time.Since(start))
	}

	s.history = append(s.history, snap)
	s.telemetry.Record(snap)
	if !s.engine.Running() {
		s.status = StatusFinished
		s.log.Info(ctx, "simulation horizon reached", logging.Int("hours", snap.Hour))
	}
	return snap.Clone(), nil
}

// Run paces the remaining hours through clock and blocks until the horizon
// is reached, Stop is called or ctx is cancelled.
func (s *RunState) Run(ctx context.Context, clock *timectrl.TimeController) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusPaused {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !s.engine.Running() {
		s.mu.Unlock()
		return ErrTerminated
	}
	remaining := s.engine.MaxHours() - s.engine.CurrentHour() + 1
	parent := logging.ContextWithRunID(ctx, s.runID)
	ctx, cancel := context.WithCancel(parent)
	s.clock = clock
	s.cancel = cancel
	s.status = StatusRunning
	s.mu.Unlock()
	defer cancel()

	clock.AddListener(func(hour int, at time.Time) {
		if _, err := s.Advance(ctx); err != nil {
			s.mu.Lock()
			s.lastError = err
			s.mu.Unlock()
			s.log.Error(ctx, "hour failed", logging.Int("hour", hour), logging.Err(err))
			cancel()
		}
	})

	s.log.Info(ctx, "simulation started",
		logging.Int("hours", remaining),
		logging.String("mode", modeName(clock.Mode)))
	<-clock.Start(ctx, remaining)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
	if s.status != StatusFinished && s.status != StatusStopped {
		s.status = StatusStopped
	}
	if s.lastError != nil {
		return s.lastError
	}
	return parent.Err()
}

// Pause holds the run before its next hour.
func (s *RunState) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning || s.clock == nil {
		return ErrNotRunning
	}
	s.clock.Pause()
	s.status = StatusPaused
	return nil
}

// Resume releases a paused run.
func (s *RunState) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused || s.clock == nil {
		return ErrNotRunning
	}
	s.clock.Resume()
	s.status = StatusRunning
	return nil
}

// Stop ends an active run; Run returns once the current hour completes.
func (s *RunState) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return ErrNotRunning
	}
	s.status = StatusStopped
	s.cancel()
	return nil
}

// Status returns the lifecycle phase.
func (s *RunState) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Progress returns the next hour to simulate and the horizon.
func (s *RunState) Progress() (nextHour, maxHours int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.CurrentHour(), s.engine.MaxHours()
}

// Latest returns a copy of the most recent snapshot.
func (s *RunState) Latest() (*core.HourSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return nil, ErrNoSnapshot
	}
	return s.history[len(s.history)-1].Clone(), nil
}

// SnapshotAt returns a copy of the snapshot for a 1-based hour.
func (s *RunState) SnapshotAt(hour int) (*core.HourSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if hour < 1 || hour > len(s.history) {
		return nil, fmt.Errorf("%w: hour %d", ErrNoSnapshot, hour)
	}
	return s.history[hour-1].Clone(), nil
}

// History returns copies of the snapshots for hours in [from, to]. Bounds
// are clamped to what has been recorded; to <= 0 means the latest hour.
func (s *RunState) History(from, to int) []*core.HourSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from < 1 {
		from = 1
	}
	if to <= 0 || to > len(s.history) {
		to = len(s.history)
	}
	if from > to {
		return nil
	}
	out := make([]*core.HourSnapshot, 0, to-from+1)
	for _, snap := range s.history[from-1 : to] {
		out = append(out, snap.Clone())
	}
	return out
}

// Summary returns aggregate statistics over the recorded hours.
func (s *RunState) Summary() Summary {
	return s.telemetry.Summary()
}

// Topology returns the validated graph, which never changes after
// construction.
func (s *RunState) Topology() *core.Topology {
	return s.engine.Topology()
}

// MoveSite relocates a site. The engine picks up the new location through
// the catalogue subscription.
func (s *RunState) MoveSite(ctx context.Context, id string, loc orb.Point) (model.SiteDefinition, error) {
	if err := s.sites.MoveSite(id, loc); err != nil {
		return model.SiteDefinition{}, err
	}
	ctx = logging.ContextWithRunID(ctx, s.runID)
	s.log.Info(ctx, "site moved",
		logging.String("site_id", id),
		logging.Float("lon", loc.Lon()),
		logging.Float("lat", loc.Lat()))
	return s.sites.GetSite(id)
}

func (s *RunState) onSiteEvent(e kb.Event) {
	if e.Type != kb.EventSiteMoved {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e.Site.ID {
	case s.engine.Plant().ID:
		s.engine.Plant().Location = e.Site.Location
	case s.engine.Overflow().ID:
		s.engine.Overflow().Location = e.Site.Location
	default:
		if n, err := s.engine.Node(e.Site.ID); err == nil {
			n.Location = e.Site.Location
		}
	}
}

func modeName(m timectrl.Mode) string {
	if m == timectrl.Accelerated {
		return "accelerated"
	}
	return "realtime"
}

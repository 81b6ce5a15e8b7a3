package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/model"
	"github.com/signalsfoundry/sewerflow-simulator/timectrl"
)

type stepRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *stepRecorder) ObserveStepDuration(time.Duration) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

func newRunStateForTest(t *testing.T, maxHours int, opts ...RunStateOption) *RunState {
	t.Helper()
	sc := core.DefaultScenario()
	sc.Config.MaxHours = maxHours
	engine, err := sc.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	s := NewRunState(engine, sc.Sites, logging.Noop(), opts...)
	t.Cleanup(s.Close)
	return s
}

func TestRunStateAdvanceRecordsHistory(t *testing.T) {
	rec := &stepRecorder{}
	s := newRunStateForTest(t, 3, WithMetricsRecorder(rec), WithRunID("run-42"))
	ctx := context.Background()

	if _, err := s.Latest(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Latest before any hour = %v, want ErrNoSnapshot", err)
	}
	for i := 1; i <= 3; i++ {
		snap, err := s.Advance(ctx)
		if err != nil {
			t.Fatalf("Advance %d: %v", i, err)
		}
		if snap.Hour != i {
			t.Fatalf("hour = %d, want %d", snap.Hour, i)
		}
	}
	if _, err := s.Advance(ctx); !errors.Is(err, ErrTerminated) {
		t.Fatalf("Advance past horizon = %v, want ErrTerminated", err)
	}
	if s.Status() != StatusFinished {
		t.Fatalf("Status = %v, want finished", s.Status())
	}
	if rec.count != 3 {
		t.Fatalf("recorded %d step durations, want 3", rec.count)
	}
	if s.RunID() != "run-42" {
		t.Fatalf("RunID = %q", s.RunID())
	}

	h := s.History(2, 0)
	if len(h) != 2 || h[0].Hour != 2 || h[1].Hour != 3 {
		t.Fatalf("History(2,0) = %d entries", len(h))
	}
	if got := s.History(3, 1); got != nil {
		t.Fatalf("inverted range should be empty, got %d", len(got))
	}
	if _, err := s.SnapshotAt(4); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("SnapshotAt(4) = %v", err)
	}

	sum := s.Summary()
	if sum.Hours != 3 || len(sum.Nodes) != 15 {
		t.Fatalf("summary = %d hours / %d nodes", sum.Hours, len(sum.Nodes))
	}
}

func TestRunStateReadersGetCopies(t *testing.T) {
	s := newRunStateForTest(t, 2)
	if _, err := s.Advance(context.Background()); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	a, _ := s.Latest()
	a.Nodes[0].CurrentFlow = -99
	a.Nodes[0].Routed[0].Amount = -99
	b, _ := s.Latest()
	if b.Nodes[0].CurrentFlow == -99 || b.Nodes[0].Routed[0].Amount == -99 {
		t.Fatalf("Latest leaked internal state")
	}
}

func TestRunStateMoveSiteUpdatesEngine(t *testing.T) {
	s := newRunStateForTest(t, 2)
	ctx := context.Background()
	loc := orb.Point{20.0, 50.0}

	site, err := s.MoveSite(ctx, "KP7", loc)
	if err != nil {
		t.Fatalf("MoveSite: %v", err)
	}
	if site.Location != loc || site.Kind != model.SiteKindMeter {
		t.Fatalf("site = %+v", site)
	}
	if _, err := s.MoveSite(ctx, core.DefaultPlantID, loc); err != nil {
		t.Fatalf("MoveSite plant: %v", err)
	}

	snap, err := s.Advance(ctx)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	n, _ := snap.Node("KP7")
	if n.Location != loc {
		t.Fatalf("snapshot location = %v, want %v", n.Location, loc)
	}
	if snap.Plant.Location != loc {
		t.Fatalf("plant location = %v, want %v", snap.Plant.Location, loc)
	}
	if _, err := s.MoveSite(ctx, "nope", loc); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("MoveSite(nope) = %v", err)
	}
}

func TestRunStateRunToHorizon(t *testing.T) {
	s := newRunStateForTest(t, 24)
	clock := timectrl.NewTimeController(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 0, timectrl.Accelerated)

	if err := s.Run(context.Background(), clock); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Status() != StatusFinished {
		t.Fatalf("Status = %v, want finished", s.Status())
	}
	next, maxHours := s.Progress()
	if next != 25 || maxHours != 24 {
		t.Fatalf("Progress = %d/%d", next, maxHours)
	}
	if err := s.Run(context.Background(), clock); !errors.Is(err, ErrTerminated) {
		t.Fatalf("second Run = %v, want ErrTerminated", err)
	}
}

func TestRunStatePauseResumeStop(t *testing.T) {
	s := newRunStateForTest(t, 10000)
	clock := timectrl.NewTimeController(time.Now(), time.Millisecond, timectrl.RealTime)

	if err := s.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Pause before Run = %v, want ErrNotRunning", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background(), clock) }()

	waitFor(t, func() bool { return s.Status() == StatusRunning })
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if s.Status() != StatusPaused {
		t.Fatalf("Status = %v, want paused", s.Status())
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	// Concurrent readers while the loop runs.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = s.Latest()
				_ = s.History(1, 0)
				_ = s.Summary()
			}
		}()
	}
	wg.Wait()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run after Stop = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
	if s.Status() != StatusStopped {
		t.Fatalf("Status = %v, want stopped", s.Status())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

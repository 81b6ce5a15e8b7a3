package timectrl

import (
	"context"
	"sync"
	"time"
)

// HourClock maps 1-based simulation hours onto wall-clock timestamps. The
// engine stamps snapshots through it.
type HourClock interface {
	TimeForHour(hour int) time.Time
}

// Mode describes how the TimeController paces simulated hours.
type Mode int

const (
	// RealTime waits Tick of wall-clock time between hours.
	RealTime Mode = iota
	// Accelerated advances as quickly as the listeners allow.
	Accelerated
)

// ParseMode maps "realtime" or "accelerated" onto a Mode; anything else is
// RealTime.
func ParseMode(s string) Mode {
	if s == "accelerated" {
		return Accelerated
	}
	return RealTime
}

// Listener is invoked once per simulated hour, in registration order.
type Listener func(hour int, at time.Time)

// TimeController drives simulated hours and notifies registered listeners.
// Every step advances simulated time by exactly one hour; Tick only controls
// how long a RealTime controller waits between steps.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// hour is the last hour delivered to listeners; 0 before the first step.
	hour        int
	currentTime time.Time

	paused   bool
	resumeCh chan struct{}

	listeners []Listener
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// TimeForHour returns the timestamp at which the given hour starts. Hour 1
// starts at StartTime. Implements HourClock.
func (tc *TimeController) TimeForHour(hour int) time.Time {
	return tc.StartTime.Add(time.Duration(hour-1) * time.Hour)
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Hour returns the last hour delivered to listeners.
func (tc *TimeController) Hour() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.hour
}

// SetTime overrides the current simulation time without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked on every hour.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Pause holds the controller before its next step.
func (tc *TimeController) Pause() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !tc.paused {
		tc.paused = true
		tc.resumeCh = make(chan struct{})
	}
}

// Resume releases a paused controller.
func (tc *TimeController) Resume() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.paused {
		tc.paused = false
		close(tc.resumeCh)
	}
}

// Paused reports whether the controller is paused.
func (tc *TimeController) Paused() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.paused
}

// Start runs the controller for up to steps hours in a separate goroutine;
// steps <= 0 runs until ctx is cancelled. It returns a channel that is
// closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, steps int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var tick <-chan time.Time
		if tc.Mode == RealTime && tc.Tick > 0 {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}

		for n := 0; steps <= 0 || n < steps; n++ {
			if !tc.waitWhilePaused(ctx) {
				return
			}
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}

			tc.mu.Lock()
			tc.hour++
			hour := tc.hour
			at := tc.TimeForHour(hour)
			tc.currentTime = at
			listeners := append([]Listener(nil), tc.listeners...)
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(hour, at)
			}
		}
	}()
	return done
}

func (tc *TimeController) waitWhilePaused(ctx context.Context) bool {
	for {
		tc.mu.RLock()
		paused, ch := tc.paused, tc.resumeCh
		tc.mu.RUnlock()
		if !paused {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
	}
}

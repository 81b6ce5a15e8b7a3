package core

import (
	"fmt"
	"math"
	"strings"
)

// RainDepthMethod selects how the accumulated rainfall depth is derived.
type RainDepthMethod string

const (
	// RainDepthWindow sums intensity over the last N hours.
	RainDepthWindow RainDepthMethod = "window"
	// RainDepthReservoir is an exponentially decayed reservoir:
	// depth = lambda*depth + intensity.
	RainDepthReservoir RainDepthMethod = "reservoir"

	DefaultRainWindow = 6
	DefaultRainLambda = 0.92
)

// RainDepthConfig picks exactly one depth method and its parameter.
type RainDepthConfig struct {
	Method RainDepthMethod
	Window int
	Lambda float64
}

// DefaultRainDepthConfig is the sliding window over six hours.
func DefaultRainDepthConfig() RainDepthConfig {
	return RainDepthConfig{
		Method: RainDepthWindow,
		Window: DefaultRainWindow,
		Lambda: DefaultRainLambda,
	}
}

// Validate rejects unknown methods and out-of-range parameters.
func (c RainDepthConfig) Validate() error {
	switch RainDepthMethod(strings.ToLower(string(c.Method))) {
	case RainDepthWindow:
		if c.Window < 1 {
			return fmt.Errorf("%w: rain window must be >= 1, got %d", ErrConfiguration, c.Window)
		}
	case RainDepthReservoir:
		if c.Lambda < 0 || c.Lambda >= 1 || math.IsNaN(c.Lambda) {
			return fmt.Errorf("%w: rain reservoir lambda must be in [0,1), got %v", ErrConfiguration, c.Lambda)
		}
	default:
		return fmt.Errorf("%w: unknown rain depth method %q", ErrConfiguration, c.Method)
	}
	return nil
}

// RainfallState is the engine-owned weather signal for the current hour.
// Nodes only ever see it by value.
type RainfallState struct {
	Intensity float64 // mm/h
	Depth     float64
}

// rainfall advances RainfallState from an exogenous intensity series.
type rainfall struct {
	series []float64
	cfg    RainDepthConfig
	state  RainfallState
}

func newRainfall(series []float64, cfg RainDepthConfig) *rainfall {
	cfg.Method = RainDepthMethod(strings.ToLower(string(cfg.Method)))
	return &rainfall{
		series: append([]float64(nil), series...),
		cfg:    cfg,
	}
}

// intensityAt returns the 1-based hour's intensity, 0 past the end of the
// series. Negative or NaN readings are treated as no rain.
func (r *rainfall) intensityAt(hour int) float64 {
	if hour < 1 || hour > len(r.series) {
		return 0
	}
	return nonNegative(r.series[hour-1])
}

// advance sets the state for the given 1-based hour. Once the series is
// exhausted both intensity and depth are 0 whatever the depth method.
func (r *rainfall) advance(hour int) RainfallState {
	if hour > len(r.series) {
		r.state = RainfallState{}
		return r.state
	}
	intensity := r.intensityAt(hour)

	var depth float64
	switch r.cfg.Method {
	case RainDepthReservoir:
		depth = r.cfg.Lambda*r.state.Depth + intensity
	default:
		start := hour - r.cfg.Window + 1
		if start < 1 {
			start = 1
		}
		for h := start; h <= hour; h++ {
			depth += r.intensityAt(h)
		}
	}

	r.state = RainfallState{Intensity: intensity, Depth: depth}
	return r.state
}

func (r *rainfall) current() RainfallState { return r.state }

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidThresholds is returned when plant thresholds are not ordered
// nominal <= warning <= hydraulic or contain non-finite values.
var ErrInvalidThresholds = errors.New("invalid plant thresholds")

// DefaultRetentionBuffer is the temporary storable overload above the
// hydraulic capacity before the plant is considered in hard failure.
const DefaultRetentionBuffer = 1000.0

// PlantThresholds are the flow-rate limits of the treatment plant (m³/h).
type PlantThresholds struct {
	// Nominal is full biological treatment capacity.
	Nominal float64
	// Warning is the level above which the overflow is engaged.
	Warning float64
	// Hydraulic is the maximum continuous inflow the plant can take.
	Hydraulic float64
	// RetentionBuffer is added to Hydraulic to get the retention limit.
	RetentionBuffer float64

	// MaxCapacity and NormalFlow are informational design figures.
	MaxCapacity float64
	NormalFlow  float64

	// KRainDepth scales the rainfall-depth correction added at the plant.
	KRainDepth float64
}

// DefaultPlantThresholds returns the reference plant configuration.
func DefaultPlantThresholds() PlantThresholds {
	return PlantThresholds{
		Nominal:         1700,
		Warning:         2000,
		Hydraulic:       2200,
		RetentionBuffer: DefaultRetentionBuffer,
		MaxCapacity:     1700,
		NormalFlow:      1200,
	}
}

// RetentionLimit is Hydraulic plus the retention buffer.
func (p PlantThresholds) RetentionLimit() float64 {
	return p.Hydraulic + p.RetentionBuffer
}

// Validate checks the ordering constraint between thresholds.
func (p PlantThresholds) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"nominal", p.Nominal},
		{"warning", p.Warning},
		{"hydraulic", p.Hydraulic},
		{"retention buffer", p.RetentionBuffer},
		{"k_rain_depth", p.KRainDepth},
	}
	for _, c := range checks {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidThresholds, c.name)
		}
	}
	if p.Nominal < 0 {
		return fmt.Errorf("%w: nominal %.2f is negative", ErrInvalidThresholds, p.Nominal)
	}
	if p.Nominal > p.Warning || p.Warning > p.Hydraulic {
		return fmt.Errorf("%w: want nominal <= warning <= hydraulic, got %.2f / %.2f / %.2f",
			ErrInvalidThresholds, p.Nominal, p.Warning, p.Hydraulic)
	}
	if p.RetentionBuffer < 0 {
		return fmt.Errorf("%w: retention buffer %.2f is negative", ErrInvalidThresholds, p.RetentionBuffer)
	}
	return nil
}

package core

import "github.com/signalsfoundry/sewerflow-simulator/model"

// MeanSource records where a node's hourly mean came from.
type MeanSource int

const (
	MeanExact    MeanSource = iota // row for the requested hour
	MeanHourZero                   // fallback to the hour-0 row
	MeanDefault                    // no entry at all; model.DefaultMeanFlow
)

func (s MeanSource) String() string {
	switch s {
	case MeanExact:
		return "exact"
	case MeanHourZero:
		return "hour_zero"
	default:
		return "default"
	}
}

// HourlyMeans maps hour-of-day (0..23) to per-node dry-weather flow.
type HourlyMeans map[int]map[string]float64

// Lookup returns the mean flow of id for hourOfDay, falling back to the
// hour-0 row and then to model.DefaultMeanFlow.
func (m HourlyMeans) Lookup(hourOfDay int, id string) (float64, MeanSource) {
	if row, ok := m[hourOfDay]; ok {
		if v, ok := row[id]; ok {
			return nonNegative(v), MeanExact
		}
	}
	if row, ok := m[0]; ok {
		if v, ok := row[id]; ok {
			return nonNegative(v), MeanHourZero
		}
	}
	return model.DefaultMeanFlow, MeanDefault
}

// HourOfDay maps a 1-based simulation hour onto the 0..23 table index.
func HourOfDay(hour int) int {
	h := (hour - 1) % 24
	if h < 0 {
		h += 24
	}
	return h
}

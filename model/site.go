package model

import "github.com/paulmach/orb"

// SiteKind indicates what role a site plays in the catchment graph.
type SiteKind int

const (
	SiteKindMeter    SiteKind = iota // flow meter on a sub-catchment
	SiteKindPlant                    // treatment plant sink
	SiteKindOverflow                 // emergency overflow sink
)

func (k SiteKind) String() string {
	switch k {
	case SiteKindMeter:
		return "meter"
	case SiteKindPlant:
		return "plant"
	case SiteKindOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// SiteDefinition represents a physical location in the sewer network:
// a monitored sub-catchment, the treatment plant or the overflow outfall.
type SiteDefinition struct {
	ID   string
	Name string
	Kind SiteKind

	// Location is [lon, lat]. It is carried for reporting only; no flow
	// computation reads it.
	Location orb.Point
}

// DefaultMeterLocation returns the placeholder position used for the i-th
// meter when no coordinates were supplied.
func DefaultMeterLocation(i int) orb.Point {
	return orb.Point{19.21 + float64(i)*0.001, 49.68 + float64(i)*0.001}
}

// Default sink positions used when the scenario carries no coordinates.
var (
	DefaultPlantLocation    = orb.Point{19.213, 49.682}
	DefaultOverflowLocation = orb.Point{19.22, 49.68}
)

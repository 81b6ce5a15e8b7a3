package model

import (
	"errors"
	"math"
	"testing"
)

func TestPlantThresholds_Validate(t *testing.T) {
	if err := DefaultPlantThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}

	bad := []func(*PlantThresholds){
		func(p *PlantThresholds) { p.Nominal = -1 },
		func(p *PlantThresholds) { p.Warning = p.Nominal - 1 },
		func(p *PlantThresholds) { p.Hydraulic = p.Warning - 1 },
		func(p *PlantThresholds) { p.RetentionBuffer = -5 },
		func(p *PlantThresholds) { p.Hydraulic = math.Inf(1) },
		func(p *PlantThresholds) { p.KRainDepth = math.NaN() },
	}
	for i, mutate := range bad {
		p := DefaultPlantThresholds()
		mutate(&p)
		if err := p.Validate(); !errors.Is(err, ErrInvalidThresholds) {
			t.Errorf("case %d: Validate() = %v, want ErrInvalidThresholds", i, err)
		}
	}

	if got := DefaultPlantThresholds().RetentionLimit(); got != 3200 {
		t.Fatalf("RetentionLimit() = %v, want 3200", got)
	}
}

func TestPartialNodeParams_Resolve(t *testing.T) {
	alpha := 2.0
	got := PartialNodeParams{Alpha: &alpha}.Resolve()
	want := DefaultNodeParams()
	want.Alpha = 2
	if got != want {
		t.Fatalf("Resolve() = %+v, want %+v", got, want)
	}
}

func TestRegime_RoundTripAndDiversion(t *testing.T) {
	for r := RegimeNormal; r <= RegimeFailureHard; r++ {
		parsed, err := ParseRegime(r.String())
		if err != nil || parsed != r {
			t.Fatalf("ParseRegime(%q) = %v, %v", r.String(), parsed, err)
		}
	}
	if _, err := ParseRegime("flooded"); err == nil {
		t.Fatalf("expected error for unknown regime")
	}
	if RegimeWarning.DivertsToOverflow() || !RegimeCritical.DivertsToOverflow() {
		t.Fatalf("diversion starts at CRITICAL")
	}
	if Regime(42).String() != "Regime(42)" {
		t.Fatalf("unexpected name for out-of-range regime")
	}
	if StatusAlert.String() != "ALERT" || StatusNormal.String() != "NORMAL" {
		t.Fatalf("status names changed")
	}
}

func TestSiteKind_String(t *testing.T) {
	if SiteKindPlant.String() == SiteKindMeter.String() {
		t.Fatalf("site kinds must have distinct names")
	}
	a, b := DefaultMeterLocation(0), DefaultMeterLocation(1)
	if a == b {
		t.Fatalf("default meter locations must differ")
	}
}

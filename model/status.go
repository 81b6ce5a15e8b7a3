package model

import (
	"fmt"
	"strings"
)

// Status is the alert classification of a flow node for one hour.
type Status int

const (
	StatusNormal Status = iota
	StatusAlert
)

func (s Status) String() string {
	if s == StatusAlert {
		return "ALERT"
	}
	return "NORMAL"
}

// Regime is the operating band of the treatment plant.
type Regime int

const (
	RegimeNormal Regime = iota
	RegimeWarning
	RegimeCritical
	RegimeFailureSoft
	RegimeFailureHard
)

var regimeNames = [...]string{
	RegimeNormal:      "NORMAL",
	RegimeWarning:     "WARNING",
	RegimeCritical:    "CRITICAL",
	RegimeFailureSoft: "FAILURE_SOFT",
	RegimeFailureHard: "FAILURE_HARD",
}

func (r Regime) String() string {
	if r < 0 || int(r) >= len(regimeNames) {
		return fmt.Sprintf("Regime(%d)", int(r))
	}
	return regimeNames[r]
}

// DivertsToOverflow reports whether the regime engages the overflow.
func (r Regime) DivertsToOverflow() bool {
	return r >= RegimeCritical
}

// ParseRegime is the inverse of Regime.String.
func ParseRegime(s string) (Regime, error) {
	for i, name := range regimeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Regime(i), nil
		}
	}
	return RegimeNormal, fmt.Errorf("unknown regime %q", s)
}

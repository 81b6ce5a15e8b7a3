package core

// SplitControl carries the plant's diversion decision across the hour
// boundary. The plant writes the next slot; routing only ever reads the
// current slot, which the engine swaps in at the top of the next hour.
// That one-hour lag is what turns plant -> node -> overflow -> plant into
// feedback instead of a same-hour cycle.
type SplitControl struct {
	currentFactor float64
	currentActive bool

	nextFactor float64
	nextActive bool
}

// Current returns the factor and activation in force for this hour's routing.
func (s *SplitControl) Current() (factor float64, active bool) {
	return s.currentFactor, s.currentActive
}

// Next returns the decision the plant made this hour.
func (s *SplitControl) Next() (factor float64, active bool) {
	return s.nextFactor, s.nextActive
}

// SetNext records the plant's decision for the following hour.
func (s *SplitControl) SetNext(factor float64, active bool) {
	s.nextFactor = clamp01(factor)
	s.nextActive = active
}

// ResetNext clears the pending decision before the plant re-evaluates.
func (s *SplitControl) ResetNext() {
	s.nextFactor = 0
	s.nextActive = false
}

// Swap promotes the pending decision to the current hour.
func (s *SplitControl) Swap() {
	s.currentFactor, s.currentActive = s.nextFactor, s.nextActive
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

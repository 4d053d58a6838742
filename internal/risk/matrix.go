package risk

import "sync"

// ControlMatrix maps a risk Severity to a position-size scale factor,
// adapted from the teacher's CircuitBreaker graduated state ladder
// (normal/warning/reduced/restricted/minimal/halted/cooling_off/
// emergency, each with its own size multiplier) collapsed onto the Risk
// Assessor's four-level severity scale.
type ControlMatrix struct {
	mu      sync.RWMutex
	scale   map[Severity]float64
	current Severity
}

// defaultScale mirrors the teacher's graduated response: full size when
// nothing is wrong, progressively smaller as severity climbs, and zero at
// critical — matching StateNormal (100%), StateReduced (80%),
// StateRestricted (50%), and StateHalted (0%) from the teacher's ladder.
func defaultScale() map[Severity]float64 {
	return map[Severity]float64{
		SeverityLow:      1.0,
		SeverityMedium:   0.80,
		SeverityHigh:     0.50,
		SeverityCritical: 0.0,
	}
}

// NewControlMatrix builds a matrix at SeverityLow (full size).
func NewControlMatrix() *ControlMatrix {
	return &ControlMatrix{scale: defaultScale(), current: SeverityLow}
}

// SetLevel records the current risk level, typically called from the
// integration bridge each time the Risk Assessor re-evaluates.
func (m *ControlMatrix) SetLevel(level Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = level
}

// ScaleFactor returns the position-size multiplier for the current risk
// level, in [0, 1].
func (m *ControlMatrix) ScaleFactor() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scale[m.current]
}

// CanOpenPosition reports whether new positions are allowed at all at the
// current risk level. Critical severity halts new positions outright,
// matching the teacher's StateHalted ("no new BUY positions").
func (m *ControlMatrix) CanOpenPosition() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != SeverityCritical
}

// ResetToDefault restores the matrix to SeverityLow / full size, used by
// an operator-invoked manual recovery.
func (m *ControlMatrix) ResetToDefault() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = SeverityLow
}

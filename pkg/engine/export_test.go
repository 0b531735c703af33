package engine

import "time"

// SetClock overrides the engine clock in tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

package manager

import "time"

// SetClock overrides the manager clock in tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

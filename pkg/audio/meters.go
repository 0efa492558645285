package audio

import "sync"

const (
	// meterAlpha is the EMA weight of a new reading.
	meterAlpha = 0.20

	// meterFloorDB and meterCeilDB bound the displayed range.
	meterFloorDB = -80
	meterCeilDB  = 0
)

// Level is a smoothed meter reading.
type Level struct {
	DB      float64
	Clipped bool
}

// Meters keeps a smoothed peak level per capture role for live display.
// Readings are clamped to [-80, 0] dB and smoothed with an exponential moving
// average so the meter isn't too twitchy. Safe for concurrent use.
type Meters struct {
	mu     sync.Mutex
	levels map[Role]Level
}

// NewMeters returns an empty set of meters.
func NewMeters() *Meters {
	return &Meters{levels: make(map[Role]Level)}
}

// Update folds a new peak reading into the meter for role.
func (m *Meters) Update(role Role, p Peak) {
	db := min(max(p.DB, meterFloorDB), meterCeilDB)

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.levels[role]; ok {
		db = old.DB*(1-meterAlpha) + db*meterAlpha
	}
	m.levels[role] = Level{DB: db, Clipped: p.Clipped}
}

// Level returns the current reading for role. ok is false until the first
// update after construction or [Meters.Zero].
func (m *Meters) Level(role Role) (lvl Level, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lvl, ok = m.levels[role]
	return lvl, ok
}

// Zero forgets all readings.
func (m *Meters) Zero() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.levels)
}

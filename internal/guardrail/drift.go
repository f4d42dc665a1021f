package guardrail

import (
	"sync"
	"time"
)

// Drift temperature dynamics. Warns push the scalar up; benign turns and
// elapsed time pull it down.
const (
	driftWarnStep     = 0.25
	driftSoftStep     = 0.4
	driftBenignDecay  = 0.05
	driftDecayPerHour = 0.1
	driftInjectAt     = 0.7
	driftSoftBlockAt  = 0.9
)

// DriftAction tells the pipeline what the monitor wants for this turn.
type DriftAction int

const (
	DriftNone DriftAction = iota
	// DriftInjectSafety: append safety context to the prompt.
	DriftInjectSafety
	// DriftSoftBlock: soft-block the turn; the session temperature resets.
	DriftSoftBlock
)

// DriftMonitor tracks a per-session escalation temperature T ∈ [0, 1].
// Safe for concurrent use.
type DriftMonitor struct {
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*driftState
}

type driftState struct {
	temperature float64
	updatedAt   time.Time
}

// NewDriftMonitor constructs a monitor.
func NewDriftMonitor() *DriftMonitor {
	return &DriftMonitor{
		now:      time.Now,
		sessions: make(map[string]*driftState),
	}
}

// Observe folds one turn's input verdict into the session temperature and
// returns the action the pipeline should take.
func (m *DriftMonitor) Observe(sessionID string, severity Severity) DriftAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	now := m.now()
	if !ok {
		st = &driftState{updatedAt: now}
		m.sessions[sessionID] = st
	}

	// Time decay since the last turn.
	elapsed := now.Sub(st.updatedAt).Hours()
	if elapsed > 0 {
		st.temperature -= driftDecayPerHour * elapsed
	}
	st.updatedAt = now

	switch {
	case severity >= SeveritySoftBlock:
		st.temperature += driftSoftStep
	case severity == SeverityWarn:
		st.temperature += driftWarnStep
	default:
		st.temperature -= driftBenignDecay
	}
	st.temperature = clampUnit(st.temperature)

	switch {
	case st.temperature > driftSoftBlockAt:
		st.temperature = 0
		return DriftSoftBlock
	case st.temperature > driftInjectAt:
		return DriftInjectSafety
	default:
		return DriftNone
	}
}

// Temperature returns the session's current T (tests, admin surface).
func (m *DriftMonitor) Temperature(sessionID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok {
		return st.temperature
	}
	return 0
}

// Forget drops a session's state (session end).
func (m *DriftMonitor) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

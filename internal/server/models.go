package server

import (
	"fmt"
	"sync"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// ModelSettings is the mutable role→model map behind the admin models
// endpoint. Changes propagate through the OnChange hook (the app points
// it at provider reconfiguration).
type ModelSettings struct {
	mu       sync.RWMutex
	models   map[types.Role]string
	onChange func(map[types.Role]string)
}

// NewModelSettings seeds the map from config.
func NewModelSettings(initial map[types.Role]string) *ModelSettings {
	m := &ModelSettings{models: make(map[types.Role]string, len(initial))}
	for role, model := range initial {
		m.models[role] = model
	}
	return m
}

// OnChange registers the propagation hook, called with a snapshot after
// every successful Set.
func (m *ModelSettings) OnChange(f func(map[types.Role]string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = f
}

// Snapshot returns a copy of the current map.
func (m *ModelSettings) Snapshot() map[types.Role]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.Role]string, len(m.models))
	for role, model := range m.models {
		out[role] = model
	}
	return out
}

// Set merges the updates after validating every role name.
func (m *ModelSettings) Set(updates map[types.Role]string) error {
	for role := range updates {
		if !role.IsValid() {
			return fmt.Errorf("server: unknown model role %q", role)
		}
	}
	m.mu.Lock()
	for role, model := range updates {
		m.models[role] = model
	}
	snapshot := make(map[types.Role]string, len(m.models))
	for role, model := range m.models {
		snapshot[role] = model
	}
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(snapshot)
	}
	return nil
}

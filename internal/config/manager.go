package config

import (
	"fmt"
	"sync"
)

// Manager provides thread-safe access to the live ontoflow configuration
// and fans successful reloads out to the hooks registered with OnReload,
// so a consumer that registers one sees a reload without a process
// restart. cmd/ontoflowd reads its config once through Load and
// registers no hook.
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	onReload []func(*Config)
}

// NewManager constructs a manager holding a clone of the initial config.
func NewManager(initial *Config) *Manager {
	return &Manager{cfg: initial.Clone()}
}

// OnReload registers fn to run after every successful Set or Reload with
// a clone of the newly installed config. Hooks run in registration order,
// outside the manager's lock, so a hook may call Get without deadlocking.
func (m *Manager) OnReload(fn func(*Config)) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// Get returns a cloned config snapshot under a shared lock. Tier scale,
// routing overrides, and telemetry settings are read on request paths;
// the clone keeps readers from observing a torn config mid-swap.
func (m *Manager) Get() *Config {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Set installs cfg as the live configuration and notifies reload hooks.
func (m *Manager) Set(cfg *Config) {
	if m == nil {
		return
	}

	m.mu.Lock()
	m.cfg = cfg.Clone()
	hooks, snapshot := m.onReload, m.cfg.Clone()
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(snapshot)
	}
}

// Reload loads the ontoflow config from path, atomically swaps it into
// place, and notifies reload hooks. The previous config stays live if the
// load fails.
func (m *Manager) Reload(path string) error {
	if m == nil {
		return fmt.Errorf("config manager is nil")
	}
	if path == "" {
		return fmt.Errorf("config reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.Set(loaded)
	return nil
}

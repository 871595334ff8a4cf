package providers

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is the declarative configuration for one provider
// entry in the persisted registry: enough to reconstruct its transport
// at startup (the actual construction, e.g. NewOllamaProvider, lives in
// cmd/conductor, which owns wiring API keys from the environment rather
// than this package serializing secrets to disk).
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Type      Type   `yaml:"type"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	Model     string `yaml:"model,omitempty"`
	Enabled   bool   `yaml:"enabled"`
}

// PersistentState is the single document the manager's registry
// round-trips to YAML: which provider is active, which selection
// strategy and preference order are configured, and the declarative
// config of every provider (not live connections).
type PersistentState struct {
	ActiveProvider    string            `yaml:"active_provider"`
	SelectionStrategy SelectionStrategy `yaml:"selection_strategy"`
	PreferredOrder    []string          `yaml:"preferred_order,omitempty"`
	ProviderConfigs   []ProviderConfig  `yaml:"provider_configs"`
}

// ExportState snapshots the manager's selection policy into a
// PersistentState. Provider configs must be supplied by the caller
// (the manager only knows live Provider values, not the declarative
// config each was constructed from), keyed by provider name.
func (m *Manager) ExportState(configs map[string]ProviderConfig) PersistentState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := PersistentState{
		ActiveProvider:    m.activeName,
		SelectionStrategy: m.strategy,
		PreferredOrder:    append([]string(nil), m.preferred...),
	}
	for name := range m.providers {
		if cfg, ok := configs[name]; ok {
			state.ProviderConfigs = append(state.ProviderConfigs, cfg)
		}
	}
	return state
}

// ApplyState restores selection policy (active provider, strategy,
// preferred order) from a previously exported PersistentState. It does
// not construct providers from ProviderConfigs — callers use those
// entries to call RegisterProvider themselves, then ApplyState to
// restore which one was active.
func (m *Manager) ApplyState(state PersistentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state.ActiveProvider != "" {
		if _, err := m.getProviderLocked(state.ActiveProvider); err != nil {
			return fmt.Errorf("providers: restoring active provider: %w", err)
		}
		m.activeName = state.ActiveProvider
	}
	if state.SelectionStrategy != "" {
		m.strategy = state.SelectionStrategy
	}
	if len(state.PreferredOrder) > 0 {
		m.preferred = append([]string(nil), state.PreferredOrder...)
	}
	for _, cfg := range state.ProviderConfigs {
		if _, ok := m.providers[cfg.Name]; ok {
			m.enabled[cfg.Name] = cfg.Enabled
		}
	}
	return nil
}

// SaveState writes state as YAML to w.
func SaveState(w io.Writer, state PersistentState) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(state)
}

// LoadState reads a PersistentState document previously written by
// SaveState.
func LoadState(r io.Reader) (PersistentState, error) {
	var state PersistentState
	if err := yaml.NewDecoder(r).Decode(&state); err != nil {
		return PersistentState{}, fmt.Errorf("providers: decoding persisted state: %w", err)
	}
	return state, nil
}

package config

import (
	"reflect"
	"sync"
)

// Manager holds the live config and supports atomic hot reload on SIGHUP
// (spec.md §6 "reload"), computing a Diff so callers (the IRC session
// manager, the ingress admission layer) can reconcile incrementally
// instead of tearing everything down.
type Manager struct {
	mu   sync.RWMutex
	path string
	cur  *Config
}

// NewManager loads the config at path and returns a Manager wrapping it.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cur: cfg}, nil
}

// Current returns the presently active config. Callers must not mutate it.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Diff summarizes what changed between two config generations.
type Diff struct {
	NetworksAdded    []string
	NetworksRemoved  []string
	NetworksChanged  []string
	RepositoriesDiff bool   // true if the repo table or any repo's channel list changed
	GlobalChanged    bool
}

// Empty reports whether the diff carries no changes at all.
func (d Diff) Empty() bool {
	return len(d.NetworksAdded) == 0 && len(d.NetworksRemoved) == 0 &&
		len(d.NetworksChanged) == 0 && !d.RepositoriesDiff && !d.GlobalChanged
}

// Reload re-reads the config file, swaps it in atomically, and returns the
// Diff against the previous generation. On parse/validation failure the
// previous config is left in place and the error is returned, so a bad
// SIGHUP-triggered reload degrades safely.
func (m *Manager) Reload() (Diff, error) {
	next, err := Load(m.path)
	if err != nil {
		return Diff{}, err
	}

	m.mu.Lock()
	prev := m.cur
	m.cur = next
	m.mu.Unlock()

	return diffConfigs(prev, next), nil
}

func diffConfigs(prev, next *Config) Diff {
	d := Diff{}

	for name := range next.Networks {
		if _, ok := prev.Networks[name]; !ok {
			d.NetworksAdded = append(d.NetworksAdded, name)
		}
	}
	for name, oldNet := range prev.Networks {
		newNet, ok := next.Networks[name]
		if !ok {
			d.NetworksRemoved = append(d.NetworksRemoved, name)
			continue
		}
		if !reflect.DeepEqual(oldNet, newNet) {
			d.NetworksChanged = append(d.NetworksChanged, name)
		}
	}

	d.RepositoriesDiff = !reflect.DeepEqual(prev.Repositories, next.Repositories)
	d.GlobalChanged = !reflect.DeepEqual(prev.Global, next.Global)

	return d
}

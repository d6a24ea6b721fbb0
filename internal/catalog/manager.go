package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownApp is returned when a lookup names an app that is not in
// the catalog.
var ErrUnknownApp = fmt.Errorf("unknown app")

// Manager is the in-memory app registry. Catalog descriptors are loaded
// once at startup; workspace previews may register dynamic descriptors
// afterwards.
type Manager struct {
	mu   sync.RWMutex
	apps map[string]*Descriptor
}

// NewManager creates an empty catalog.
func NewManager() *Manager {
	return &Manager{
		apps: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor. Registering an existing name replaces it;
// only dynamic descriptors are expected to do so.
func (m *Manager) Register(d *Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("descriptor has no name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[d.Name] = d
	return nil
}

// Get retrieves a descriptor by app name.
func (m *Manager) Get(name string) (*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownApp, name)
	}
	return d, nil
}

// List returns all descriptors sorted by name.
func (m *Manager) List() []*Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	apps := make([]*Descriptor, 0, len(m.apps))
	for _, d := range m.apps {
		apps = append(apps, d)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps
}

// Names returns all registered app names sorted.
func (m *Manager) Names() []string {
	apps := m.List()
	names := make([]string, len(apps))
	for i, d := range apps {
		names[i] = d.Name
	}
	return names
}

// FindByExtension returns the first app declaring support for ext.
func (m *Manager) FindByExtension(ext string) (*Descriptor, bool) {
	for _, d := range m.List() {
		if d.Matches(ext) {
			return d, true
		}
	}
	return nil, false
}

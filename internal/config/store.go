// Package config holds daemon settings plus the mutable runtime state
// shared with instances: the environment overlay handed to every
// spawned process and the registry of installed agent binaries.
package config

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/lzjever/mbos-agentd/internal/bus"
	"github.com/lzjever/mbos-agentd/internal/core"
)

// AppSettings is the client-editable slice of daemon configuration.
type AppSettings struct {
	// InstanceEnv is overlaid on the parent environment of every
	// spawned instance.
	InstanceEnv map[string]string `json:"instance_env"`
}

// Store owns app settings and the binary registry. Changes are
// announced on the bus as config.appChanged / config.binariesChanged.
type Store struct {
	bus *bus.Bus

	mu       sync.Mutex
	app      AppSettings
	binaries []core.Binary
}

func NewStore(cfg Config, b *bus.Bus) *Store {
	s := &Store{bus: b}
	s.app.InstanceEnv = make(map[string]string, len(cfg.InstanceEnv))
	for k, v := range cfg.InstanceEnv {
		s.app.InstanceEnv[k] = v
	}
	for _, path := range cfg.Binaries {
		s.binaries = append(s.binaries, binaryFromPath(path))
	}
	return s
}

// App returns a snapshot of the app settings.
func (s *Store) App() AppSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSettings(s.app)
}

// SetApp replaces the app settings and announces the change.
func (s *Store) SetApp(app AppSettings) {
	s.mu.Lock()
	s.app = cloneSettings(app)
	s.mu.Unlock()
	s.bus.Publish(core.ConfigAppChanged{})
}

// InstanceEnv returns a copy of the environment overlay for spawns.
func (s *Store) InstanceEnv() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.app.InstanceEnv))
	for k, v := range s.app.InstanceEnv {
		out[k] = v
	}
	return out
}

// Binaries lists the registered agent binaries.
func (s *Store) Binaries() []core.Binary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Binary, len(s.binaries))
	copy(out, s.binaries)
	return out
}

// SetBinaries replaces the registry and announces the change. Entries
// without an id get one assigned.
func (s *Store) SetBinaries(bins []core.Binary) {
	s.mu.Lock()
	s.binaries = make([]core.Binary, len(bins))
	copy(s.binaries, bins)
	for i := range s.binaries {
		if s.binaries[i].ID == "" {
			s.binaries[i].ID = core.NewID()
		}
		if s.binaries[i].Label == "" {
			s.binaries[i].Label = filepath.Base(s.binaries[i].Path)
		}
	}
	s.mu.Unlock()
	s.bus.Publish(core.ConfigBinariesChanged{})
}

// ResolveDefault returns the binary used for new workspaces: the first
// registered entry, validated to exist on disk.
func (s *Store) ResolveDefault() (core.Binary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.binaries) == 0 {
		return core.Binary{}, fmt.Errorf("no agent binaries registered")
	}
	bin := s.binaries[0]
	if _, err := exec.LookPath(bin.Path); err != nil {
		return core.Binary{}, fmt.Errorf("default binary %s: %w", bin.Path, err)
	}
	return bin, nil
}

func binaryFromPath(path string) core.Binary {
	return core.Binary{
		ID:    core.NewID(),
		Path:  path,
		Label: filepath.Base(path),
	}
}

func cloneSettings(app AppSettings) AppSettings {
	out := AppSettings{InstanceEnv: make(map[string]string, len(app.InstanceEnv))}
	for k, v := range app.InstanceEnv {
		out.InstanceEnv[k] = v
	}
	return out
}

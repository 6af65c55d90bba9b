// Package manager owns the workspace registry and orchestrates
// instance lifecycle against the process runtime. Descriptors are
// in-memory only; nothing survives a restart.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-agentd/internal/bus"
	"github.com/lzjever/mbos-agentd/internal/core"
	"github.com/lzjever/mbos-agentd/internal/observability"
)

// Runtime is the slice of the process runtime the manager consumes.
type Runtime interface {
	Launch(ctx context.Context, id, folder, binaryPath string, env map[string]string,
		onExit func(code int, requested bool), onLog func(stream, line string)) (pid, port int, err error)
	Stop(ctx context.Context, id string) error
}

// BinaryResolver supplies the default agent binary for new workspaces.
type BinaryResolver interface {
	ResolveDefault() (core.Binary, error)
	InstanceEnv() map[string]string
}

type Manager struct {
	runtime  Runtime
	binaries BinaryResolver
	bus      *bus.Bus
	log      *zap.Logger

	mu         sync.Mutex
	workspaces map[string]*core.Workspace
}

func New(rt Runtime, binaries BinaryResolver, b *bus.Bus, log *zap.Logger) *Manager {
	return &Manager{
		runtime:    rt,
		binaries:   binaries,
		bus:        b,
		log:        log,
		workspaces: make(map[string]*core.Workspace),
	}
}

// Create registers a new workspace for folder and launches its
// instance. The descriptor is visible to List/Get in starting state
// before the launch settles; launch failure is published as a
// workspace.error event and also returned to the caller.
func (m *Manager) Create(ctx context.Context, folder, name string) (*core.Workspace, error) {
	bin, err := m.binaries.ResolveDefault()
	if err != nil {
		return nil, core.NewAppError(core.ErrNoBinary, err.Error())
	}
	abs, err := resolvePath(folder)
	if err != nil {
		return nil, core.NewAppError(core.ErrBadRequest, fmt.Sprintf("resolve path %q: %v", folder, err))
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	id := core.NewID()
	now := time.Now().UTC()
	ws := &core.Workspace{
		ID:            id,
		Name:          name,
		Path:          abs,
		Status:        core.WorkspaceStarting,
		ProxyPath:     core.ProxyPathFor(id),
		BinaryID:      bin.ID,
		BinaryLabel:   bin.Label,
		BinaryVersion: bin.Version,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	m.mu.Lock()
	m.workspaces[id] = ws
	m.mu.Unlock()
	m.bus.Publish(core.WorkspaceCreated{Workspace: ws.Clone()})

	log := observability.WorkspaceLogger(m.log, id, "create")
	log.Info("launching instance",
		zap.String("path", abs),
		zap.String("binary", bin.Path),
	)

	pid, port, err := m.runtime.Launch(ctx, id, abs, bin.Path, m.binaries.InstanceEnv(),
		func(code int, requested bool) { m.handleProcessExit(id, code, requested) },
		func(stream, line string) { m.publishLog(id, stream, line) },
	)
	if err != nil {
		log.Error("launch failed", zap.Error(err))
		m.mu.Lock()
		if cur, ok := m.workspaces[id]; ok {
			cur.Status = core.WorkspaceError
			cur.Error = err.Error()
			cur.UpdatedAt = time.Now().UTC()
			snap := cur.Clone()
			m.mu.Unlock()
			m.bus.Publish(core.WorkspaceFailed{Workspace: snap})
		} else {
			m.mu.Unlock()
		}
		return nil, err
	}

	m.mu.Lock()
	cur, ok := m.workspaces[id]
	if !ok {
		// Deleted while the launch was in flight; delete already stopped
		// the instance through the runtime.
		m.mu.Unlock()
		return nil, core.NewAppError(core.ErrNotFound, "workspace removed during launch")
	}
	if cur.Status == core.WorkspaceStarting {
		cur.Status = core.WorkspaceReady
		cur.PID = &pid
		cur.Port = &port
		cur.UpdatedAt = time.Now().UTC()
		observability.InstancesRunning.Inc()
	}
	snap := cur.Clone()
	m.mu.Unlock()

	if snap.Status == core.WorkspaceReady {
		log.Info("instance ready", zap.Int("pid", pid), zap.Int("port", port))
		m.bus.Publish(core.WorkspaceStarted{Workspace: snap.Clone()})
	}
	return snap, nil
}

// Delete stops the workspace's instance, if any, and removes the
// descriptor. Unknown ids and repeated deletes are no-ops. When an
// instance was live, the exit path publishes workspace.stopped;
// otherwise Delete publishes it itself to avoid duplicates.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	ws, ok := m.workspaces[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	hadProcess := ws.Status == core.WorkspaceStarting || ws.Status == core.WorkspaceReady
	m.mu.Unlock()

	if hadProcess {
		// Blocks until the exit notification has run, so the stopped
		// event is published while the descriptor still exists.
		if err := m.runtime.Stop(ctx, id); err != nil {
			m.log.Warn("stop during delete failed",
				zap.String("workspace_id", id), zap.Error(err))
		}
	}

	m.mu.Lock()
	ws, ok = m.workspaces[id]
	// The exit path only publishes when it ran for a launched process
	// and marked the descriptor stopped. A launch that failed under the
	// stop never fires it, so the removal must announce itself.
	exitPathPublished := ok && hadProcess && ws.Status == core.WorkspaceStopped
	delete(m.workspaces, id)
	m.mu.Unlock()

	if ok && !exitPathPublished {
		m.bus.Publish(core.WorkspaceExited{WorkspaceID: id})
	}
	m.log.Info("workspace deleted", zap.String("workspace_id", id))
	return nil
}

// Shutdown stops every live instance and clears the registry.
// Individual stop failures are logged and do not abort the rest.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	var live []string
	for id, ws := range m.workspaces {
		if ws.Status == core.WorkspaceStarting || ws.Status == core.WorkspaceReady {
			live = append(live, id)
		}
	}
	m.mu.Unlock()

	for _, id := range live {
		if err := m.runtime.Stop(ctx, id); err != nil {
			m.log.Warn("stop during shutdown failed",
				zap.String("workspace_id", id), zap.Error(err))
		}
	}

	m.mu.Lock()
	m.workspaces = make(map[string]*core.Workspace)
	m.mu.Unlock()
	m.log.Info("all workspaces shut down")
}

// List returns descriptor snapshots, newest first.
func (m *Manager) List() []*core.Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		out = append(out, ws.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Get returns a snapshot of one descriptor.
func (m *Manager) Get(id string) (*core.Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, false
	}
	return ws.Clone(), true
}

// InstancePort returns the private port for a ready workspace.
func (m *Manager) InstancePort(id string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok || ws.Port == nil {
		return 0, false
	}
	return *ws.Port, true
}

// handleProcessExit is the runtime's exit callback. It may race a
// Delete for the same id; a removed workspace makes it a no-op.
func (m *Manager) handleProcessExit(id string, code int, requested bool) {
	m.mu.Lock()
	ws, ok := m.workspaces[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if ws.Status == core.WorkspaceReady {
		observability.InstancesRunning.Dec()
	}
	ws.PID = nil
	ws.Port = nil
	ws.UpdatedAt = time.Now().UTC()

	clean := requested || code == 0
	if clean {
		ws.Status = core.WorkspaceStopped
		ws.Error = ""
		m.mu.Unlock()
		m.log.Info("instance stopped",
			zap.String("workspace_id", id),
			zap.Int("code", code),
			zap.Bool("requested", requested),
		)
		m.bus.Publish(core.WorkspaceExited{WorkspaceID: id})
		return
	}

	ws.Status = core.WorkspaceError
	ws.Error = fmt.Sprintf("instance exited unexpectedly with code %d", code)
	snap := ws.Clone()
	m.mu.Unlock()
	m.log.Warn("instance crashed",
		zap.String("workspace_id", id),
		zap.Int("code", code),
	)
	m.bus.Publish(core.WorkspaceFailed{Workspace: snap})
}

func (m *Manager) publishLog(id, stream, line string) {
	m.bus.Publish(core.WorkspaceLog{Entry: core.LogEntry{
		WorkspaceID: id,
		Stream:      stream,
		Line:        line,
		Time:        time.Now().UTC(),
	}})
}

// resolvePath expands a leading ~ and makes the folder absolute.
func resolvePath(folder string) (string, error) {
	if folder == "" {
		return "", fmt.Errorf("empty path")
	}
	if folder == "~" || strings.HasPrefix(folder, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		folder = filepath.Join(home, strings.TrimPrefix(folder[1:], "/"))
	}
	return filepath.Abs(folder)
}

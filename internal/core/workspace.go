package core

import "time"

type WorkspaceStatus string

const (
	WorkspaceStarting WorkspaceStatus = "starting"
	WorkspaceReady    WorkspaceStatus = "ready"
	WorkspaceStopped  WorkspaceStatus = "stopped"
	WorkspaceError    WorkspaceStatus = "error"
)

// Workspace pairs a host folder with one managed agent instance.
// PID and Port are set iff Status is ready.
type Workspace struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Path          string          `json:"path"`
	Status        WorkspaceStatus `json:"status"`
	PID           *int            `json:"pid,omitempty"`
	Port          *int            `json:"port,omitempty"`
	ProxyPath     string          `json:"proxy_path"`
	BinaryID      string          `json:"binary_id"`
	BinaryLabel   string          `json:"binary_label"`
	BinaryVersion string          `json:"binary_version,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ProxyPathFor returns the stable gateway prefix for a workspace id.
func ProxyPathFor(id string) string {
	return "/workspaces/" + id + "/instance"
}

// Clone returns a deep copy safe to hand to other goroutines.
func (w *Workspace) Clone() *Workspace {
	c := *w
	if w.PID != nil {
		pid := *w.PID
		c.PID = &pid
	}
	if w.Port != nil {
		port := *w.Port
		c.Port = &port
	}
	return &c
}

package core

import "time"

type EventType string

const (
	EventWorkspaceCreated      EventType = "workspace.created"
	EventWorkspaceStarted      EventType = "workspace.started"
	EventWorkspaceError        EventType = "workspace.error"
	EventWorkspaceStopped      EventType = "workspace.stopped"
	EventWorkspaceLog          EventType = "workspace.log"
	EventConfigAppChanged      EventType = "config.appChanged"
	EventConfigBinariesChanged EventType = "config.binariesChanged"
)

// Event is the discriminated union carried by the bus. Variants are
// value types; payloads must not alias manager-owned state.
type Event interface {
	EventType() EventType
}

type WorkspaceCreated struct {
	Workspace *Workspace `json:"workspace"`
}

func (WorkspaceCreated) EventType() EventType { return EventWorkspaceCreated }

type WorkspaceStarted struct {
	Workspace *Workspace `json:"workspace"`
}

func (WorkspaceStarted) EventType() EventType { return EventWorkspaceStarted }

type WorkspaceFailed struct {
	Workspace *Workspace `json:"workspace"`
}

func (WorkspaceFailed) EventType() EventType { return EventWorkspaceError }

// WorkspaceExited reports that a workspace left the live set, on
// instance exit or removal. Carried as workspace.stopped on the wire.
type WorkspaceExited struct {
	WorkspaceID string `json:"workspace_id"`
}

func (WorkspaceExited) EventType() EventType { return EventWorkspaceStopped }

// LogEntry is one line captured from an instance's stdout or stderr.
type LogEntry struct {
	WorkspaceID string    `json:"workspace_id"`
	Stream      string    `json:"stream"`
	Line        string    `json:"line"`
	Time        time.Time `json:"ts"`
}

type WorkspaceLog struct {
	Entry LogEntry `json:"entry"`
}

func (WorkspaceLog) EventType() EventType { return EventWorkspaceLog }

type ConfigAppChanged struct{}

func (ConfigAppChanged) EventType() EventType { return EventConfigAppChanged }

type ConfigBinariesChanged struct{}

func (ConfigBinariesChanged) EventType() EventType { return EventConfigBinariesChanged }

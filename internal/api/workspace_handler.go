package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-agentd/internal/core"
)

type CreateWorkspaceRequest struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// ListWorkspaces lists all workspaces, newest first.
func (a *API) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces": a.manager.List(),
	})
}

// GetWorkspace gets a single workspace by id.
func (a *API) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	ws, ok := a.manager.Get(wsid)
	if !ok {
		WriteError(w, core.NewAppError(core.ErrNotFound, "workspace not found"))
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

// CreateWorkspace registers a workspace and launches its instance.
// The call blocks until the launch settles; the starting descriptor
// is visible through list/get in the meantime.
func (a *API) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.Path == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "path is required"))
		return
	}

	ws, err := a.manager.Create(r.Context(), req.Path, req.Name)
	if err != nil {
		a.log.Error("create workspace failed",
			zap.String("path", req.Path), zap.Error(err))
		WriteAnyError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, ws)
}

// DeleteWorkspace stops the instance, if live, and removes the
// descriptor. Idempotent: deleting an unknown id succeeds.
func (a *API) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if err := a.manager.Delete(r.Context(), wsid); err != nil {
		a.log.Error("delete workspace failed",
			zap.String("workspace_id", wsid), zap.Error(err))
		WriteAnyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/lzjever/mbos-agentd/internal/config"
	"github.com/lzjever/mbos-agentd/internal/core"
)

// GetAppConfig returns the client-editable app settings.
func (a *API) GetAppConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.store.App())
}

// PutAppConfig replaces the app settings. The change is announced on
// the event stream as config.appChanged; running instances keep the
// environment they were launched with.
func (a *API) PutAppConfig(w http.ResponseWriter, r *http.Request) {
	var app config.AppSettings
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	a.store.SetApp(app)
	WriteJSON(w, http.StatusOK, a.store.App())
}

// ListBinaries returns the registered agent binaries.
func (a *API) ListBinaries(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"binaries": a.store.Binaries(),
	})
}

// PutBinaries replaces the binary registry, announced as
// config.binariesChanged.
func (a *API) PutBinaries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Binaries []core.Binary `json:"binaries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	for _, bin := range req.Binaries {
		if bin.Path == "" {
			WriteError(w, core.NewAppError(core.ErrBadRequest, "binary path is required"))
			return
		}
	}
	a.store.SetBinaries(req.Binaries)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"binaries": a.store.Binaries(),
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListWorkspaceFiles lists a directory inside the workspace folder.
// The path query parameter is relative to the workspace root.
func (a *API) ListWorkspaceFiles(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	rel := r.URL.Query().Get("path")

	entries, err := a.manager.ListFiles(wsid, rel)
	if err != nil {
		WriteAnyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"path":    rel,
		"entries": entries,
	})
}

// ReadWorkspaceFile returns the raw content of one file inside the
// workspace folder.
func (a *API) ReadWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	rel := r.URL.Query().Get("path")

	b, err := a.manager.ReadFile(wsid, rel)
	if err != nil {
		WriteAnyError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

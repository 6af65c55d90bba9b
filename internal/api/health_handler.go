package api

import (
	"net/http"
)

// HealthHandler returns 200 if service is healthy.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ReadyHandler returns 200 if service is ready to accept requests.
// There is no backing store to probe; readiness only requires a
// resolvable default binary so workspace creation can succeed.
func (a *API) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := a.store.ResolveDefault(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

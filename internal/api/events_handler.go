package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lzjever/mbos-agentd/internal/core"
)

// heartbeatInterval keeps idle event streams alive through proxies
// that reap quiet connections.
const heartbeatInterval = 15 * time.Second

// EventStream is the merged SSE feed of lifecycle, log, and config
// events. One bus subscription per connection, removed on disconnect;
// events published before the connection opened are never replayed.
func (a *API) EventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, core.NewAppError(core.ErrInternal, "streaming unsupported"))
		return
	}

	ch, cancel := a.bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				// Bus closed: server is shutting down.
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), payload)
			flusher.Flush()
		}
	}
}

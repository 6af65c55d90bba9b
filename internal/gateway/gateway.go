// Package gateway forwards client requests addressed to a workspace's
// stable path prefix onto the instance's private loopback port.
// Event-stream responses are piped unbuffered with cancellation tied
// to both ends; everything else is buffered and re-framed.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-agentd/internal/core"
	"github.com/lzjever/mbos-agentd/internal/observability"
)

// Lookup is the slice of the workspace manager the gateway consumes.
type Lookup interface {
	Get(id string) (*core.Workspace, bool)
	InstancePort(id string) (int, bool)
}

type Gateway struct {
	lookup Lookup
	client *http.Client
	log    *zap.Logger
}

func New(lookup Lookup, log *zap.Logger) *Gateway {
	return &Gateway{
		lookup: lookup,
		// No overall timeout: event streams are long-lived. Per-request
		// cancellation rides on the inbound request context.
		client: &http.Client{},
		log:    log,
	}
}

// Routes registers the instance proxy under /workspaces/{id}/instance.
func (g *Gateway) Routes(r chi.Router) {
	r.HandleFunc("/workspaces/{id}/instance", g.Proxy)
	r.HandleFunc("/workspaces/{id}/instance/*", g.Proxy)
}

// hop-by-hop headers plus values recomputed for the forwarded request.
var skipHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
	"Content-Length":      {},
}

// Proxy handles every method on the instance prefix.
func (g *Gateway) Proxy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := g.lookup.Get(id); !ok {
		observability.ProxyRequestsTotal.WithLabelValues("not_found").Inc()
		writeProxyError(w, http.StatusNotFound, "Workspace not found")
		return
	}
	port, ok := g.lookup.InstancePort(id)
	if !ok {
		observability.ProxyRequestsTotal.WithLabelValues("not_ready").Inc()
		writeProxyError(w, http.StatusBadGateway, "Workspace instance is not ready")
		return
	}

	target := fmt.Sprintf("http://127.0.0.1:%d%s", port, normalizeSuffix(chi.URLParam(r, "*")))
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if hasBody(r.Method) {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		observability.ProxyRequestsTotal.WithLabelValues("error").Inc()
		writeProxyError(w, http.StatusBadGateway, "Workspace instance proxy failed")
		return
	}
	copyHeaders(req.Header, r.Header)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away; nothing to report downstream.
			return
		}
		g.log.Warn("instance proxy forward failed",
			zap.String("workspace_id", id),
			zap.String("target", target),
			zap.Error(err),
		)
		observability.ProxyRequestsTotal.WithLabelValues("error").Inc()
		writeProxyError(w, http.StatusBadGateway, "Workspace instance proxy failed")
		return
	}
	defer resp.Body.Close()

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		observability.ProxyRequestsTotal.WithLabelValues("stream").Inc()
		g.stream(w, r, resp, id)
		return
	}

	observability.ProxyRequestsTotal.WithLabelValues("forwarded").Inc()
	observability.ProxyRequestDuration.Observe(time.Since(start).Seconds())
	g.buffered(w, r, resp, id)
}

// stream pipes an event-stream response without buffering. Teardown is
// symmetric: a client disconnect cancels the upstream request through
// the shared context, and an upstream error ends the client pipe.
func (g *Gateway) stream(w http.ResponseWriter, r *http.Request, resp *http.Response, id string) {
	observability.ProxyStreamsActive.Inc()
	defer observability.ProxyStreamsActive.Dec()

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Client side is gone; the deferred body close plus the
				// request context abort the upstream.
				g.log.Debug("event-stream client write failed",
					zap.String("workspace_id", id), zap.Error(werr))
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, context.Canceled) {
				g.log.Warn("event-stream upstream read failed",
					zap.String("workspace_id", id), zap.Error(err))
			}
			return
		}
	}
}

// buffered reads the full upstream body and re-frames it with an
// accurate Content-Length. HEAD responses release the upstream
// immediately and send no body.
func (g *Gateway) buffered(w http.ResponseWriter, r *http.Request, resp *http.Response, id string) {
	if r.Method == http.MethodHead {
		resp.Body.Close()
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		return
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		// Nothing written downstream yet, so this still surfaces as 502.
		g.log.Warn("instance proxy body read failed",
			zap.String("workspace_id", id), zap.Error(err))
		writeProxyError(w, http.StatusBadGateway, "Workspace instance proxy failed")
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(b); err != nil {
		g.log.Debug("instance proxy client write failed",
			zap.String("workspace_id", id), zap.Error(err))
	}
}

// normalizeSuffix collapses the wildcard remainder to a single
// leading-slash path, so joins against the loopback target can never
// produce double slashes.
func normalizeSuffix(suffix string) string {
	suffix = strings.TrimLeft(suffix, "/")
	if suffix == "" {
		return "/"
	}
	return "/" + suffix
}

func hasBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if _, skip := skipHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeProxyError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

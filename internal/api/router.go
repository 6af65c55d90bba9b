package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-agentd/internal/api/middleware"
	"github.com/lzjever/mbos-agentd/internal/bus"
	"github.com/lzjever/mbos-agentd/internal/config"
	"github.com/lzjever/mbos-agentd/internal/gateway"
	"github.com/lzjever/mbos-agentd/internal/manager"
)

type API struct {
	manager *manager.Manager
	store   *config.Store
	bus     *bus.Bus
	gateway *gateway.Gateway
	log     *zap.Logger
}

func NewAPI(mgr *manager.Manager, store *config.Store, b *bus.Bus, log *zap.Logger) *API {
	return &API{
		manager: mgr,
		store:   store,
		bus:     b,
		gateway: gateway.New(mgr, log),
		log:     log,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger)

	// Health endpoints
	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	// Instance proxy: matches every method and content type, so it
	// stays outside the JSON-only /v1 subtree.
	a.gateway.Routes(r)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.With(jsonBodyOnly).Group(func(r chi.Router) {
			r.Post("/workspaces", a.CreateWorkspace)
			r.Put("/config", a.PutAppConfig)
			r.Put("/binaries", a.PutBinaries)
		})

		// Workspaces
		r.Get("/workspaces", a.ListWorkspaces)
		r.Get("/workspaces/{wsid}", a.GetWorkspace)
		r.Delete("/workspaces/{wsid}", a.DeleteWorkspace)

		// Workspace filesystem pass-through
		r.Get("/workspaces/{wsid}/files", a.ListWorkspaceFiles)
		r.Get("/workspaces/{wsid}/file", a.ReadWorkspaceFile)

		// Merged lifecycle/log/config event stream
		r.Get("/events", a.EventStream)

		// Config and binary registry
		r.Get("/config", a.GetAppConfig)
		r.Get("/binaries", a.ListBinaries)
	})

	return r
}

func jsonBodyOnly(next http.Handler) http.Handler {
	return chiMiddleware.AllowContentType("application/json")(next)
}

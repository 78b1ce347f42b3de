package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roamgo/pkg/config"
	"roamgo/pkg/core"
	"roamgo/pkg/location"
	"roamgo/pkg/places"
	"roamgo/pkg/quota"
	"roamgo/pkg/routes"
	"roamgo/pkg/session"
	"roamgo/pkg/store"
	"roamgo/pkg/tracker"
	"roamgo/pkg/version"
	"roamgo/pkg/visited"
)

// Deps are the services behind the API. Breaker and Gatherer may be nil.
type Deps struct {
	Orchestrator *core.Orchestrator
	Places       *places.Cache
	Routes       *routes.Cache
	Visited      *visited.Cache
	Quota        *quota.Ledger
	Location     *location.Service
	Session      *session.Manager
	Local        store.Store
	Tracker      *tracker.Tracker
	// Breaker reports the provider circuit state.
	Breaker  func() string
	Gatherer prometheus.Gatherer
}

// Handler serves the HTTP API.
type Handler struct {
	d      Deps
	logger *slog.Logger
	stats  statsCache
}

// NewHandler creates the API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{d: d, logger: slog.With("component", "api")}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.handleHealth)
	if h.d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/log/latest", handleLatestLog)

		r.Route("/places", func(r chi.Router) {
			r.Get("/nearby", h.handleNearby)
			r.Get("/current", h.handleCurrent)
			r.Get("/{id}", h.handlePlaceDetails)
		})

		r.Get("/routes", h.handleRoute)

		r.Route("/visited", func(r chi.Router) {
			r.Get("/", h.handleVisitedList)
			r.Post("/", h.handleSaveVisited)
			r.Post("/check", h.handleCheckVisited)
			r.Get("/{id}", h.handleIsVisited)
		})

		r.Route("/quota", func(r chi.Router) {
			r.Get("/", h.handleQuota)
			r.Get("/{category}", h.handleQuotaCategory)
			r.Post("/{category}", h.handleRecordQuota)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", h.handleCacheStats)
			r.Delete("/places", h.handleClearPlaces)
			r.Delete("/routes", h.handleClearRoutes)
		})

		r.Route("/location", func(r chi.Router) {
			r.Get("/", h.handleGetLocation)
			r.Post("/", h.handleUpdateLocation)
			r.Get("/history", h.handleLocationHistory)
			r.Get("/ws", h.handleLocationStream)
		})

		r.Post("/session", h.handleSignIn)
		r.Delete("/session", h.handleSignOut)
		r.Post("/app/foreground", h.handleForeground)
	})
	return r
}

// NewServer wraps the handler in an HTTP server.
func NewServer(cfg config.ServerConfig, h *Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // nearby pagination waits between pages
		IdleTimeout:  60 * time.Second,
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Revision    string `json:"revision,omitempty"`
	Ready       bool   `json:"ready"`
	Breaker     string `json:"breaker,omitempty"`
	LastWarning string `json:"last_warning,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Version:     version.Version,
		Revision:    version.Revision(),
		LastWarning: latestWarning(),
	}
	if h.d.Orchestrator != nil {
		select {
		case <-h.d.Orchestrator.Ready():
			resp.Ready = true
		default:
			resp.Status = "starting"
		}
	}
	if h.d.Breaker != nil {
		resp.Breaker = h.d.Breaker()
	}
	writeJSON(w, http.StatusOK, resp)
}

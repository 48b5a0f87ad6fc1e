package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/detailhub/zoneconfigurator/internal/asset"
	"github.com/detailhub/zoneconfigurator/internal/catalog"
	"github.com/detailhub/zoneconfigurator/internal/config"
	"github.com/detailhub/zoneconfigurator/internal/jobzone"
	"github.com/detailhub/zoneconfigurator/internal/observability"
	"github.com/detailhub/zoneconfigurator/internal/openapi"
	"github.com/detailhub/zoneconfigurator/internal/selection"
	"github.com/detailhub/zoneconfigurator/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver

	Catalog   *catalog.Registry
	Sessions  *selection.Engine
	Assets    *asset.Loader
	Committer *jobzone.Committer
	API       *openapi.Index

	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Readiness      observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API document
// bypass the authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(deps.Metrics.MetricsMiddleware)

	// Public routes.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = observability.Handler()
	}
	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Method(http.MethodGet, metricsPath, metricsHandler)
	r.Get("/ui/configurator/openapi.json", handleAPIDocument(deps.API))

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/ui/configurator", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(RequireIdentity)
		r.Use(ResolveCapabilities(deps.CapabilityResolver))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		r.Use(ValidateRequests(deps.API))

		view := RequireCapability(model.CapSessionsView)
		edit := RequireCapability(model.CapSessionsEdit)

		r.Route("/catalog", func(r chi.Router) {
			r.Use(RequireCapability(model.CapCatalogView))
			r.Get("/categories", handleCategories(deps.Catalog))
			r.Get("/zones", handleZones(deps.Catalog))
			r.Get("/services", handleServices(deps.Catalog))
		})
		r.With(RequireCapability(model.CapCatalogView)).
			Get("/assets/resolve", handleResolveAsset(deps.Assets))

		r.Route("/sessions", func(r chi.Router) {
			// Edit or view depending on read_only; checked by the handler.
			r.With(RequireCapability(model.CapSessionsEdit, model.CapSessionsView)).
				Post("/", handleCreateSession(deps.Sessions))

			r.Route("/{id}", func(r chi.Router) {
				r.With(view).Get("/", handleGetSession(deps.Sessions))
				r.With(edit).Delete("/", handleDeleteSession(deps.Sessions))
				r.With(view).Get("/events", handleSessionEvents(deps.Sessions))
				r.With(edit).Post("/hotspots/{zoneId}/open", handleOpenHotspot(deps.Sessions))
				r.With(edit).Post("/dialog/services", handleToggleService(deps.Sessions))
				r.With(edit).Put("/dialog/price", handleSetPriceOverride(deps.Sessions))
				r.With(edit).Post("/dialog/save", handleSaveDialog(deps.Sessions))
				r.With(edit).Post("/dialog/cancel", handleCancelDialog(deps.Sessions))
				r.With(edit).Delete("/zones/{zoneId}", handleRemoveZone(deps.Sessions))
				r.With(edit).Put("/vehicle", handleSwitchVehicle(deps.Sessions))
				r.With(edit).Put("/color", handleSetColor(deps.Sessions))
				r.With(view).Get("/job-zones", handleJobZones(deps.Sessions))
				r.With(view).Get("/model.glb", handleModel(deps.Sessions))
				r.With(RequireCapability(model.CapJobZonesWrite)).
					Post("/commit", handleCommit(deps.Sessions, deps.Committer))
			})
		})
	})

	return r
}

func handleAPIDocument(idx *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if idx == nil {
			WriteNotFound(w, "API document not loaded")
			return
		}
		data, err := idx.MarshalJSON()
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

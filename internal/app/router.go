package app

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atrium-hq/atrium/internal/auth"
	"github.com/atrium-hq/atrium/internal/observability"
	"github.com/atrium-hq/atrium/internal/orgs"
	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/platform/httpx"
	"github.com/atrium-hq/atrium/internal/roles"
	"github.com/atrium-hq/atrium/internal/shared"
	"github.com/atrium-hq/atrium/internal/tiers"
	"github.com/atrium-hq/atrium/internal/users"
	"github.com/atrium-hq/atrium/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AuthHandler    *auth.Handler
	CatalogHandler *perm.Handler
	UsersHandler   *users.Handler
	TiersHandler   *tiers.Handler
	OrgsHandler    *orgs.Handler
	RolesHandler   *roles.Handler
	JobHandler     *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router serving the JSON API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Clients fetch the CSRF token here and echo it back in the
	// X-CSRF-Token header on every mutating request.
	r.Get("/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		token, err := params.CSRFManager.EnsureToken(r.Context(), sess)
		if err != nil {
			params.Logger.Error("ensure csrf token", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"csrf_token": token})
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/me", params.AuthHandler.MountMe)

	r.Route("/api/v1", func(r chi.Router) {
		params.OrgsHandler.MountNested = func(r chi.Router) {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		r.Route("/orgs", params.OrgsHandler.MountRoutes)

		r.Route("/admin", func(r chi.Router) {
			r.Route("/users", params.UsersHandler.MountRoutes)
			r.Route("/tiers", params.TiersHandler.MountRoutes)
			r.Route("/catalog", params.CatalogHandler.MountRoutes)
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

package perm

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/atrium-hq/atrium/internal/platform/httpx"
)

// Handler serves the permission catalog to the admin surface.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	guard    *Middleware
	titler   cases.Caser
}

// NewHandler builds the catalog handler.
func NewHandler(logger *slog.Logger, registry *Registry, guard *Middleware) *Handler {
	return &Handler{
		logger:   logger,
		registry: registry,
		guard:    guard,
		titler:   cases.Title(language.English),
	}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("system.catalog"))
		r.Get("/", h.listCatalog)
	})
}

type catalogEntry struct {
	Code       string `json:"code"`
	Bit        int    `json:"bit"`
	Category   string `json:"category"`
	Label      string `json:"label"`
	Dangerous  bool   `json:"dangerous"`
	Addon      bool   `json:"addon"`
	AddonPrice int64  `json:"addon_price,omitempty"`
	MinTier    string `json:"min_tier"`
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.Definitions()
	entries := make([]catalogEntry, len(defs))
	for i, def := range defs {
		entries[i] = catalogEntry{
			Code:       def.Code,
			Bit:        def.Bit,
			Category:   def.Category,
			Label:      h.titler.String(def.Category),
			Dangerous:  def.Dangerous,
			Addon:      def.Addon,
			AddonPrice: def.AddonPrice,
			MinTier:    def.MinTier,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": entries})
}

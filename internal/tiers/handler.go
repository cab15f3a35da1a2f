package tiers

import (
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/platform/httpx"
	"github.com/atrium-hq/atrium/internal/shared"
)

// Handler exposes the staff tier-administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    *perm.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *perm.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validate: validator.New()}
}

// MountRoutes registers tier administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("system.tiers"))
		r.Get("/", h.listTiers)
		r.Get("/{tierID}", h.getTier)
		r.Post("/", h.createTier)
		r.Put("/{tierID}", h.updateTier)
	})
}

type tierForm struct {
	Name             string `json:"name" validate:"required,min=2,max=64"`
	BasePermissions  int64  `json:"base_permissions"`
	OrgFeatures      int64  `json:"org_features"`
	MaxOrganizations int    `json:"max_organizations" validate:"gte=0"`
	MaxMembers       int    `json:"max_members" validate:"gte=0"`
	IsStaff          bool   `json:"is_staff"`
}

type tierView struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	BasePermissions  int64  `json:"base_permissions"`
	OrgFeatures      int64  `json:"org_features"`
	MaxOrganizations int    `json:"max_organizations"`
	MaxMembers       int    `json:"max_members"`
	IsStaff          bool   `json:"is_staff"`
}

func toView(t Tier) tierView {
	return tierView{
		ID:               t.ID,
		Name:             t.Name,
		BasePermissions:  t.BasePermissions.Int64(),
		OrgFeatures:      t.OrgFeatures.Int64(),
		MaxOrganizations: t.MaxOrganizations,
		MaxMembers:       t.MaxMembers,
		IsStaff:          t.IsStaff,
	}
}

func (h *Handler) listTiers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListTiers(r.Context())
	if err != nil {
		h.logger.Error("list tiers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]tierView, len(list))
	for i, t := range list {
		views[i] = toView(t)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tiers": views})
}

func (h *Handler) getTier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "tierID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	tier, err := h.service.GetTier(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("get tier", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(*tier))
}

func (h *Handler) createTier(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	created, err := h.service.CreateTier(r.Context(), actorID, Tier{
		Name:             form.Name,
		BasePermissions:  perm.FromInt64(form.BasePermissions),
		OrgFeatures:      perm.FromInt64(form.OrgFeatures),
		MaxOrganizations: form.MaxOrganizations,
		MaxMembers:       form.MaxMembers,
		IsStaff:          form.IsStaff,
	})
	if err != nil {
		h.respondMutationError(w, "create tier", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(created))
}

func (h *Handler) updateTier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "tierID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	updated, err := h.service.UpdateTier(r.Context(), actorID, Tier{
		ID:               id,
		Name:             form.Name,
		BasePermissions:  perm.FromInt64(form.BasePermissions),
		OrgFeatures:      perm.FromInt64(form.OrgFeatures),
		MaxOrganizations: form.MaxOrganizations,
		MaxMembers:       form.MaxMembers,
	})
	if err != nil {
		h.respondMutationError(w, "update tier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(updated))
}

func (h *Handler) decodeForm(w http.ResponseWriter, r *http.Request) (tierForm, bool) {
	var form tierForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return form, false
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return form, false
	}
	return form, true
}

func (h *Handler) respondMutationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, httpx.ErrDuplicate):
		httpx.RespondError(w, httpx.ErrDuplicate)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "Invalid Tier", err.Error())
	}
}

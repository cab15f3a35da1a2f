package roles

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/platform/httpx"
	"github.com/atrium-hq/atrium/internal/shared"
)

// Handler exposes role management endpoints, mounted under an organization.
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

// MountRoutes registers role routes. The mount point carries the orgID URL
// parameter, so checks run in that organization's context.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require("roles.view")).Get("/", h.listRoles)
	r.With(h.guard.Require("roles.view")).Get("/{roleID}", h.getRole)
	r.With(h.guard.Require("roles.edit")).Post("/", h.createRole)
	r.With(h.guard.Require("roles.edit")).Put("/{roleID}", h.updateRole)
	r.With(h.guard.Require("roles.delete")).Delete("/{roleID}", h.deleteRole)

	r.Route("/{roleID}/members", func(r chi.Router) {
		r.Use(h.guard.Require("roles.edit"))
		r.Post("/{membershipID}", h.assignRole)
		r.Delete("/{membershipID}", h.unassignRole)
	})
	r.With(h.guard.Require("roles.view")).Get("/assignments/{membershipID}", h.listAssignments)
}

type roleView struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Permissions int64     `json:"permissions"`
	Position    int       `json:"position"`
	IsSystem    bool      `json:"is_system"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newRoleView(r Role) roleView {
	return roleView{
		ID:          r.ID,
		Name:        r.Name,
		Permissions: r.Permissions.Int64(),
		Position:    r.Position,
		IsSystem:    r.IsSystem,
		UpdatedAt:   r.UpdatedAt,
	}
}

type roleForm struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Permissions int64  `json:"permissions"`
	Position    int    `json:"position" validate:"gte=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListRoles(r.Context(), orgID)
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	views := make([]roleView, len(list))
	for i, role := range list {
		views[i] = newRoleView(role)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": views})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), orgID, roleID)
	if err != nil {
		h.respondError(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRoleView(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	role, err := h.service.CreateRole(r.Context(), actorID, orgID, form.Name, perm.FromInt64(form.Permissions), form.Position)
	if err != nil {
		h.respondMutationError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newRoleView(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	role, err := h.service.UpdateRole(r.Context(), actorID, orgID, roleID, form.Name, perm.FromInt64(form.Permissions), form.Position)
	if err != nil {
		h.respondMutationError(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRoleView(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	if err := h.service.DeleteRole(r.Context(), actorID, orgID, roleID); err != nil {
		h.respondMutationError(w, "delete role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	membershipID, ok := h.pathID(w, r, "membershipID")
	if !ok {
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	a, err := h.service.AssignRole(r.Context(), actorID, orgID, membershipID, roleID)
	if err != nil {
		h.respondMutationError(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"assignment_id": a.ID})
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	membershipID, ok := h.pathID(w, r, "membershipID")
	if !ok {
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	if err := h.service.UnassignRole(r.Context(), actorID, orgID, membershipID, roleID); err != nil {
		h.respondMutationError(w, "unassign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	membershipID, ok := h.pathID(w, r, "membershipID")
	if !ok {
		return
	}
	list, err := h.service.ListAssignments(r.Context(), orgID, membershipID)
	if err != nil {
		h.respondError(w, "list assignments", err)
		return
	}
	views := make([]roleView, len(list))
	for i, role := range list {
		views[i] = newRoleView(role)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": views})
}

func (h *Handler) decodeForm(w http.ResponseWriter, r *http.Request) (roleForm, bool) {
	var form roleForm
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

func (h *Handler) orgID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return h.pathID(w, r, "orgID")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.ErrNotFound)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondMutationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrSystemRole), errors.Is(err, ErrNonOrgBits):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Role Change", err.Error())
	case errors.Is(err, httpx.ErrDuplicate):
		httpx.RespondError(w, httpx.ErrDuplicate)
	default:
		h.respondError(w, op, err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

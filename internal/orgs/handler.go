package orgs

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

// Handler exposes organization and membership endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    *perm.Middleware
	validate *validator.Validate

	// MountNested hooks additional org-scoped routes (roles) under
	// /{orgID} so they share the same URL parameter.
	MountNested func(chi.Router)
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *perm.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validate: validator.New()}
}

// MountRoutes registers organization routes. Routes under {orgID} are
// permission-checked in that organization's context.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require("orgs.create")).Post("/", h.createOrganization)
	r.With(h.guard.Require("orgs.list")).Get("/", h.listMine)

	r.Route("/{orgID}", func(r chi.Router) {
		r.With(h.guard.Require("org.view")).Get("/", h.getOrganization)
		r.Post("/join", h.acceptInvite)
		r.With(h.guard.Require("org.edit")).Post("/transfer", h.transferOwnership)

		r.Route("/members", func(r chi.Router) {
			r.With(h.guard.Require("members.view")).Get("/", h.listMembers)
			r.With(h.guard.Require("members.invite")).Post("/", h.inviteMember)
			r.With(h.guard.Require("members.suspend")).Put("/{membershipID}/status", h.setMemberStatus)
			r.With(h.guard.Require("members.remove")).Delete("/{membershipID}", h.removeMember)

			r.Route("/{membershipID}/overrides", func(r chi.Router) {
				r.Use(h.guard.Require("members.overrides"))
				r.Get("/", h.listOverrides)
				r.Post("/", h.addOverride)
			})
		})
		r.With(h.guard.Require("members.overrides")).Delete("/overrides/{overrideID}", h.removeOverride)

		if h.MountNested != nil {
			h.MountNested(r)
		}
	})
}

type orgView struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"owner_id"`
}

type membershipView struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Status     string     `json:"status"`
	ComputedAt *time.Time `json:"permissions_computed_at,omitempty"`
}

type overrideView struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	Allow     bool       `json:"allow"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createOrgForm struct {
	Name string `json:"name" validate:"required,min=2,max=128"`
}

func (h *Handler) createOrganization(w http.ResponseWriter, r *http.Request) {
	var form createOrgForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	userID, _ := shared.UserIDFromContext(r.Context())
	org, err := h.service.CreateOrganization(r.Context(), userID, form.Name)
	if err != nil {
		if errors.Is(err, ErrOrgLimitReached) {
			httpx.Problem(w, http.StatusForbidden, "Limit Reached", "organization limit reached for your tier")
			return
		}
		h.logger.Error("create organization", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orgView{ID: org.ID, Name: org.Name, OwnerID: org.OwnerID})
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	list, err := h.service.ListMine(r.Context(), userID)
	if err != nil {
		h.logger.Error("list organizations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]orgView, len(list))
	for i, org := range list {
		views[i] = orgView{ID: org.ID, Name: org.Name, OwnerID: org.OwnerID}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"organizations": views})
}

func (h *Handler) getOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	org, err := h.service.GetOrganization(r.Context(), orgID)
	if err != nil {
		h.respondError(w, "get organization", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orgView{ID: org.ID, Name: org.Name, OwnerID: org.OwnerID})
}

func (h *Handler) acceptInvite(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	userID, authed := shared.UserIDFromContext(r.Context())
	if !authed {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err := h.service.AcceptInvite(r.Context(), userID, orgID); err != nil {
		h.respondError(w, "accept invite", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "active"})
}

type transferForm struct {
	NewOwnerID int64 `json:"new_owner_id" validate:"required,gt=0"`
}

func (h *Handler) transferOwnership(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	var form transferForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	if err := h.service.TransferOwnership(r.Context(), actorID, orgID, form.NewOwnerID); err != nil {
		if errors.Is(err, ErrNotAMember) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Transfer", "new owner must be an active member")
			return
		}
		h.respondError(w, "transfer ownership", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), orgID)
	if err != nil {
		h.respondError(w, "list members", err)
		return
	}
	views := make([]membershipView, len(members))
	for i, m := range members {
		views[i] = membershipView{ID: m.ID, UserID: m.UserID, Status: m.Status, ComputedAt: m.PermissionsComputedAt}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": views})
}

type inviteForm struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (h *Handler) inviteMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	var form inviteForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	m, err := h.service.InviteMember(r.Context(), actorID, orgID, form.UserID)
	if err != nil {
		if errors.Is(err, ErrMemberLimitReached) {
			httpx.Problem(w, http.StatusForbidden, "Limit Reached", "member limit reached for the organization's tier")
			return
		}
		h.respondError(w, "invite member", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, membershipView{ID: m.ID, UserID: m.UserID, Status: m.Status})
}

type statusForm struct {
	Status string `json:"status" validate:"required,oneof=active suspended"`
}

func (h *Handler) setMemberStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	membershipID, err := strconv.ParseInt(chi.URLParam(r, "membershipID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	var form statusForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	if err := h.service.SetMemberStatus(r.Context(), actorID, orgID, membershipID, form.Status); err != nil {
		if errors.Is(err, ErrOwnerImmutable) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Change", "owner membership cannot be changed")
			return
		}
		h.respondError(w, "set member status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": form.Status})
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	membershipID, err := strconv.ParseInt(chi.URLParam(r, "membershipID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	if err := h.service.SetMemberStatus(r.Context(), actorID, orgID, membershipID, StatusLeft); err != nil {
		if errors.Is(err, ErrOwnerImmutable) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Change", "owner membership cannot be changed")
			return
		}
		h.respondError(w, "remove member", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": StatusLeft})
}

type overrideForm struct {
	Code      string     `json:"code" validate:"required"`
	Allow     bool       `json:"allow"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) addOverride(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	membershipID, err := strconv.ParseInt(chi.URLParam(r, "membershipID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	var form overrideForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	ov, err := h.service.AddOverride(r.Context(), actorID, orgID, membershipID, form.Code, form.Allow, form.ExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrSystemOverride):
			httpx.Problem(w, http.StatusBadRequest, "Invalid Override", err.Error())
		default:
			h.respondError(w, "add override", err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, overrideView{ID: ov.ID, Code: ov.Code, Allow: ov.Allow, ExpiresAt: ov.ExpiresAt})
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	membershipID, err := strconv.ParseInt(chi.URLParam(r, "membershipID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	overrides, err := h.service.ListOverrides(r.Context(), orgID, membershipID)
	if err != nil {
		h.respondError(w, "list overrides", err)
		return
	}
	views := make([]overrideView, len(overrides))
	for i, ov := range overrides {
		views[i] = overrideView{ID: ov.ID, Code: ov.Code, Allow: ov.Allow, ExpiresAt: ov.ExpiresAt}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": views})
}

func (h *Handler) removeOverride(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	overrideID, err := strconv.ParseInt(chi.URLParam(r, "overrideID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	actorID, _ := shared.UserIDFromContext(r.Context())
	if err := h.service.RemoveOverride(r.Context(), actorID, orgID, overrideID); err != nil {
		h.respondError(w, "remove override", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) orgID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orgID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.ErrNotFound)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if errors.Is(err, httpx.ErrDuplicate) {
		httpx.RespondError(w, httpx.ErrDuplicate)
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

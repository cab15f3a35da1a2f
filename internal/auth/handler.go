package auth

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/platform/httpx"
	"github.com/atrium-hq/atrium/internal/shared"
)

// Handler exposes passwordless login and the caller's own permission view.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *perm.Resolver
	sessions *shared.SessionManager
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *perm.Resolver, sessions *shared.SessionManager) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		resolver: resolver,
		sessions: sessions,
		validate: validator.New(),
	}
}

// MountRoutes registers login routes. Code issuance is rate limited per IP
// so the mailer cannot be used as a spam relay.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httprate.LimitByIP(5, time.Minute)).Post("/request-code", h.requestCode)
	r.With(httprate.LimitByIP(10, time.Minute)).Post("/verify", h.verifyCode)
	r.Post("/logout", h.logout)
}

// MountMe registers the authenticated self-service routes.
func (h *Handler) MountMe(r chi.Router) {
	r.Get("/permissions", h.myPermissions)
}

type emailForm struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) requestCode(w http.ResponseWriter, r *http.Request) {
	var form emailForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.RequestCode(r.Context(), form.Email); err != nil {
		h.logger.Error("request login code", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

type verifyForm struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

func (h *Handler) verifyCode(w http.ResponseWriter, r *http.Request) {
	var form verifyForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	account, err := h.service.VerifyCode(r.Context(), form.Email, form.Code)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrInvalidCode):
			httpx.Problem(w, http.StatusUnauthorized, "Invalid Code", "the code does not match")
		case errors.Is(err, shared.ErrCodeExpired):
			httpx.Problem(w, http.StatusUnauthorized, "Code Expired", "request a new login code")
		case errors.Is(err, shared.ErrTooManyAttempts):
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Attempts", "request a new login code")
		case errors.Is(err, ErrAccountDisabled):
			httpx.RespondError(w, httpx.ErrForbidden)
		default:
			h.logger.Error("verify login code", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	sess.SetUser(strconv.FormatInt(account.ID, 10))
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id": account.ID,
		"email":   account.Email,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		h.sessions.Destroy(sess)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// myPermissions returns the caller's effective mask, optionally inside the
// organization given by the org query parameter, plus the granted codes.
func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var orgID *int64
	if raw := r.URL.Query().Get("org"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		orgID = &id
	}

	res, err := h.resolver.Resolve(r.Context(), userID, orgID)
	if err != nil {
		h.logger.Error("resolve permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	var codes []string
	for _, def := range h.resolver.Registry().Definitions() {
		if res.Mask.Has(def.Bit) {
			codes = append(codes, def.Code)
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"mask":        res.Mask.Int64(),
		"codes":       codes,
		"computed_at": res.ComputedAt,
	})
}

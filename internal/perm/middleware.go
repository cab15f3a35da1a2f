package perm

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/atrium-hq/atrium/internal/shared"
)

// CheckRecorder receives the outcome of each middleware permission check.
// Implemented by observability.Metrics.
type CheckRecorder interface {
	PermissionCheck(code string, allowed bool)
}

// Middleware guards chi routes with permission checks. Routes mounted under
// an {orgID} URL parameter are checked in that organization's context;
// everything else is checked globally.
type Middleware struct {
	Resolver *Resolver
	Cache    *Cache
	Logger   *slog.Logger
	Metrics  CheckRecorder

	group singleflight.Group
}

// Require ensures the current user holds the permission before the request
// proceeds. A denial is always a bare 403: the response never reveals
// whether the bit was missing, capped, or override-denied.
func (m *Middleware) Require(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			orgID, ok := m.orgScope(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				return
			}

			bit, known := m.Resolver.Registry().Bit(code)
			if !known {
				if m.Logger != nil {
					m.Logger.Warn("route guarded by unknown permission code", slog.String("code", code))
				}
				m.deny(w, code)
				return
			}

			res, err := m.resolve(r, userID, orgID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("resolve permissions", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !res.Mask.Has(bit) {
				m.deny(w, code)
				return
			}
			if m.Metrics != nil {
				m.Metrics.PermissionCheck(code, true)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolve dedupes concurrent resolutions of the same (user, org) pair and
// writes the result behind into the membership cache.
func (m *Middleware) resolve(r *http.Request, userID int64, orgID *int64) (Resolution, error) {
	key := strconv.FormatInt(userID, 10)
	if orgID != nil {
		key = fmt.Sprintf("%d:%d", userID, *orgID)
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		res, err := m.Resolver.Resolve(r.Context(), userID, orgID)
		if err != nil {
			return Resolution{}, err
		}
		if m.Cache != nil && res.MembershipID != 0 {
			if err := m.Cache.Store(r.Context(), res); err != nil && m.Logger != nil {
				m.Logger.Warn("store computed permissions", slog.Any("error", err))
			}
		}
		return res, nil
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

func (m *Middleware) deny(w http.ResponseWriter, code string) {
	if m.Metrics != nil {
		m.Metrics.PermissionCheck(code, false)
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (m *Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("parse session user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

// orgScope extracts the organization context from the route, if any. The
// second return is false only for a malformed {orgID} parameter.
func (m *Middleware) orgScope(r *http.Request) (*int64, bool) {
	raw := chi.URLParam(r, "orgID")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}

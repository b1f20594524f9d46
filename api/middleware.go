package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"websocket-kanban/domain"
)

const (
	identityContextKey = "identity"
	activityTimeout    = 250 * time.Millisecond
)

// RequireAuth rejects requests without a valid bearer credential: 401 when
// none is presented, 403 when it fails validation. The identity is stored on
// the echo context and the user's activity is recorded best-effort.
func RequireAuth(auth Authenticator, activity ActivityRecorder, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				status := AuthErrorStatus(err)
				if logger != nil {
					logger.WithFields(log.Fields{
						"path":   c.Path(),
						"status": status,
					}).WithError(err).Debug("request rejected by auth")
				}
				return errorJSON(c, status, authErrorMessage(status))
			}
			c.Set(identityContextKey, id)

			if activity != nil {
				ctx, cancel := context.WithTimeout(c.Request().Context(), activityTimeout)
				if err := activity.Touch(ctx, id.UserID); err != nil && logger != nil {
					logger.WithField("user", id.UserID).WithError(err).Warn("failed to record activity")
				}
				cancel()
			}
			return next(c)
		}
	}
}

// AdminOnly must run after RequireAuth.
func AdminOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return errorJSON(c, http.StatusUnauthorized, authErrorMessage(http.StatusUnauthorized))
			}
			if !id.IsAdmin() {
				return errorJSON(c, http.StatusForbidden, "admin role required")
			}
			return next(c)
		}
	}
}

// IdentityFrom returns the identity stored by RequireAuth.
func IdentityFrom(c echo.Context) (domain.Identity, bool) {
	id, ok := c.Get(identityContextKey).(domain.Identity)
	return id, ok
}

// AuthErrorStatus maps an authentication failure to its HTTP status.
func AuthErrorStatus(err error) int {
	if errors.Is(err, domain.ErrUnauthenticated) {
		return http.StatusUnauthorized
	}
	return http.StatusForbidden
}

func authErrorMessage(status int) string {
	if status == http.StatusUnauthorized {
		return "access token required"
	}
	return "invalid or expired token"
}

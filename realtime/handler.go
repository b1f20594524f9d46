package realtime

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"websocket-kanban/domain"
)

// Authenticator resolves the identity presented on the handshake.
type Authenticator interface {
	IdentityFromAuthHeader(header string) (domain.Identity, error)
}

// Register mounts the sync endpoint on e.
func Register(e *echo.Echo, hub *Hub, auth Authenticator) {
	e.GET("/ws", hub.handleUpgrade(auth))
}

func (h *Hub) handleUpgrade(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		// browsers cannot set headers on a WebSocket handshake
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); header == "" && token != "" {
			header = "Bearer " + token
		}
		id, err := auth.IdentityFromAuthHeader(header)
		if err != nil {
			status := http.StatusForbidden
			msg := "invalid token"
			if errors.Is(err, domain.ErrUnauthenticated) {
				status, msg = http.StatusUnauthorized, "authentication required"
			}
			h.logger.WithField("remote", c.RealIP()).WithError(err).Debug("sync handshake rejected")
			return c.JSON(status, errorPayload{Message: msg})
		}

		conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			OriginPatterns: h.cfg.OriginPatterns,
		})
		if err != nil {
			// Accept has already written the response
			h.logger.WithField("remote", c.RealIP()).WithError(err).Warn("websocket upgrade failed")
			return nil
		}
		conn.SetReadLimit(frameMaxSize)

		h.serve(c.Request().Context(), newClient(h, conn, id))
		return nil
	}
}

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"websocket-kanban/domain"
)

// Services bundles what the HTTP handlers depend on.
type Services struct {
	Tasks    TaskReader
	Users    UserStore
	Accounts *Accounts
	Auth     Authenticator
	Activity ActivityRecorder
	Uploader *Uploader
	Conns    ConnectionCounter
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, logger *log.Logger) {
	authed := RequireAuth(svc.Auth, svc.Activity, logger)

	e.POST("/api/register", register(svc.Accounts, logger))
	e.POST("/api/login", login(svc.Accounts, logger))
	e.GET("/api/user", currentUser(svc.Users), authed)
	e.GET("/api/users", listUsers(svc.Users), authed, AdminOnly())
	e.GET("/api/tasks", getTasks(svc.Tasks), authed)
	e.GET("/api/stats", getStats(svc.Tasks), authed)
	e.POST("/api/upload", upload(svc.Uploader), authed)
	e.Static(uploadURLPrefix, svc.Uploader.Dir())
	e.GET("/healthz", healthz(svc.Tasks, svc.Conns))
}

func healthz(tasks TaskReader, conns ConnectionCounter) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := healthResponse{Status: "ok", Tasks: tasks.Len()}
		if conns != nil {
			resp.Connections = conns.Connections()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func register(accounts *Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerRequest
		if err := decodeBody(c, &req); err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid body")
		}

		session, err := accounts.Register(req.Email, req.Password, req.Name)
		if err != nil {
			var verr *domain.ValidationError
			switch {
			case errors.As(err, &verr):
				return errorJSON(c, http.StatusBadRequest, verr.Error())
			case errors.Is(err, domain.ErrDuplicateAccount):
				return errorJSON(c, http.StatusBadRequest, err.Error())
			}
			logger.WithError(err).Error("registration failed")
			return errorJSON(c, http.StatusInternalServerError, "registration failed")
		}

		logger.WithFields(log.Fields{
			"user": session.User.ID,
			"role": session.User.Role,
		}).Info("user registered")
		return c.JSON(http.StatusCreated, session)
	}
}

func login(accounts *Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := decodeBody(c, &req); err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid body")
		}

		session, err := accounts.Login(req.Email, req.Password)
		if err != nil {
			var verr *domain.ValidationError
			switch {
			case errors.As(err, &verr):
				return errorJSON(c, http.StatusBadRequest, verr.Error())
			case errors.Is(err, domain.ErrInvalidCredential):
				return errorJSON(c, http.StatusUnauthorized, err.Error())
			}
			logger.WithError(err).Error("login failed")
			return errorJSON(c, http.StatusInternalServerError, "login failed")
		}
		return c.JSON(http.StatusOK, session)
	}
}

func currentUser(users UserStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, _ := IdentityFrom(c)
		u, ok := users.ByID(id.UserID)
		if !ok {
			// valid credential for an account lost on restart; the client must log in again
			return errorJSON(c, http.StatusUnauthorized, "account no longer exists")
		}
		return c.JSON(http.StatusOK, u)
	}
}

func listUsers(users UserStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, usersResponse{Users: users.List()})
	}
}

func getTasks(tasks TaskReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, _ := IdentityFrom(c)
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks.Visible(id)})
	}
}

func getStats(tasks TaskReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, _ := IdentityFrom(c)
		return c.JSON(http.StatusOK, domain.Summarize(tasks.Visible(id)))
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	return sonic.ConfigStd.NewDecoder(lr).Decode(v)
}

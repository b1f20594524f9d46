package api

import (
	"github.com/labstack/echo/v4"

	"websocket-kanban/domain"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// /POST /api/register request body
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// /POST /api/login request body
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// /POST /api/upload response body
type uploadResponse struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type usersResponse struct {
	Users []domain.User `json:"users"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Tasks       int    `json:"tasks"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Message: msg})
}

package domain

import "time"

// Role grants permissions to a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is a registered account. The password hash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"-"`
}

// Identity is the authenticated principal attached to a request or connection.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CanModify reports whether the identity may change or remove the task.
func (i Identity) CanModify(t Task) bool {
	return i.IsAdmin() || (i.UserID != "" && t.UserID == i.UserID)
}

package api

import (
	"context"

	"websocket-kanban/domain"
)

// UserStore abstracts account persistence for handlers.
type UserStore interface {
	Create(u domain.User) (domain.User, error)
	ByEmail(email string) (domain.User, bool)
	ByID(id string) (domain.User, bool)
	List() []domain.User
}

// TaskReader serves read-only task queries over HTTP. Mutations go through
// the realtime dispatcher.
type TaskReader interface {
	Visible(id domain.Identity) []domain.Task
	Len() int
}

// Authenticator is implemented by types able to extract identities from headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
}

// ActivityRecorder tracks when a user was last seen. Failures are logged and
// never fail the request.
type ActivityRecorder interface {
	Touch(ctx context.Context, userID string) error
}

// ConnectionCounter reports the number of live real-time connections.
type ConnectionCounter interface {
	Connections() int
}

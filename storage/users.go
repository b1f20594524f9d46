package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"websocket-kanban/domain"
)

// UserStore keeps registered accounts in memory, keyed by id and by
// lower-cased email.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string

	now   func() time.Time
	newID func() string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Create assigns an id and creation time and stores the user. It fails with
// domain.ErrDuplicateAccount when the email is already registered.
func (s *UserStore) Create(u domain.User) (domain.User, error) {
	key := emailKey(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[key]; exists {
		return domain.User{}, domain.ErrDuplicateAccount
	}
	u.ID = s.newID()
	for u.ID == SystemOwner || s.byID[u.ID] != nil {
		u.ID = s.newID()
	}
	u.CreatedAt = s.now()
	s.byID[u.ID] = &u
	s.byEmail[key] = u.ID
	return u, nil
}

func (s *UserStore) ByEmail(email string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return domain.User{}, false
	}
	return *s.byID[id], true
}

func (s *UserStore) ByID(id string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return domain.User{}, false
	}
	return *u, true
}

// List returns all users ordered by creation time.
func (s *UserStore) List() []domain.User {
	s.mu.RLock()
	out := make([]domain.User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, *u)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Touch records the last time the user was seen. Unknown ids are ignored.
// It satisfies the same contract as RedisActivity so the server can run
// without Redis.
func (s *UserStore) Touch(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.byID[userID]; ok {
		u.LastActiveAt = s.now()
	}
	return nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

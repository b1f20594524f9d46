package api

import (
	"errors"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"websocket-kanban/domain"
)

const (
	minPasswordLen = 6
	// bcrypt ignores input past 72 bytes
	maxPasswordLen = 72
)

// TokenIssuer mints credentials for users.
type TokenIssuer interface {
	Issue(u domain.User) (string, error)
}

// Session is returned by register and login.
type Session struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Accounts registers users and verifies their passwords.
type Accounts struct {
	users  UserStore
	issuer TokenIssuer
	admins map[string]struct{}
	cost   int
}

// NewAccounts creates an Accounts service. Emails listed in adminEmails
// receive the admin role on registration.
func NewAccounts(users UserStore, issuer TokenIssuer, adminEmails []string) *Accounts {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = normalizeEmail(e); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Accounts{users: users, issuer: issuer, admins: admins, cost: bcrypt.DefaultCost}
}

// Register creates an account and returns a credential for it.
func (a *Accounts) Register(email, password, name string) (Session, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateEmail(email); err != nil {
		return Session{}, err
	}
	switch {
	case password == "":
		return Session{}, &domain.ValidationError{Field: "password", Reason: "is required"}
	case len(password) < minPasswordLen:
		return Session{}, &domain.ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	case len(password) > maxPasswordLen:
		return Session{}, &domain.ValidationError{Field: "password", Reason: "must be at most 72 bytes"}
	}
	if name == "" {
		return Session{}, &domain.ValidationError{Field: "name", Reason: "is required"}
	}

	hash, err := a.hashPassword(password)
	if err != nil {
		return Session{}, err
	}

	role := domain.RoleUser
	if _, ok := a.admins[email]; ok {
		role = domain.RoleAdmin
	}

	u, err := a.users.Create(domain.User{Email: email, PasswordHash: hash, Name: name, Role: role})
	if err != nil {
		return Session{}, err
	}
	return a.session(u)
}

// Login verifies the password and returns a fresh credential. Unknown emails
// and wrong passwords both yield domain.ErrInvalidCredential.
func (a *Accounts) Login(email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Session{}, &domain.ValidationError{Field: "email", Reason: "is required"}
	}
	if password == "" {
		return Session{}, &domain.ValidationError{Field: "password", Reason: "is required"}
	}

	u, ok := a.users.ByEmail(email)
	if !ok || !checkPasswordHash(password, u.PasswordHash) {
		return Session{}, domain.ErrInvalidCredential
	}
	return a.session(u)
}

func (a *Accounts) session(u domain.User) (Session, error) {
	token, err := a.issuer.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, User: u}, nil
}

func (a *Accounts) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", &domain.ValidationError{Field: "password", Reason: "must be at most 72 bytes"}
	}
	return string(hash), err
}

func checkPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validateEmail(email string) error {
	if email == "" {
		return &domain.ValidationError{Field: "email", Reason: "is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &domain.ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

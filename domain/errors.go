package domain

import "errors"

var (
	// ErrUnauthenticated is returned when no credential was presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidCredential covers bad passwords and tokens that fail signature,
	// expiry, issuer or audience checks.
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrDuplicateAccount  = errors.New("an account with this email already exists")
	// ErrForbidden is returned when the caller neither owns the task nor holds
	// the admin role.
	ErrForbidden       = errors.New("not allowed to modify this task")
	ErrNoFileProvided  = errors.New("no file uploaded")
	ErrFileTooLarge    = errors.New("file is too large")
	ErrUnsupportedType = errors.New("only image and document files are allowed")
)

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

package auth

import "errors"

// Auth-specific errors
var (
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrInvalidRole        = errors.New("role must be client or finder")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserBanned         = errors.New("account is banned")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrSamePassword       = errors.New("new password must differ from the current password")
)

// BannedError carries the reason a banned user was refused
type BannedError struct {
	Reason string
}

func (e *BannedError) Error() string {
	if e.Reason == "" {
		return ErrUserBanned.Error()
	}
	return ErrUserBanned.Error() + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrUserBanned
func (e *BannedError) Unwrap() error {
	return ErrUserBanned
}

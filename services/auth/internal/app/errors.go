package app

import "errors"

var (
	ErrUsernameRequired   = errors.New("username is required")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNameRequired       = errors.New("name is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrSecurityQARequired = errors.New("at least one security question is required")
	ErrSecurityQAMismatch = errors.New("security answers do not match")
	ErrUserNotFound       = errors.New("user not found")
)

package session

import "errors"

var (
	ErrNoSession          = errors.New("no session")
	ErrNoRefreshToken     = errors.New("no refresh token")
	ErrInvalidTokenFormat = errors.New("invalid token format")
	ErrMissingUserId      = errors.New("token has no user id")
	ErrTokenExpired       = errors.New("token expired")
)

package backend

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoToken      = errors.New("no auth token")
	ErrNoURL        = errors.New("upload response has no url")
)

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

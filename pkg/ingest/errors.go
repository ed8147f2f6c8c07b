package ingest

import "errors"

var (
	ErrNoSession     = errors.New("no session token")
	ErrAlreadyActive = errors.New("pipeline already active")
)

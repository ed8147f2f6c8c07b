package notifications

import "errors"

var (
	ErrNoMarker = errors.New("no mark-read endpoint configured")
)

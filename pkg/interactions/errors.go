package interactions

import "errors"

var (
	ErrRejected            = errors.New("notification rejected")
	ErrMissingAction       = errors.New("missing action")
	ErrLocalNotificationId = errors.New("local interaction carries a notification id")
)

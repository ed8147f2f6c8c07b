package messages

import "errors"

var (
	ErrEmptyMessage = errors.New("message has no content or attachment")
	ErrUploadFailed = errors.New("attachment upload failed")
	ErrNotFound     = errors.New("message not found")
	ErrNotFailed    = errors.New("message has not failed")
	ErrNoUploader   = errors.New("attachments are not supported")
)

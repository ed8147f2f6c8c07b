package v0_rest

import "errors"

var (
	ErrBadRequest       = errors.New("badRequest")       // 400
	ErrEmptyMessage     = errors.New("emptyMessage")     // 400
	ErrUnauthorized     = errors.New("Unauthorized")     // 401
	ErrNotFound         = errors.New("notFound")         // 404
	ErrMessageNotFailed = errors.New("messageNotFailed") // 409
	ErrRatelimited      = errors.New("tooManyRequests")  // 429
	ErrInternal         = errors.New("Internal")         // 500
	ErrUploadFailed     = errors.New("uploadFailed")     // 502
	ErrUpstream         = errors.New("upstreamFailed")   // 502
)

package transport

import "errors"

var (
	ErrNotConnected    = errors.New("not connected")
	ErrClosed          = errors.New("client closed")
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
	ErrUnknownFormat   = errors.New("unknown proto format")
	ErrMissingCmd      = errors.New("packet has no cmd")
	ErrEmptyVal        = errors.New("packet has no val")
)

package client

import "errors"

var (
	ErrClientClosed  = errors.New("client is closed")
	ErrInvalidConfig = errors.New("invalid client configuration")
	ErrNoState       = errors.New("no state received before timeout")
)

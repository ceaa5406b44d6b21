package shared

import "errors"

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("closed")
)

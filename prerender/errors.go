package prerender

import "errors"

// Sentinel errors for prerender operations.
var (
	ErrNilHost          = errors.New("prerender: host is nil")
	ErrEmptyID          = errors.New("prerender: id is empty")
	ErrEmptyURL         = errors.New("prerender: url is empty")
	ErrClosed           = errors.New("prerender: pool is closed")
	ErrContainerRemoved = errors.New("prerender: container was removed")
)

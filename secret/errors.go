package secret

import "errors"

// Sentinel errors for secret resolution.
var (
	ErrMissingEnv      = errors.New("secret: missing required environment variables")
	ErrUnknownProvider = errors.New("secret: provider is not registered")
	ErrEmptySecret     = errors.New("secret: provider returned an empty value")
	ErrInvalidRef      = errors.New("secret: reference is invalid")
)

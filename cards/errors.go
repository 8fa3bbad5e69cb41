package cards

import (
	"errors"
	"fmt"
)

// Sentinel errors for cards operations.
var (
	ErrMissingBaseURL  = errors.New("cards: base URL is required")
	ErrMissingUsername = errors.New("cards: username is required")
	ErrMissingID       = errors.New("cards: card id is required")
	ErrEmptyQuery      = errors.New("cards: search query is empty")
	ErrUnsuccessful    = errors.New("cards: service reported failure")
)

// APIError is returned when the service answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cards: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("cards: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

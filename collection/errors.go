package collection

import (
	"context"
	"errors"

	"github.com/jonwraymond/cardshelf/cards"
)

// Sentinel errors for collection operations.
var (
	ErrNilSource         = errors.New("collection: source is nil")
	ErrMissingCollection = errors.New("collection: collection id is required")
	ErrInvalidPage       = errors.New("collection: page must be at least 1")
	ErrInvalidPageSize   = errors.New("collection: page size must be at least 1")
	ErrClosed            = errors.New("collection: controller is closed")
)

// userMessage is the error text shown in State.Error.
func userMessage(err error) string {
	var apiErr *cards.APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case cards.IsNotFound(err):
		return "Collection not found"
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out"
	default:
		return "Failed to load cards"
	}
}

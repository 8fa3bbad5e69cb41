package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Loader fetches a media URL for its side effect of warming caches.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Load must return promptly once ctx is done.
type Loader interface {
	Load(ctx context.Context, url string) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string) error

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, url string) error {
	return f(ctx, url)
}

// NopLoader discards every load.
var NopLoader Loader = LoaderFunc(func(context.Context, string) error { return nil })

// HTTPLoader loads URLs with GET requests and discards the bodies.
type HTTPLoader struct {
	Client *http.Client
}

// Load fetches url and drains the response.
func (l HTTPLoader) Load(ctx context.Context, url string) error {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("preload: %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

package cards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/cardshelf/observe"
)

// Header names sent on every request.
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderRequestID = "X-Request-ID"
	HeaderPriority  = "Priority"
)

// lowPriority is the RFC 9218 urgency sent with speculative requests.
const lowPriority = "u=7"

type lowPriorityKey struct{}

// WithLowPriority marks requests made with ctx as speculative. They carry a
// low Priority header and never share an in-flight request with other
// callers, so cancelling them aborts their own I/O only.
func WithLowPriority(ctx context.Context) context.Context {
	return context.WithValue(ctx, lowPriorityKey{}, true)
}

// IsLowPriority reports whether ctx was marked with WithLowPriority.
func IsLowPriority(ctx context.Context) bool {
	v, _ := ctx.Value(lowPriorityKey{}).(bool)
	return v
}

// Client talks to the cards service.
//
// Identical concurrent ListCards and GetCard calls at normal priority share
// one HTTP request. The shared request runs detached from any single
// caller's cancellation; each caller still returns as soon as its own
// context is done.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	apiKey    string
	userAgent string
	logger    observe.Logger
	newID     func() string

	group singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the client logger.
func WithLogger(l observe.Logger) Option {
	return func(c *Client) { c.logger = observe.OrNop(l) }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("cards: parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("cards: base URL %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:   u,
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "cardshelf",
		logger:    observe.NopLogger(),
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListCards returns one page of a collection.
func (c *Client) ListCards(ctx context.Context, q Query) (*ListResult, error) {
	if q.Username == "" {
		return nil, ErrMissingUsername
	}
	q = q.Normalize(12)

	endpoint := c.endpoint("cards")
	values := endpoint.Query()
	for k, v := range q.values() {
		values.Set(k, v)
	}
	endpoint.RawQuery = values.Encode()

	return shared(ctx, c, "list:"+endpoint.RawQuery, func(ctx context.Context) (*ListResult, error) {
		var env envelope[ListResult]
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &env); err != nil {
			return nil, err
		}
		return &env.Data, nil
	})
}

// GetCard returns a single card.
func (c *Client) GetCard(ctx context.Context, id string) (*Card, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	endpoint := c.endpoint("cards", id)

	return shared(ctx, c, "card:"+id, func(ctx context.Context) (*Card, error) {
		var env envelope[cardData]
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &env); err != nil {
			return nil, err
		}
		return &env.Data.Card, nil
	})
}

// DeleteCard removes a card. The service accepts deletion as a POST to the
// card's resource.
func (c *Client) DeleteCard(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingID
	}
	var env envelope[json.RawMessage]
	return c.do(ctx, http.MethodPost, c.endpoint("cards", id), map[string]string{"action": "delete"}, &env)
}

// Search forwards a natural-language query to the knowledge-search service
// and returns the card it created.
func (c *Client) Search(ctx context.Context, query string) (*Card, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	var env envelope[cardData]
	if err := c.do(ctx, http.MethodPost, c.endpoint("search"), searchRequest{Query: query}, &env); err != nil {
		return nil, err
	}
	return &env.Data.Card, nil
}

func (c *Client) endpoint(segments ...string) *url.URL {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL.JoinPath(escaped...)
}

// shared runs fn once per key for concurrent normal-priority callers.
func shared[T any](ctx context.Context, c *Client, key string, fn func(context.Context) (*T, error)) (*T, error) {
	if IsLowPriority(ctx) {
		return fn(ctx)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		v := *res.Val.(*T)
		return &v, nil
	}
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body any, out interface{ ok() (bool, string) }) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cards: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("cards: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}
	requestID := c.newID()
	req.Header.Set(HeaderRequestID, requestID)
	if IsLowPriority(ctx) {
		req.Header.Set(HeaderPriority, lowPriority)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cards: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("cards: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env envelope[json.RawMessage]
		if json.Unmarshal(data, &env) == nil {
			apiErr.Message = env.Error
		}
		c.logger.Warn(ctx, "cards service returned an error",
			observe.F("request_id", requestID),
			observe.F("status", resp.StatusCode),
			observe.F("path", u.Path),
		)
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cards: decode response: %w", err)
	}
	if ok, msg := out.ok(); !ok {
		if msg == "" {
			return ErrUnsuccessful
		}
		return fmt.Errorf("%w: %s", ErrUnsuccessful, msg)
	}
	return nil
}

func (e *envelope[T]) ok() (bool, string) {
	return e.Success, e.Error
}

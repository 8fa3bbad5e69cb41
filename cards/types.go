package cards

import (
	"strconv"
	"strings"
	"time"
)

// Card is one stored search result.
type Card struct {
	ID            string    `json:"id"`
	CardID        string    `json:"cardId"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	WebpageURL    string    `json:"webpageUrl"`
	ImageURL      string    `json:"imageUrl"`
	EmbedURL      string    `json:"embedUrl"`
	Sources       []string  `json:"sources,omitempty"`
	Methodologies []string  `json:"methodologies,omitempty"`
	SourceIndexes []int     `json:"sourceIndexes,omitempty"`
	Query         string    `json:"query"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Key returns the identifier used by caches: CardID when present, else ID.
func (c Card) Key() string {
	if c.CardID != "" {
		return c.CardID
	}
	return c.ID
}

// Pagination describes the position of a page within a collection.
type Pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	TotalCards  int  `json:"totalCards"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// Collection is the metadata of one user's card collection.
type Collection struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListResult is the data payload of GET /cards.
type ListResult struct {
	Cards      []Card     `json:"cards"`
	Pagination Pagination `json:"pagination"`
	Collection Collection `json:"collection"`
}

// Clone returns a copy whose Cards slice can be modified freely.
func (r *ListResult) Clone() *ListResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Cards = append([]Card(nil), r.Cards...)
	return &out
}

// Query selects one page of a collection.
type Query struct {
	Username string `json:"username"`
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
	Search   string `json:"search"`
}

// Normalize fills defaults: page 1 and the given limit when unset, and a
// trimmed search term.
func (q Query) Normalize(defaultLimit int) Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultLimit
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

func (q Query) values() map[string]string {
	v := map[string]string{
		"username": q.Username,
		"page":     strconv.Itoa(q.Page),
		"limit":    strconv.Itoa(q.Limit),
	}
	if q.Search != "" {
		v["search"] = q.Search
	}
	return v
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

type cardData struct {
	Card Card `json:"card"`
}

type searchRequest struct {
	Query string `json:"query"`
}

package collection

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/cardshelf/cards"
	"github.com/jonwraymond/cardshelf/view"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSource serves pages from an in-memory collection, newest first.
type fakeSource struct {
	mu           sync.Mutex
	data         map[string][]cards.Card
	calls        []cards.Query
	gates        map[int]chan struct{} // by 1-based call number
	fail         map[int]error         // by page
	entered      chan cards.Query
	ignoreCancel bool
	stamp        bool
}

func newFakeSource(collection string, n int) *fakeSource {
	s := &fakeSource{
		data:  map[string][]cards.Card{},
		gates: map[int]chan struct{}{},
		fail:  map[int]error{},
	}
	for i := range n {
		s.data[collection] = append(s.data[collection], makeCard(i))
	}
	return s
}

func makeCard(i int) cards.Card {
	title := fmt.Sprintf("Card %02d", i)
	if i%4 == 0 {
		title += " about tides"
	}
	return cards.Card{
		ID:        fmt.Sprintf("db-%02d", i),
		CardID:    fmt.Sprintf("c%02d", i),
		Title:     title,
		ImageURL:  fmt.Sprintf("https://img/c%02d.png", i),
		EmbedURL:  fmt.Sprintf("https://embed/c%02d", i),
		Query:     "question",
		CreatedAt: epoch.Add(-time.Duration(i) * time.Minute),
	}
}

func (s *fakeSource) add(collection string, c cards.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[collection] = append([]cards.Card{c}, s.data[collection]...)
}

func (s *fakeSource) remove(collection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[collection] = slices.DeleteFunc(s.data[collection], func(c cards.Card) bool { return c.Key() == id })
}

func (s *fakeSource) gate(call int) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[call] = ch
	return ch
}

func (s *fakeSource) watch() chan cards.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered = make(chan cards.Query, 16)
	return s.entered
}

func (s *fakeSource) setFail(page int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[page] = err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSource) pageCalls(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.calls {
		if q.Page == page {
			n++
		}
	}
	return n
}

func (s *fakeSource) ListCards(ctx context.Context, q cards.Query) (*cards.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, q)
	n := len(s.calls)
	gate := s.gates[n]
	err := s.fail[q.Page]
	entered := s.entered
	ignore := s.ignoreCancel
	stamp := s.stamp
	all := slices.Clone(s.data[q.Username])
	s.mu.Unlock()

	if entered != nil {
		entered <- q
	}
	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}

	matched := slices.DeleteFunc(all, func(c cards.Card) bool { return !view.Matches(c, q.Search) })
	total := len(matched)
	pages := (total + q.Limit - 1) / q.Limit
	start := min((q.Page-1)*q.Limit, total)
	end := min(start+q.Limit, total)

	page := slices.Clone(matched[start:end])
	if stamp {
		for i := range page {
			page[i].Title = fmt.Sprintf("%s #%d", page[i].Title, n)
		}
	}
	return &cards.ListResult{
		Cards: page,
		Pagination: cards.Pagination{
			Page:        q.Page,
			Limit:       q.Limit,
			TotalCards:  total,
			TotalPages:  pages,
			HasNextPage: q.Page < pages,
			HasPrevPage: q.Page > 1,
		},
		Collection: cards.Collection{Username: q.Username, CreatedAt: epoch.Add(-24 * time.Hour)},
	}, nil
}

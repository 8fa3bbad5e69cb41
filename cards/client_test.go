package cards

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/api/", WithAPIKey("secret-key"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient error = %v", err)
	}
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(""); !errors.Is(err, ErrMissingBaseURL) {
		t.Errorf("empty base URL error = %v, want ErrMissingBaseURL", err)
	}
	if _, err := NewClient("/relative"); err == nil {
		t.Error("relative base URL should fail")
	}
}

func TestClient_ListCards(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/cards" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("username") != "alice" || q.Get("page") != "2" || q.Get("limit") != "12" || q.Get("search") != "tides" {
			t.Errorf("unexpected query %v", q)
		}
		if r.Header.Get(HeaderAPIKey) != "secret-key" {
			t.Errorf("api key header = %q", r.Header.Get(HeaderAPIKey))
		}
		if r.Header.Get(HeaderRequestID) == "" {
			t.Error("request id header missing")
		}
		if r.Header.Get(HeaderPriority) != "" {
			t.Error("normal request carried a priority header")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"cards": []map[string]any{
					{"id": "1", "cardId": "c1", "title": "Tides", "query": "why tides", "createdAt": "2025-01-02T03:04:05Z"},
				},
				"pagination": map[string]any{"page": 2, "limit": 12, "totalCards": 13, "totalPages": 2, "hasNextPage": false, "hasPrevPage": true},
				"collection": map[string]any{"username": "alice", "createdAt": "2024-12-01T00:00:00Z"},
			},
		})
	})

	res, err := c.ListCards(context.Background(), Query{Username: "alice", Page: 2, Search: " tides "})
	if err != nil {
		t.Fatalf("ListCards error = %v", err)
	}
	if len(res.Cards) != 1 || res.Cards[0].Key() != "c1" || res.Cards[0].Title != "Tides" {
		t.Errorf("cards = %+v", res.Cards)
	}
	if !res.Pagination.HasPrevPage || res.Pagination.TotalCards != 13 {
		t.Errorf("pagination = %+v", res.Pagination)
	}
	if res.Collection.Username != "alice" {
		t.Errorf("collection = %+v", res.Collection)
	}
}

func TestClient_ListCardsRequiresUsername(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := c.ListCards(context.Background(), Query{}); !errors.Is(err, ErrMissingUsername) {
		t.Errorf("error = %v, want ErrMissingUsername", err)
	}
}

func TestClient_LowPrioritySetsHeader(t *testing.T) {
	var got atomic.Value
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get(HeaderPriority))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{}})
	})

	if _, err := c.ListCards(WithLowPriority(context.Background()), Query{Username: "alice"}); err != nil {
		t.Fatalf("ListCards error = %v", err)
	}
	if got.Load() != "u=7" {
		t.Errorf("Priority header = %v, want u=7", got.Load())
	}
}

func TestClient_GetCardSharesConcurrentRequests(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"card": map[string]any{"id": "1", "cardId": "c1", "title": "Tides"}},
		})
	})

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			card, err := c.GetCard(context.Background(), "c1")
			if err == nil && card.Title != "Tides" {
				err = errors.New("wrong card " + card.Title)
			}
			errs <- err
		}()
	}

	// Give every caller time to join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GetCard error = %v", err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestClient_CallerCancellationDoesNotAbortSharedRequest(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"card": map[string]any{"cardId": "c1"}},
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.GetCard(ctx, "c1")
		first <- err
	}()

	second := make(chan error, 1)
	time.Sleep(20 * time.Millisecond)
	go func() {
		_, err := c.GetCard(context.Background(), "c1")
		second <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-second; err != nil {
		t.Errorf("surviving caller error = %v", err)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Card not found"})
	})

	_, err := c.GetCard(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Message != "Card not found" {
		t.Errorf("message = %q", apiErr.Message)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound = false")
	}
}

func TestClient_UnsuccessfulEnvelope(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "quota exceeded"})
	})

	_, err := c.ListCards(context.Background(), Query{Username: "alice"})
	if !errors.Is(err, ErrUnsuccessful) || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error = %v, want ErrUnsuccessful with message", err)
	}
}

func TestClient_SearchAndDelete(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		switch r.URL.Path {
		case "/api/search":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["query"] != "how do tides work" {
				t.Errorf("search body = %v", body)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"card": map[string]any{"cardId": "new", "query": body["query"]}},
			})
		case "/api/cards/c%2F1", "/api/cards/c/1":
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})

	card, err := c.Search(context.Background(), "  how do tides work ")
	if err != nil {
		t.Fatalf("Search error = %v", err)
	}
	if card.Key() != "new" {
		t.Errorf("created card = %+v", card)
	}

	if _, err := c.Search(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("empty search error = %v, want ErrEmptyQuery", err)
	}

	if err := c.DeleteCard(context.Background(), "c/1"); err != nil {
		t.Errorf("DeleteCard error = %v", err)
	}
}

func TestQuery_Normalize(t *testing.T) {
	q := Query{Username: "alice", Search: "  x "}.Normalize(24)
	if q.Page != 1 || q.Limit != 24 || q.Search != "x" {
		t.Errorf("Normalize = %+v", q)
	}
}

func TestListResult_CloneIsIndependent(t *testing.T) {
	orig := &ListResult{Cards: []Card{{CardID: "a"}}}
	cp := orig.Clone()
	cp.Cards[0].CardID = "b"
	if orig.Cards[0].CardID != "a" {
		t.Error("Clone shares the Cards backing array")
	}
	if (*ListResult)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

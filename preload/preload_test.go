package preload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jonwraymond/cardshelf/cards"
	"github.com/jonwraymond/cardshelf/clock"
	"github.com/jonwraymond/cardshelf/observe"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingLoader struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newRecordingLoader() *recordingLoader {
	return &recordingLoader{calls: map[string]int{}}
}

func (l *recordingLoader) Load(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[url]++
	return l.err
}

func (l *recordingLoader) count(url string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[url]
}

func newTestCache(t *testing.T, opts Options) (*Cache, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	opts.Clock = clk
	c := New(opts)
	t.Cleanup(c.Close)
	return c, clk
}

func TestCache_CardTTL(t *testing.T) {
	c, clk := newTestCache(t, Options{})

	c.PreloadCard("c1", cards.Card{CardID: "c1", Title: "Tides"})

	clk.Advance(10*time.Minute - time.Second)
	card, ok := c.GetPreloadedCard("c1")
	if !ok || card.Title != "Tides" {
		t.Fatalf("GetPreloadedCard before 10m = (%+v, %v)", card, ok)
	}

	clk.Advance(2 * time.Second)
	if _, ok := c.GetPreloadedCard("c1"); ok {
		t.Fatal("card still visible after 10m")
	}
}

func TestCache_PageTTLAndCopying(t *testing.T) {
	c, clk := newTestCache(t, Options{})

	page := &cards.ListResult{Cards: []cards.Card{{CardID: "a"}}}
	c.PreloadPage("k", page)
	page.Cards[0].CardID = "mutated"

	got, ok := c.GetPreloadedPage("k")
	if !ok || got.Cards[0].CardID != "a" {
		t.Fatalf("stored page aliased the caller's slice: %+v", got)
	}
	got.Cards[0].CardID = "mutated again"
	again, _ := c.GetPreloadedPage("k")
	if again.Cards[0].CardID != "a" {
		t.Fatal("returned page aliased the stored slice")
	}

	clk.Advance(5*time.Minute + time.Second)
	if _, ok := c.GetPreloadedPage("k"); ok {
		t.Fatal("page still visible after 5m")
	}
}

func TestCache_LastWriteWins(t *testing.T) {
	c, _ := newTestCache(t, Options{})

	c.PreloadCard("c1", cards.Card{Title: "first"})
	c.PreloadCard("c1", cards.Card{Title: "second"})

	card, _ := c.GetPreloadedCard("c1")
	if card.Title != "second" {
		t.Errorf("Title = %q, want second", card.Title)
	}
}

func TestCache_InvalidatePages(t *testing.T) {
	c, _ := newTestCache(t, Options{})

	c.PreloadPage("collections/alice/cards:1", &cards.ListResult{})
	c.PreloadPage("collections/alice/cards:2", &cards.ListResult{})
	c.PreloadPage("collections/bob/cards:1", &cards.ListResult{})

	if n := c.InvalidatePages("collections/alice/cards:"); n != 2 {
		t.Errorf("InvalidatePages = %d, want 2", n)
	}
	if _, ok := c.GetPreloadedPage("collections/bob/cards:1"); !ok {
		t.Error("unrelated page removed")
	}
}

func TestCache_PreloadImageDedup(t *testing.T) {
	images := newRecordingLoader()
	c, _ := newTestCache(t, Options{ImageLoader: images})

	c.PreloadImage("https://img/1.png")
	c.PreloadImage("https://img/1.png")
	c.PreloadImages("https://img/1.png", "https://img/2.png", "", "https://img/2.png")
	c.Wait()

	if n := images.count("https://img/1.png"); n != 1 {
		t.Errorf("image 1 loaded %d times, want 1", n)
	}
	if n := images.count("https://img/2.png"); n != 1 {
		t.Errorf("image 2 loaded %d times, want 1", n)
	}
	if !c.HasSeenImage("https://img/2.png") || c.HasSeenImage("") {
		t.Error("seen set wrong")
	}
}

func TestCache_FailedPreloadIsSwallowed(t *testing.T) {
	images := newRecordingLoader()
	images.err = errors.New("404")
	c, _ := newTestCache(t, Options{ImageLoader: images})

	c.PreloadImage("https://img/broken.png")
	c.Wait()

	// Seen marker stays: a failed load is not retried this session.
	c.PreloadImage("https://img/broken.png")
	c.Wait()
	if n := images.count("https://img/broken.png"); n != 1 {
		t.Errorf("broken image loaded %d times, want 1", n)
	}
}

func TestCache_ImageConcurrencyBound(t *testing.T) {
	var active, peak atomic.Int32
	gate := make(chan struct{})
	loader := LoaderFunc(func(ctx context.Context, url string) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		active.Add(-1)
		return nil
	})
	c, _ := newTestCache(t, Options{ImageLoader: loader, ImageConcurrency: 2})

	urls := []string{"a", "b", "c", "d", "e", "f"}
	c.PreloadImages(urls...)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	c.Wait()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestCache_PreloadIframeHold(t *testing.T) {
	cancelled := make(chan struct{})
	frames := LoaderFunc(func(ctx context.Context, url string) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	c, clk := newTestCache(t, Options{FrameLoader: frames})

	c.PreloadIframe("https://embed/1")
	c.PreloadIframe("https://embed/1")

	if s := c.Stats(); s.ActiveFrames != 1 || s.SeenIframes != 1 {
		t.Fatalf("Stats = %+v, want one active and one seen frame", s)
	}

	clk.Advance(3 * time.Second)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("frame load not released after hold")
	}
	c.Wait()

	s := c.Stats()
	if s.ActiveFrames != 0 {
		t.Errorf("ActiveFrames = %d after hold, want 0", s.ActiveFrames)
	}
	if !c.HasSeenIframe("https://embed/1") {
		t.Error("seen marker removed with the frame")
	}
}

func TestCache_SweepLeavesSeenSets(t *testing.T) {
	c, clk := newTestCache(t, Options{})

	c.PreloadCard("c1", cards.Card{})
	c.PreloadPage("p1", &cards.ListResult{})
	c.PreloadImage("https://img/1.png")
	c.Wait()

	clk.Advance(11 * time.Minute)

	s := c.Stats()
	if s.Cards != 0 || s.Pages != 0 {
		t.Errorf("periodic sweep left cards=%d pages=%d", s.Cards, s.Pages)
	}
	if s.SeenImages != 1 {
		t.Errorf("SeenImages = %d, want 1", s.SeenImages)
	}
}

func TestCache_CloseCancelsLoads(t *testing.T) {
	started := make(chan struct{})
	loader := LoaderFunc(func(ctx context.Context, url string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	c, _ := newTestCache(t, Options{ImageLoader: loader})

	c.PreloadImage("https://img/slow.png")
	<-started
	c.Close()
	c.Close()
	c.Wait()
}

func TestDefault_SingletonAndInjection(t *testing.T) {
	a := Default()
	if Default() != a {
		t.Fatal("Default() returned different instances")
	}

	fresh, _ := newTestCache(t, Options{})
	restore := SetDefault(fresh)
	if Default() != fresh {
		t.Fatal("SetDefault did not inject the instance")
	}
	restore()
	if Default() != a {
		t.Fatal("restore did not bring back the previous instance")
	}
}

func TestHTTPLoader(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PNG"))
	}))
	defer srv.Close()

	l := HTTPLoader{Client: srv.Client()}
	if err := l.Load(context.Background(), srv.URL+"/ok.png"); err != nil {
		t.Errorf("Load ok.png error = %v", err)
	}
	if err := l.Load(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("Load missing.png should fail")
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

func TestCache_LoadsRunThroughMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	loader := newRecordingLoader()
	c, _ := newTestCache(t, Options{
		ImageLoader: loader,
		FrameLoader: loader,
		Middleware:  observe.NewMiddleware(nil, metrics, nil),
	})

	c.PreloadImages("https://img/a.png", "https://img/b.png")
	c.PreloadIframe("https://embed/a")
	c.Wait()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var preloads int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cards.fetch.total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("fetch.kind")); ok && v.AsString() == observe.KindPreload {
					preloads += dp.Value
				}
			}
		}
	}
	if preloads != 3 {
		t.Errorf("preload fetches recorded = %d, want 3", preloads)
	}
}

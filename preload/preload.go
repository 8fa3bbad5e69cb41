package preload

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/cardshelf/cache"
	"github.com/jonwraymond/cardshelf/cards"
	"github.com/jonwraymond/cardshelf/clock"
	"github.com/jonwraymond/cardshelf/observe"
)

// Store names reported to observe.Metrics.
const (
	StoreCards = "preload.card"
	StorePages = "preload.page"
)

// Options configures a Cache. Zero fields take the documented defaults.
type Options struct {
	// CardTTL is how long card details stay. Default: 10 minutes
	CardTTL time.Duration

	// PageTTL is how long page results stay. Default: 5 minutes
	PageTTL time.Duration

	// SweepInterval is how often expired cards and pages are purged.
	// Default: 60 seconds
	SweepInterval time.Duration

	// IframeHold is how long an embed load is kept alive. Default: 3 seconds
	IframeHold time.Duration

	// ImageConcurrency bounds parallel image loads per batch. Default: 4
	ImageConcurrency int

	// ImageLoader and FrameLoader perform media loads. Default: NopLoader
	ImageLoader Loader
	FrameLoader Loader

	// Middleware, when set, traces and times every image and embed load.
	Middleware *observe.Middleware

	Clock   clock.Clock
	Logger  observe.Logger
	Metrics observe.Metrics
}

func (o Options) withDefaults() Options {
	if o.CardTTL <= 0 {
		o.CardTTL = 10 * time.Minute
	}
	if o.PageTTL <= 0 {
		o.PageTTL = 5 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 60 * time.Second
	}
	if o.IframeHold <= 0 {
		o.IframeHold = 3 * time.Second
	}
	if o.ImageConcurrency <= 0 {
		o.ImageConcurrency = 4
	}
	if o.ImageLoader == nil {
		o.ImageLoader = NopLoader
	}
	if o.FrameLoader == nil {
		o.FrameLoader = NopLoader
	}
	o.Clock = clock.OrReal(o.Clock)
	o.Logger = observe.OrNop(o.Logger)
	if o.Metrics == nil {
		o.Metrics = observe.NopMetrics()
	}
	return o
}

// Stats is a point-in-time view of the cache sizes.
type Stats struct {
	Cards        int
	Pages        int
	SeenImages   int
	SeenIframes  int
	ActiveFrames int
}

// Cache is the preload facade. The zero value is not usable; call New.
type Cache struct {
	opts Options

	cards *cache.Store[string, cards.Card]
	pages *cache.Store[string, *cards.ListResult]

	seenMu      sync.Mutex
	seenImages  map[string]struct{}
	seenIframes map[string]struct{}
	frames      int

	base      context.Context
	cancel    context.CancelFunc
	loads     sync.WaitGroup
	stopSweep func()
	closeOnce sync.Once
}

// New creates a Cache and starts its periodic sweep.
func New(opts Options) *Cache {
	opts = opts.withDefaults()
	base, cancel := context.WithCancel(context.Background())

	c := &Cache{
		opts:        opts,
		cards:       cache.NewStore[string, cards.Card](opts.Clock),
		pages:       cache.NewStore[string, *cards.ListResult](opts.Clock),
		seenImages:  make(map[string]struct{}),
		seenIframes: make(map[string]struct{}),
		base:        base,
		cancel:      cancel,
	}
	c.stopSweep = clock.Every(opts.Clock, opts.SweepInterval, func() { c.Sweep() })
	return c
}

// PreloadCard stores card details under id.
func (c *Cache) PreloadCard(id string, card cards.Card) {
	if id == "" {
		return
	}
	c.cards.Set(id, card, c.opts.CardTTL)
}

// GetPreloadedCard returns the card stored under id, if still fresh.
func (c *Cache) GetPreloadedCard(id string) (cards.Card, bool) {
	card, ok := c.cards.Get(id)
	c.opts.Metrics.RecordLookup(context.Background(), StoreCards, ok)
	return card, ok
}

// PreloadPage stores a page result under key. The result is copied.
func (c *Cache) PreloadPage(key string, page *cards.ListResult) {
	if key == "" || page == nil {
		return
	}
	c.pages.Set(key, page.Clone(), c.opts.PageTTL)
}

// GetPreloadedPage returns a copy of the page stored under key, if still fresh.
func (c *Cache) GetPreloadedPage(key string) (*cards.ListResult, bool) {
	page, ok := c.pages.Get(key)
	c.opts.Metrics.RecordLookup(context.Background(), StorePages, ok)
	if !ok {
		return nil, false
	}
	return page.Clone(), true
}

// InvalidatePages drops every page whose key starts with prefix.
func (c *Cache) InvalidatePages(prefix string) int {
	return c.pages.DeleteFunc(func(k string) bool {
		return strings.HasPrefix(k, prefix)
	})
}

// InvalidateCard drops the card stored under id.
func (c *Cache) InvalidateCard(id string) {
	c.cards.Delete(id)
}

// PreloadImage loads url once per session. It returns immediately; the load
// runs in the background and its failure is only logged.
func (c *Cache) PreloadImage(url string) {
	c.PreloadImages(url)
}

// PreloadImages loads every URL not loaded before, at most
// Options.ImageConcurrency at a time. It returns immediately.
func (c *Cache) PreloadImages(urls ...string) {
	fresh := make([]string, 0, len(urls))

	c.seenMu.Lock()
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, seen := c.seenImages[u]; seen {
			continue
		}
		c.seenImages[u] = struct{}{}
		fresh = append(fresh, u)
	}
	c.seenMu.Unlock()

	if len(fresh) == 0 {
		return
	}

	c.loads.Add(1)
	go func() {
		defer c.loads.Done()

		var g errgroup.Group
		g.SetLimit(c.opts.ImageConcurrency)
		for _, u := range fresh {
			g.Go(func() error {
				c.load(c.base, c.opts.ImageLoader, u, "image")
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// PreloadIframe loads an embed URL once per session. The load is cancelled
// after Options.IframeHold; the URL stays marked as seen.
func (c *Cache) PreloadIframe(url string) {
	if url == "" {
		return
	}

	c.seenMu.Lock()
	if _, seen := c.seenIframes[url]; seen {
		c.seenMu.Unlock()
		return
	}
	c.seenIframes[url] = struct{}{}
	c.frames++
	c.seenMu.Unlock()

	ctx, cancel := context.WithCancel(c.base)
	release := func() {
		cancel()
		c.seenMu.Lock()
		c.frames--
		c.seenMu.Unlock()
	}
	var once sync.Once
	c.opts.Clock.AfterFunc(c.opts.IframeHold, func() { once.Do(release) })

	c.loads.Add(1)
	go func() {
		defer c.loads.Done()
		c.load(ctx, c.opts.FrameLoader, url, "iframe")
	}()
}

// HasSeenImage reports whether url was ever handed to PreloadImage.
func (c *Cache) HasSeenImage(url string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	_, ok := c.seenImages[url]
	return ok
}

// HasSeenIframe reports whether url was ever handed to PreloadIframe.
func (c *Cache) HasSeenIframe(url string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	_, ok := c.seenIframes[url]
	return ok
}

// Sweep purges expired cards and pages. The seen sets are untouched.
func (c *Cache) Sweep() int {
	return c.cards.Sweep() + c.pages.Sweep()
}

// Stats reports current sizes.
func (c *Cache) Stats() Stats {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	return Stats{
		Cards:        c.cards.Len(),
		Pages:        c.pages.Len(),
		SeenImages:   len(c.seenImages),
		SeenIframes:  len(c.seenIframes),
		ActiveFrames: c.frames,
	}
}

// Wait blocks until every background load started so far has returned.
func (c *Cache) Wait() {
	c.loads.Wait()
}

// Close stops the sweep and cancels in-flight loads. Idempotent.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.stopSweep()
		c.cancel()
	})
}

func (c *Cache) load(ctx context.Context, l Loader, url, kind string) {
	if ctx.Err() != nil {
		return
	}
	meta := observe.FetchMeta{Kind: observe.KindPreload, Resource: kind}
	err := c.opts.Middleware.Run(ctx, meta, func(ctx context.Context) error {
		return l.Load(ctx, url)
	})
	if err != nil {
		c.opts.Logger.Debug(ctx, "preload failed",
			observe.F("kind", kind),
			observe.F("url", url),
			observe.Err(err),
		)
	}
}

package collection

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonwraymond/cardshelf/cache"
	"github.com/jonwraymond/cardshelf/cards"
	"github.com/jonwraymond/cardshelf/grid"
	"github.com/jonwraymond/cardshelf/observe"
	"github.com/jonwraymond/cardshelf/preload"
	"github.com/jonwraymond/cardshelf/resilience"
	"github.com/jonwraymond/cardshelf/view"
)

// Source lists pages of a collection. *cards.Client satisfies it.
type Source interface {
	ListCards(ctx context.Context, q cards.Query) (*cards.ListResult, error)
}

// Prerenderer warms embed documents for hovered cards. *prerender.Pool
// satisfies it.
type Prerenderer interface {
	Prerender(id, url string) error
	Touch(id string) bool
}

// Params selects the page to show.
type Params struct {
	CollectionID string
	Page         int
	PageSize     int
	Search       string
}

func (p Params) query() cards.Query {
	return cards.Query{Username: p.CollectionID, Page: p.Page, Limit: p.PageSize, Search: p.Search}
}

// pageParams is the cache key payload of one page.
type pageParams struct {
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
	Search string `json:"search"`
}

func (p Params) keyParams() pageParams {
	return pageParams{Page: p.Page, Limit: p.PageSize, Search: p.Search}
}

// State is the visible state of the controller.
type State struct {
	Params     Params
	Cards      []cards.Card
	Pagination cards.Pagination
	Collection cards.Collection
	Loading    bool
	Err        error
	Error      string
}

// Options configures a Controller. Zero fields take the documented defaults.
type Options struct {
	// Params is the initial page. PageSize defaults to 12 and Page to 1.
	Params Params

	// PrefetchTimeout bounds each next-page prefetch. Default: 8 seconds
	PrefetchTimeout time.Duration

	// ResultTTL is the results cache TTL. Zero uses the cache policy default.
	ResultTTL time.Duration

	// DisableCache sends every read to the Source.
	DisableCache bool

	// Keyer derives cache keys. Default: cache.DefaultKeyer
	Keyer cache.Keyer

	// Middleware wraps every Source call with tracing, metrics and logging.
	Middleware *observe.Middleware

	// Frames, when set, prerenders the embed of hovered cards.
	Frames Prerenderer

	// Breaker, when set, gates next-page prefetches. While it is open
	// prefetches are skipped; primary fetches never consult it.
	Breaker *resilience.CircuitBreaker

	// OnChange receives the new state after every change.
	OnChange func(State)
}

func (o Options) withDefaults() Options {
	if o.Params.PageSize < 1 {
		o.Params.PageSize = 12
	}
	if o.Params.Page < 1 {
		o.Params.Page = 1
	}
	o.Params.Search = strings.TrimSpace(o.Params.Search)
	if o.PrefetchTimeout <= 0 {
		o.PrefetchTimeout = 8 * time.Second
	}
	if o.Keyer == nil {
		o.Keyer = cache.NewDefaultKeyer()
	}
	return o
}

// Controller orchestrates fetching, caching and prefetching for one view.
// Safe for concurrent use.
type Controller struct {
	src     Source
	results *cache.MemoryCache
	rt      *cache.ReadThrough
	pre     *preload.Cache
	opts    Options
	mw      *observe.Middleware
	log     observe.Logger

	mu             sync.Mutex
	params         Params
	state          State
	seq            uint64
	overlay        []cards.Card
	overlayFor     string
	invalidations  map[string]uint64 // by collection id
	prefetchID     uint64
	prefetchCancel context.CancelFunc
	closed         bool
}

// New creates a controller. results may be nil to skip the results cache;
// pre may be nil to use preload.Default.
func New(src Source, results *cache.MemoryCache, pre *preload.Cache, opts Options) (*Controller, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	opts = opts.withDefaults()
	if opts.Params.CollectionID == "" {
		return nil, ErrMissingCollection
	}
	if pre == nil {
		pre = preload.Default()
	}

	c := &Controller{
		src:     src,
		results: results,
		pre:     pre,
		opts:    opts,
		mw:      opts.Middleware,
		log:     opts.Middleware.Logger(),
		params:  opts.Params,

		invalidations: map[string]uint64{},
	}
	if results != nil && !opts.DisableCache {
		c.rt = cache.NewReadThrough(results, opts.Keyer, opts.ResultTTL)
	}
	c.state.Params = opts.Params
	c.overlayFor = opts.Params.CollectionID
	return c, nil
}

func resourceFor(collectionID string) string {
	return "cards/" + url.QueryEscape(collectionID)
}

func (c *Controller) cacheEnabled() bool {
	return !c.opts.DisableCache
}

func (c *Controller) pageKey(p Params) (string, error) {
	return c.opts.Keyer.Key(resourceFor(p.CollectionID), p.keyParams(), nil)
}

// Snapshot returns a copy of the visible state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	st := c.state
	st.Cards = slices.Clone(c.state.Cards)
	return st
}

func (c *Controller) notify(st State) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(st)
	}
}

// Load runs a primary fetch for the current parameters. The fetch is not
// cancelled by ctx; its result is discarded when a newer fetch was issued
// or the controller was closed meanwhile.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	seq := c.seq
	params := c.params
	gen := c.invalidations[params.CollectionID]
	c.state.Loading = true
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)

	res, fromNetwork, err := c.fetchPrimary(context.WithoutCancel(ctx), params, gen)

	c.mu.Lock()
	if c.closed || seq != c.seq {
		c.mu.Unlock()
		return err
	}
	if err != nil {
		c.state.Params = params
		c.state.Loading = false
		c.state.Err = err
		c.state.Error = userMessage(err)
	} else {
		if fromNetwork && params.Page == 1 {
			c.settleOverlayLocked(params.CollectionID, res.Cards)
		}
		c.applyLocked(params, res)
	}
	st = c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
	return err
}

// fetchPrimary reads p through the results cache, the preload page store
// and the network. Cache writes are dropped when the collection was
// invalidated after generation gen was observed.
func (c *Controller) fetchPrimary(ctx context.Context, p Params, gen uint64) (*cards.ListResult, bool, error) {
	resource := resourceFor(p.CollectionID)
	fromNetwork := false
	commit := func(store func()) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.invalidations[p.CollectionID] == gen {
			store()
		}
	}

	data, err := c.rt.FetchCommit(ctx, resource, p.keyParams(), func(ctx context.Context) ([]byte, error) {
		if page, ok := c.preloadedPage(p); ok {
			return json.Marshal(page)
		}
		res, err := c.network(ctx, observe.KindPrimary, p)
		if err != nil {
			return nil, err
		}
		fromNetwork = true
		return json.Marshal(res)
	}, commit)
	if err != nil {
		return nil, false, err
	}

	var res cards.ListResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, err
	}

	if fromNetwork {
		if c.cacheEnabled() {
			if key, err := c.pageKey(p); err == nil {
				commit(func() { c.pre.PreloadPage(key, &res) })
			}
		}
		urls := make([]string, 0, len(res.Cards))
		for _, card := range res.Cards {
			urls = append(urls, card.ImageURL)
		}
		c.pre.PreloadImages(urls...)
	}
	return &res, fromNetwork, nil
}

func (c *Controller) preloadedPage(p Params) (*cards.ListResult, bool) {
	if !c.cacheEnabled() {
		return nil, false
	}
	key, err := c.pageKey(p)
	if err != nil {
		return nil, false
	}
	return c.pre.GetPreloadedPage(key)
}

func (c *Controller) network(ctx context.Context, kind string, p Params) (*cards.ListResult, error) {
	var res *cards.ListResult
	meta := observe.FetchMeta{Kind: kind, Resource: resourceFor(p.CollectionID), Page: p.Page}
	err := c.mw.Run(ctx, meta, func(ctx context.Context) error {
		var err error
		res, err = c.src.ListCards(ctx, p.query())
		return err
	})
	if err == nil && res == nil {
		res = &cards.ListResult{}
	}
	return res, err
}

// applyLocked makes res the visible state, merging the overlay into page 1.
func (c *Controller) applyLocked(p Params, res *cards.ListResult) {
	list := res.Cards
	pagination := res.Pagination
	if p.Page == 1 && c.overlayFor == p.CollectionID {
		var added int
		list, added = mergeOverlay(c.overlay, list, p.Search)
		pagination.TotalCards += added
	}
	c.state = State{
		Params:     p,
		Cards:      list,
		Pagination: pagination,
		Collection: res.Collection,
	}
}

// mergeOverlay puts the overlay cards matching search in front of page,
// dropping page cards with the same key. It reports how many overlay cards
// were not already on the page.
func mergeOverlay(overlay, page []cards.Card, search string) ([]cards.Card, int) {
	if len(overlay) == 0 {
		return page, 0
	}

	onPage := make(map[string]bool, len(page))
	for _, card := range page {
		onPage[card.Key()] = true
	}

	out := make([]cards.Card, 0, len(overlay)+len(page))
	inOverlay := make(map[string]bool, len(overlay))
	added := 0
	for _, card := range overlay {
		if !view.Matches(card, search) {
			continue
		}
		inOverlay[card.Key()] = true
		out = append(out, card)
		if !onPage[card.Key()] {
			added++
		}
	}
	for _, card := range page {
		if !inOverlay[card.Key()] {
			out = append(out, card)
		}
	}
	return out, added
}

// settleOverlayLocked drops overlay cards that the service now returns.
func (c *Controller) settleOverlayLocked(collectionID string, page []cards.Card) {
	if c.overlayFor != collectionID || len(c.overlay) == 0 {
		return
	}
	c.overlay = slices.DeleteFunc(slices.Clone(c.overlay), func(card cards.Card) bool {
		return slices.ContainsFunc(page, func(p cards.Card) bool { return p.Key() == card.Key() })
	})
}

// PrefetchNextPage fetches the page after the visible one into the preload
// page store. It is a no-op without a next page. A prefetch already in
// flight is cancelled. Failures and cancellations are only logged.
func (c *Controller) PrefetchNextPage(ctx context.Context) {
	metrics := c.mw.Metrics()

	c.mu.Lock()
	if c.closed || !c.cacheEnabled() || !c.state.Pagination.HasNextPage {
		c.mu.Unlock()
		metrics.RecordPrefetch(ctx, observe.PrefetchSkipped)
		return
	}
	next := c.state.Params
	if c.state.Pagination.Page > 0 {
		next.Page = c.state.Pagination.Page
	}
	next.Page++

	if c.prefetchCancel != nil {
		c.prefetchCancel()
	}
	c.prefetchID++
	id := c.prefetchID
	pctx, cancel := context.WithTimeout(ctx, c.opts.PrefetchTimeout)
	c.prefetchCancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.prefetchID == id {
			c.prefetchCancel = nil
		}
		c.mu.Unlock()
	}()

	if _, ok := c.preloadedPage(next); ok {
		metrics.RecordPrefetch(ctx, observe.PrefetchCached)
		return
	}

	var res *cards.ListResult
	err := c.opts.Breaker.Execute(cards.WithLowPriority(pctx), func(ctx context.Context) error {
		var err error
		res, err = c.network(ctx, observe.KindPrefetch, next)
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			c.log.Debug(ctx, "prefetch skipped", observe.F("page", next.Page), observe.Err(err))
			metrics.RecordPrefetch(ctx, observe.PrefetchSkipped)
			return
		}
		if pctx.Err() != nil {
			metrics.RecordPrefetch(ctx, observe.PrefetchCancelled)
		} else {
			metrics.RecordPrefetch(ctx, observe.PrefetchFailed)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.prefetchID != id || pctx.Err() != nil {
		metrics.RecordPrefetch(ctx, observe.PrefetchCancelled)
		return
	}
	if c.cacheEnabled() {
		if key, err := c.pageKey(next); err == nil {
			c.pre.PreloadPage(key, res)
		}
	}
	metrics.RecordPrefetch(ctx, observe.PrefetchCompleted)
}

// PrefetchCardDetails warms the hovered card and its grid neighbors in a
// grid of the given column count. It is a no-op when id is not visible.
func (c *Controller) PrefetchCardDetails(id string, columns int) {
	c.mu.Lock()
	list := c.state.Cards
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	idx := slices.IndexFunc(list, func(card cards.Card) bool { return card.Key() == id })
	if idx < 0 {
		return
	}
	card := list[idx]

	urls := []string{card.ImageURL}
	for _, n := range grid.Neighbors(idx, len(list), columns) {
		urls = append(urls, list[n].ImageURL)
	}
	c.pre.PreloadImages(urls...)
	c.pre.PreloadCard(card.Key(), card)

	if c.opts.Frames != nil && card.EmbedURL != "" && !c.opts.Frames.Touch(card.Key()) {
		if err := c.opts.Frames.Prerender(card.Key(), card.EmbedURL); err != nil {
			c.log.Debug(context.Background(), "embed prerender skipped",
				observe.F("card_id", card.Key()),
				observe.Err(err),
			)
		}
	}
}

// AddCard shows a newly created card without waiting for a refetch. The
// collection's cached pages are invalidated and the card stays layered on
// page 1 until the service returns it.
func (c *Controller) AddCard(card cards.Card) {
	key := card.Key()
	if key == "" {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.overlayFor != c.params.CollectionID {
		c.overlay, c.overlayFor = nil, c.params.CollectionID
	}
	overlay := make([]cards.Card, 0, len(c.overlay)+1)
	overlay = append(overlay, card)
	for _, o := range c.overlay {
		if o.Key() != key {
			overlay = append(overlay, o)
		}
	}
	c.overlay = overlay
	c.invalidateLocked(c.params.CollectionID)

	if c.state.Params.Page == 1 && c.state.Params.CollectionID == c.params.CollectionID && view.Matches(card, c.state.Params.Search) {
		present := slices.ContainsFunc(c.state.Cards, func(v cards.Card) bool { return v.Key() == key })
		c.state.Cards = append([]cards.Card{card}, slices.DeleteFunc(slices.Clone(c.state.Cards), func(v cards.Card) bool {
			return v.Key() == key
		})...)
		if !present {
			c.state.Pagination.TotalCards++
		}
	}
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.pre.PreloadCard(key, card)
	c.pre.PreloadImage(card.ImageURL)
	c.log.Debug(context.Background(), "card added optimistically", observe.F("card_id", key))
	c.notify(st)
}

// RemoveCard drops a card from the visible list and the caches, typically
// after it was deleted through the service.
func (c *Controller) RemoveCard(id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	match := func(v cards.Card) bool { return v.Key() == id }
	c.overlay = slices.DeleteFunc(slices.Clone(c.overlay), match)
	c.invalidateLocked(c.params.CollectionID)
	if slices.ContainsFunc(c.state.Cards, match) {
		c.state.Cards = slices.DeleteFunc(slices.Clone(c.state.Cards), match)
		c.state.Pagination.TotalCards = max(c.state.Pagination.TotalCards-1, 0)
	}
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.pre.InvalidateCard(id)
	c.notify(st)
}

// Refresh drops the cached pages of the current collection and reloads.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.invalidateLocked(c.params.CollectionID)
	c.mu.Unlock()
	return c.Load(ctx)
}

// invalidateLocked drops every cached page of the collection and cancels
// an in-flight prefetch, whose result would predate the change.
func (c *Controller) invalidateLocked(collectionID string) {
	c.invalidations[collectionID]++
	prefix := cache.Prefix(resourceFor(collectionID))
	if c.results != nil {
		c.results.DeletePrefix(prefix)
	}
	c.pre.InvalidatePages(prefix)
	c.cancelPrefetchLocked()
}

func (c *Controller) cancelPrefetchLocked() {
	if c.prefetchCancel != nil {
		c.prefetchCancel()
		c.prefetchCancel = nil
	}
	c.prefetchID++
}

// HandleSearch sets the search term, returns to page 1 and reloads.
func (c *Controller) HandleSearch(ctx context.Context, term string) error {
	c.mu.Lock()
	c.params.Search = strings.TrimSpace(term)
	c.params.Page = 1
	c.mu.Unlock()
	return c.Load(ctx)
}

// HandlePageChange moves to page and reloads.
func (c *Controller) HandlePageChange(ctx context.Context, page int) error {
	if page < 1 {
		return ErrInvalidPage
	}
	c.mu.Lock()
	c.params.Page = page
	c.mu.Unlock()
	return c.Load(ctx)
}

// SetPageSize changes the page size, returns to page 1 and reloads.
func (c *Controller) SetPageSize(ctx context.Context, size int) error {
	if size < 1 {
		return ErrInvalidPageSize
	}
	c.mu.Lock()
	c.params.PageSize = size
	c.params.Page = 1
	c.mu.Unlock()
	return c.Load(ctx)
}

// SetCollection switches to another collection at page 1 with no search
// term and reloads.
func (c *Controller) SetCollection(ctx context.Context, collectionID string) error {
	if collectionID == "" {
		return ErrMissingCollection
	}
	c.mu.Lock()
	c.params = Params{CollectionID: collectionID, Page: 1, PageSize: c.params.PageSize}
	c.cancelPrefetchLocked()
	c.mu.Unlock()
	return c.Load(ctx)
}

// Close cancels any in-flight prefetch. Fetches still running complete,
// but their results no longer reach the state. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelPrefetchLocked()
}

// Command cardshelf browses one card collection from the terminal.
//
// It loads a page through the caching controller, derives the client-side
// view, renders the visible grid window and warms the next page.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonwraymond/cardshelf/cache"
	"github.com/jonwraymond/cardshelf/cards"
	"github.com/jonwraymond/cardshelf/collection"
	"github.com/jonwraymond/cardshelf/config"
	"github.com/jonwraymond/cardshelf/grid"
	"github.com/jonwraymond/cardshelf/hover"
	"github.com/jonwraymond/cardshelf/observe"
	"github.com/jonwraymond/cardshelf/preload"
	"github.com/jonwraymond/cardshelf/prerender"
	"github.com/jonwraymond/cardshelf/resilience"
	"github.com/jonwraymond/cardshelf/view"
)

const version = "0.1.0"

var errUsage = errors.New("usage")

type options struct {
	configPath string
	collection string
	page       int
	search     string
	filter     string
	sortField  string
	sortOrder  string
	width      float64
	height     float64
	scroll     float64
	hoverID    string
	add        string
	remove     string
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("cardshelf", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.configPath, "config", "", "YAML configuration file (default: built-in defaults)")
	fs.StringVar(&o.collection, "collection", "", "Collection (username) to browse (required)")
	fs.IntVar(&o.page, "page", 1, "Page to load")
	fs.StringVar(&o.search, "search", "", "Server-side search term")
	fs.StringVar(&o.filter, "filter", "", "Client-side filter over the loaded cards")
	fs.StringVar(&o.sortField, "sort", view.FieldCreatedAt, "Sort field: createdAt, title or query")
	fs.StringVar(&o.sortOrder, "order", view.Desc, "Sort order: asc or desc")
	fs.Float64Var(&o.width, "width", 1280, "Viewport width in pixels")
	fs.Float64Var(&o.height, "height", 900, "Viewport height in pixels")
	fs.Float64Var(&o.scroll, "scroll", 0, "Scroll offset in pixels")
	fs.StringVar(&o.hoverID, "hover", "", "Card id to hover, warming its neighbors and embed")
	fs.StringVar(&o.add, "add", "", "Create a card from this query and show it immediately")
	fs.StringVar(&o.remove, "delete", "", "Delete the card with this id")
	fs.BoolVar(&o.version, "version", false, "Show version")

	fs.Usage = func() {
		fmt.Fprint(stderr, `cardshelf - browse a card collection

Usage:
  cardshelf -collection <name> [flags]

Flags:
`)
		fs.PrintDefaults()
		fmt.Fprint(stderr, `
Examples:
  # First page, newest first
  cardshelf -config cardshelf.yaml -collection alice

  # Third page of a server-side search, sorted by title
  cardshelf -collection alice -search tides -page 3 -sort title -order asc

`)
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.version {
		return o, nil
	}
	if o.collection == "" {
		fmt.Fprintf(stderr, "Error: -collection flag is required\n\n")
		fs.Usage()
		return o, errUsage
	}
	if err := (view.Options{Field: o.sortField, Order: o.sortOrder}).Validate(); err != nil {
		return o, err
	}
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, err := parseFlags(os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return
	case err != nil:
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(2)
	case o.version:
		fmt.Printf("cardshelf version %s\n", version)
		return
	}

	if err := run(ctx, o, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdout, stderr io.Writer) error {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(ctx, o.configPath); err != nil {
			return err
		}
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = os.Getenv("CARDS_BASE_URL")
	}

	obsCfg := cfg.ObserveConfig()
	obsCfg.Version = version
	obsCfg.LogOutput = stderr
	obs, err := observe.NewObserver(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return err
	}
	logger := obs.Logger().With(observe.F("collection", o.collection))

	hc := &http.Client{Timeout: cfg.API.Timeout}
	client, err := cards.NewClient(cfg.API.BaseURL,
		cards.WithHTTPClient(hc),
		cards.WithAPIKey(cfg.API.APIKey),
		cards.WithUserAgent(cfg.API.UserAgent),
		cards.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	results := cache.NewMemoryCache(cfg.CachePolicy(), cache.WithRecorder("results", mw.Metrics()))
	results.Start()
	defer results.Stop()

	preOpts := cfg.PreloadOptions()
	preOpts.ImageLoader = preload.HTTPLoader{Client: hc}
	preOpts.FrameLoader = preload.HTTPLoader{Client: hc}
	preOpts.Logger = logger
	preOpts.Metrics = mw.Metrics()
	preOpts.Middleware = mw
	pre := preload.New(preOpts)
	restore := preload.SetDefault(pre)
	defer restore()
	defer pre.Close()

	poolOpts := cfg.PrerenderOptions()
	poolOpts.Logger = logger
	pool, err := prerender.NewPool(prerender.HTTPHost{Client: hc, Logger: logger}, poolOpts)
	if err != nil {
		return err
	}
	defer pool.Close()

	breakerCfg := cfg.PrefetchBreaker()
	breakerCfg.OnStateChange = func(from, to resilience.State) {
		logger.Info(ctx, "prefetch circuit changed", observe.F("from", from.String()), observe.F("to", to.String()))
	}

	ctrl, err := collection.New(client, results, pre, collection.Options{
		Params: collection.Params{
			CollectionID: o.collection,
			Page:         o.page,
			PageSize:     cfg.Controller.PageSize,
			Search:       o.search,
		},
		PrefetchTimeout: cfg.Controller.PrefetchTimeout,
		DisableCache:    cfg.Cache.Disabled,
		Middleware:      mw,
		Frames:          pool,
		Breaker:         resilience.NewCircuitBreaker(breakerCfg),
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Load(ctx); err != nil {
		return fmt.Errorf("%s: %w", ctrl.Snapshot().Error, err)
	}

	if o.add != "" {
		card, err := client.Search(ctx, o.add)
		if err != nil {
			return fmt.Errorf("create card: %w", err)
		}
		ctrl.AddCard(*card)
	}
	if o.remove != "" {
		if err := client.DeleteCard(ctx, o.remove); err != nil {
			return fmt.Errorf("delete card: %w", err)
		}
		ctrl.RemoveCard(o.remove)
	}

	state := ctrl.Snapshot()
	var selector view.Selector
	visible := selector.Select(state.Cards, view.Options{Query: o.filter, Field: o.sortField, Order: o.sortOrder})

	renderer := grid.NewRenderer[cards.Card](cfg.GridConfig())
	renderer.SetItems(visible)
	renderer.SetViewport(grid.Viewport{ScrollTop: o.scroll, Height: o.height})
	settleWidth(renderer, cfg.Grid.ResizeDebounce, o.width)
	frame := renderer.Render()

	if o.hoverID != "" {
		hoverCard(ctx, cfg.HoverOptions(), func() { ctrl.PrefetchCardDetails(o.hoverID, frame.Columns) })
	}

	ctrl.PrefetchNextPage(ctx)

	printFrame(stdout, state, frame)
	printStats(stdout, stats{
		results:   results.Len(),
		preload:   pre.Stats(),
		prerender: pool.Len(),
	})
	return nil
}

// settleWidth feeds width through the resize debouncer and waits for it to
// reach the renderer.
func settleWidth(r *grid.Renderer[cards.Card], delay time.Duration, width float64) {
	settled := make(chan struct{})
	d := grid.NewResizeDebouncer(nil, delay, func(w float64) {
		r.SetWidth(w)
		close(settled)
	})
	defer d.Stop()
	d.Resize(width)
	<-settled
}

// hoverCard rests the pointer on a card until hover intent is confirmed.
func hoverCard(ctx context.Context, opts hover.Options, onConfirm func()) {
	confirmed := make(chan struct{})
	opts.OnConfirm = func(hover.Point) {
		onConfirm()
		close(confirmed)
	}
	d := hover.NewDetector(opts)
	defer d.Leave()

	d.Enter(hover.Point{})
	select {
	case <-confirmed:
	case <-ctx.Done():
	}
}

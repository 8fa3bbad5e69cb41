package prerender

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/jonwraymond/cardshelf/observe"
)

// Host creates off-screen containers for hidden documents.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
type Host interface {
	NewContainer(width, height int) (Container, error)
}

// Container holds hidden documents. Remove detaches it and every frame it
// still holds.
type Container interface {
	Attach(ctx context.Context, id, url string) (Frame, error)
	Remove()
}

// Frame is one hidden document. Loaded is closed once the document has
// finished loading; it stays open forever if loading fails.
type Frame interface {
	Loaded() <-chan struct{}
	Remove()
}

// MaxDocumentSize bounds how much of an embed response HTTPHost keeps.
const MaxDocumentSize = 4 << 20

// HTTPHost loads embed documents with GET requests and keeps their bodies
// in memory for as long as the frame is attached.
type HTTPHost struct {
	Client *http.Client
	Logger observe.Logger
}

// NewContainer returns an empty in-memory container.
func (h HTTPHost) NewContainer(width, height int) (Container, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("prerender: invalid container size %dx%d", width, height)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &httpContainer{
		client: client,
		logger: observe.OrNop(h.Logger),
		width:  width,
		height: height,
		frames: make(map[*httpFrame]struct{}),
	}, nil
}

type httpContainer struct {
	client *http.Client
	logger observe.Logger
	width  int
	height int

	mu      sync.Mutex
	frames  map[*httpFrame]struct{}
	removed bool
}

func (c *httpContainer) Attach(ctx context.Context, id, url string) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return nil, ErrContainerRemoved
	}

	ctx, cancel := context.WithCancel(ctx)
	f := &httpFrame{
		container: c,
		id:        id,
		url:       url,
		loaded:    make(chan struct{}),
		cancel:    cancel,
	}
	c.frames[f] = struct{}{}
	go f.load(ctx)
	return f, nil
}

func (c *httpContainer) Remove() {
	c.mu.Lock()
	frames := make([]*httpFrame, 0, len(c.frames))
	for f := range c.frames {
		frames = append(frames, f)
	}
	c.removed = true
	c.mu.Unlock()

	for _, f := range frames {
		f.Remove()
	}
}

func (c *httpContainer) detach(f *httpFrame) {
	c.mu.Lock()
	delete(c.frames, f)
	c.mu.Unlock()
}

type httpFrame struct {
	container *httpContainer
	id        string
	url       string
	loaded    chan struct{}
	cancel    context.CancelFunc

	mu         sync.Mutex
	doc        []byte
	removeOnce sync.Once
}

func (f *httpFrame) Loaded() <-chan struct{} { return f.loaded }

// Document returns the loaded body, or nil before loading completes.
func (f *httpFrame) Document() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc
}

func (f *httpFrame) Remove() {
	f.removeOnce.Do(func() {
		f.cancel()
		f.container.detach(f)
		f.mu.Lock()
		f.doc = nil
		f.mu.Unlock()
	})
}

func (f *httpFrame) load(ctx context.Context) {
	doc, err := f.fetch(ctx)
	if err != nil {
		f.container.logger.Debug(ctx, "embed prerender failed",
			observe.F("card_id", f.id),
			observe.F("url", f.url),
			observe.Err(err),
		)
		return
	}

	f.mu.Lock()
	f.doc = doc
	f.mu.Unlock()
	close(f.loaded)
}

// fetch treats any complete response as a finished load, as a browser frame
// does for error pages.
func (f *httpFrame) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.container.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize))
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-watch/internal/clock"
	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/dataset"
	"github.com/JakeFAU/storefront-watch/internal/extract"
	"github.com/JakeFAU/storefront-watch/internal/frontier"
	"github.com/JakeFAU/storefront-watch/internal/notify"
	queuemem "github.com/JakeFAU/storefront-watch/internal/queue/memory"
	"github.com/JakeFAU/storefront-watch/internal/snapshot"
	snapmem "github.com/JakeFAU/storefront-watch/internal/snapshot/memory"
	blobmem "github.com/JakeFAU/storefront-watch/internal/storage/memory"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakePage behaves like a static page: scripts are unsupported.
type fakePage struct {
	url        string
	html       string
	screenshot []byte
	shotErr    error
	closed     bool
}

func (p *fakePage) URL() string                                 { return p.url }
func (p *fakePage) HTML(context.Context) (string, error)        { return p.html, nil }
func (p *fakePage) Evaluate(context.Context, string, any) error { return crawler.ErrUnsupported }
func (p *fakePage) Close() error                                { p.closed = true; return nil }

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	if p.screenshot == nil {
		return nil, crawler.ErrUnsupported
	}
	return p.screenshot, nil
}

type fakeBrowser struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	shots   []byte
	block   bool
	opened  []crawler.FetchRequest
	pagesBy []*fakePage
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{pages: map[string]string{}, errs: map[string]error{}}
}

func (b *fakeBrowser) Open(ctx context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	b.mu.Lock()
	b.opened = append(b.opened, req)
	html, ok := b.pages[req.URL]
	err := b.errs[req.URL]
	block := b.block
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("page %s returned status 404", req.URL)
	}
	p := &fakePage{url: req.URL, html: html, screenshot: b.shots}
	b.mu.Lock()
	b.pagesBy = append(b.pagesBy, p)
	b.mu.Unlock()
	return p, nil
}

func (b *fakeBrowser) Close() error { return nil }

func (b *fakeBrowser) requests() []crawler.FetchRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]crawler.FetchRequest(nil), b.opened...)
}

type recordingSink struct {
	mu     sync.Mutex
	name   string
	err    error
	events []notify.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, e notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "evt-1", nil }

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

type harness struct {
	browser  *fakeBrowser
	store    crawler.SnapshotStore
	output   *dataset.Memory
	frontier *frontier.Manager
	blobs    *blobmem.BlobStore
	orch     *Orchestrator
}

type harnessOpts struct {
	cfg      Config
	frontier frontier.Options
	store    crawler.SnapshotStore
	sinks    []notify.Sink
	browser  *fakeBrowser
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	if opts.store == nil {
		opts.store = snapmem.New()
	}
	if opts.browser == nil {
		opts.browser = newFakeBrowser()
	}
	clk := clock.NewManual(testNow)
	q := queuemem.NewQueue()
	f := frontier.New(q, opts.frontier, nil)
	engine, err := snapshot.New(opts.store, "", nil)
	require.NoError(t, err)
	out := dataset.NewMemory()
	blobs := blobmem.NewBlobStore()

	var dispatcher *notify.Dispatcher
	if len(opts.sinks) > 0 {
		dispatcher = notify.NewDispatcher(opts.sinks, staticIDs{}, clk, nil)
	}
	if opts.cfg.Concurrency == 0 {
		opts.cfg.Concurrency = 2
	}
	orch, err := New(opts.cfg, Deps{
		Browser:    opts.browser,
		Queue:      q,
		Frontier:   f,
		Pipeline:   extract.New(extract.Options{}, clk, nil),
		Snapshots:  engine,
		Dispatcher: dispatcher,
		Blobs:      blobs,
		Output:     out,
		Clock:      clk,
	})
	require.NoError(t, err)
	return &harness{browser: opts.browser, store: opts.store, output: out, frontier: f, blobs: blobs, orch: orch}
}

func (h *harness) run(t *testing.T, seeds Seeds) frontier.Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := SeedFrontier(ctx, h.frontier, seeds)
	require.NoError(t, err)
	stats, err := h.orch.Run(ctx)
	require.NoError(t, err)
	return stats
}

func productHTML(sku string, price float64, availability string) string {
	return `<html><head><script type="application/ld+json">{
  "@type": "Product", "name": "Item ` + sku + `", "sku": "` + sku + `",
  "offers": {"price": "` + strconv.FormatFloat(price, 'f', 2, 64) + `", "priceCurrency": "USD", "availability": "https://schema.org/` + availability + `"}
}</script></head><body><h1>Item ` + sku + `</h1></body></html>`
}

func TestRunFirstSeenThenUnchanged(t *testing.T) {
	t.Parallel()

	store := snapmem.New()
	sink := &recordingSink{name: "webhook"}
	url := "https://shop.example.com/product/1234567"

	first := newHarness(t, harnessOpts{store: store, sinks: []notify.Sink{sink}})
	first.browser.pages[url] = productHTML("SKU-1", 25, "InStock")
	first.run(t, Seeds{ProductURLs: []string{url}})

	recs := first.output.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "SKU-1", recs[0].ProductID)
	assert.True(t, recs[0].DetectedChanges.FirstSeen)
	require.NotNil(t, recs[0].Price.Currency)
	assert.Equal(t, "USD", *recs[0].Price.Currency)
	assert.Nil(t, recs[0].ScreenshotKey)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, notify.EventFirstSeen, sink.events[0].EventType)

	second := newHarness(t, harnessOpts{store: store, sinks: []notify.Sink{sink}})
	second.browser.pages[url] = productHTML("SKU-1", 25, "InStock")
	second.run(t, Seeds{ProductURLs: []string{url}})

	recs = second.output.Records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].DetectedChanges.IsEmpty())
	assert.Equal(t, 1, sink.count(), "unchanged product must not notify")
}

func TestRunDetectsPriceAndAvailabilityChange(t *testing.T) {
	t.Parallel()

	store := snapmem.New()
	url := "https://shop.example.com/product/7654321"

	h := newHarness(t, harnessOpts{store: store})
	h.browser.pages[url] = productHTML("SKU-2", 25, "InStock")
	h.run(t, Seeds{ProductURLs: []string{url}})

	sink := &recordingSink{name: "webhook"}
	h2 := newHarness(t, harnessOpts{store: store, sinks: []notify.Sink{sink}})
	h2.browser.pages[url] = productHTML("SKU-2", 20, "OutOfStock")
	h2.run(t, Seeds{ProductURLs: []string{url}})

	recs := h2.output.Records()
	require.Len(t, recs, 1)
	cs := recs[0].DetectedChanges
	require.NotNil(t, cs.Price)
	require.NotNil(t, cs.Price.From)
	assert.InDelta(t, 25.0, *cs.Price.From, 1e-9)
	assert.InDelta(t, 20.0, cs.Price.To, 1e-9)
	require.NotNil(t, cs.Availability)
	assert.Equal(t, crawler.OutOfStock, cs.Availability.To)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, notify.EventChanged, sink.events[0].EventType)
}

func TestRunListingDiscoversProducts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{cfg: Config{ScrollSteps: 3, AcceptLanguage: "de-DE,de;q=0.9"}})
	seller := "https://shop.example.com/@deskco"
	h.browser.pages[seller] = `<html><body>
<a href="/product/1111111?src=grid">A</a>
<a href="/product/1111111?src=carousel">A again</a>
<a href="https://shop.example.com/product/2222222">B</a>
<a href="/@deskco/video/3333333">video</a>
<a href="https://elsewhere.example.org/product/4444444">offsite</a>
<a href="/about">about</a>
</body></html>`
	h.browser.pages["https://shop.example.com/product/1111111?src=grid"] = productHTML("A", 10, "InStock")
	h.browser.pages["https://shop.example.com/product/2222222"] = productHTML("B", 12, "InStock")

	stats := h.run(t, Seeds{SellerHandles: []string{"@deskco"}, BaseURL: "https://shop.example.com/"})

	recs := h.output.Records()
	require.Len(t, recs, 2)
	ids := []string{recs[0].ProductID, recs[1].ProductID}
	assert.ElementsMatch(t, []string{"A", "B"}, ids)
	assert.Equal(t, int64(3), stats.Requests)
	assert.Equal(t, int64(2), stats.Emitted)
	assert.Empty(t, h.output.Errors())

	for _, req := range h.browser.requests() {
		assert.Equal(t, "de-DE,de;q=0.9", req.Headers.Get("Accept-Language"))
	}
}

func TestRunDiscoveryCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{frontier: frontier.Options{MaxLinksPerPage: 20}})
	listing := "https://shop.example.com/c/lamps"
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 500; i++ {
		url := fmt.Sprintf("https://shop.example.com/product/%d", 1000000+i)
		fmt.Fprintf(&b, `<a href="%s">p</a>`, url)
		h.browser.pages[url] = productHTML(fmt.Sprint(i), 1, "InStock")
	}
	b.WriteString("</body></html>")
	h.browser.pages[listing] = b.String()

	stats := h.run(t, Seeds{CategoryURLs: []string{listing}})
	assert.Len(t, h.output.Records(), 20)
	assert.Equal(t, int64(480), stats.Capped)
}

func TestRunAcquisitionFailureBecomesErrorRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	ok := "https://shop.example.com/product/5555555"
	bad := "https://shop.example.com/product/6666666"
	h.browser.pages[ok] = productHTML("OK", 5, "InStock")
	h.browser.errs[bad] = errors.New("net::ERR_CONNECTION_RESET")

	h.run(t, Seeds{ProductURLs: []string{bad, ok}})

	require.Len(t, h.output.Records(), 1)
	errs := h.output.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "error", errs[0].Type)
	assert.Equal(t, bad, errs[0].URL)
	assert.Equal(t, crawler.RoleProduct, errs[0].Role)
	assert.Equal(t, crawler.ErrorKindAcquisition, errs[0].ErrorKind)
	assert.Contains(t, errs[0].ErrorMessage, "ERR_CONNECTION_RESET")
	assert.Equal(t, testNow, errs[0].Timestamp)
}

func TestRunPersistenceFailureAbandonsRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{store: failingStore{}})
	url := "https://shop.example.com/product/8888888"
	h.browser.pages[url] = productHTML("P", 5, "InStock")

	stats := h.run(t, Seeds{ProductURLs: []string{url}})

	assert.Empty(t, h.output.Records())
	errs := h.output.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, crawler.ErrorKindPersistence, errs[0].ErrorKind)
	assert.Zero(t, stats.Emitted)
}

func TestRunStopsAtItemBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{cfg: Config{Concurrency: 1}, frontier: frontier.Options{MaxItems: 2}})
	var urls []string
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://shop.example.com/product/%d", 9000000+i)
		h.browser.pages[url] = productHTML(fmt.Sprint(i), 1, "InStock")
		urls = append(urls, url)
	}

	stats := h.run(t, Seeds{ProductURLs: urls})
	assert.Len(t, h.output.Records(), 2)
	assert.Equal(t, int64(2), stats.Emitted)
}

func TestRunStopsAtRequestBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{cfg: Config{Concurrency: 1}, frontier: frontier.Options{MaxRequests: 1}})
	urls := []string{"https://shop.example.com/product/1000001", "https://shop.example.com/product/1000002"}
	for i, u := range urls {
		h.browser.pages[u] = productHTML(fmt.Sprint(i), 1, "InStock")
	}

	stats := h.run(t, Seeds{ProductURLs: urls})
	assert.Len(t, h.output.Records(), 1)
	assert.Equal(t, int64(1), stats.Requests)
}

func TestRunQueryStringDuplicatesProcessedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	a := "https://shop.example.com/product/4242424?ref=a"
	b := "https://shop.example.com/product/4242424?ref=b"
	h.browser.pages[a] = productHTML("X", 1, "InStock")
	h.browser.pages[b] = productHTML("X", 1, "InStock")

	stats := h.run(t, Seeds{ProductURLs: []string{a, b}})
	assert.Len(t, h.output.Records(), 1)
	assert.Len(t, h.browser.requests(), 1)
	assert.Equal(t, int64(1), stats.Duplicates)
}

func TestRunScreenshots(t *testing.T) {
	t.Parallel()

	browser := newFakeBrowser()
	browser.shots = []byte("PNG")
	h := newHarness(t, harnessOpts{cfg: Config{CaptureScreenshots: true}, browser: browser})
	url := "https://shop.example.com/product/3141592"
	h.browser.pages[url] = productHTML("SHOT", 1, "InStock")

	h.run(t, Seeds{ProductURLs: []string{url}})

	recs := h.output.Records()
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].ScreenshotKey)
	assert.Equal(t, "screenshots/SHOT.png", *recs[0].ScreenshotKey)
	data, ok := h.blobs.Object("screenshots/SHOT.png")
	require.True(t, ok)
	assert.Equal(t, []byte("PNG"), data)
}

func TestRunScreenshotFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{cfg: Config{CaptureScreenshots: true}})
	url := "https://shop.example.com/product/2718281"
	h.browser.pages[url] = productHTML("NOSHOT", 1, "InStock")

	h.run(t, Seeds{ProductURLs: []string{url}})

	recs := h.output.Records()
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].ScreenshotKey)
	assert.Empty(t, h.output.Errors())
	assert.Zero(t, h.blobs.Len())
}

func TestRunSinkFailureDoesNotFailStep(t *testing.T) {
	t.Parallel()

	chat := &recordingSink{name: "chat", err: errors.New("dial tcp: connection refused")}
	webhook := &recordingSink{name: "webhook"}
	h := newHarness(t, harnessOpts{sinks: []notify.Sink{chat, webhook}})
	url := "https://shop.example.com/product/1618033"
	h.browser.pages[url] = productHTML("ISO", 3, "InStock")

	stats := h.run(t, Seeds{ProductURLs: []string{url}})

	assert.Len(t, h.output.Records(), 1)
	assert.Empty(t, h.output.Errors())
	assert.Equal(t, 1, chat.count())
	assert.Equal(t, 1, webhook.count())
	assert.Equal(t, int64(1), stats.Emitted)
}

func TestHandleTimeoutIsAcquisitionError(t *testing.T) {
	t.Parallel()

	browser := newFakeBrowser()
	browser.block = true
	h := newHarness(t, harnessOpts{browser: browser})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out := h.orch.Handle(ctx, crawler.CrawlRequest{URL: "https://shop.example.com/@slow", Role: crawler.RoleSeller})

	assert.Equal(t, crawler.ErrorKindAcquisition, out.ErrorKind)
	errs := h.output.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, crawler.RoleSeller, errs[0].Role)
	assert.Contains(t, errs[0].ErrorMessage, "deadline exceeded")
}

func TestHandleUnknownRoleIsProduct(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	url := "https://shop.example.com/product/1414213"
	h.browser.pages[url] = productHTML("ROOT", 2, "InStock")

	out := h.orch.Handle(context.Background(), crawler.CrawlRequest{URL: url, Role: "mystery"})
	assert.True(t, out.Emitted)
	assert.True(t, out.Changes.FirstSeen)
	for _, p := range h.browser.pagesBy {
		assert.True(t, p.closed)
	}
}

func TestRunCanceledByParent(t *testing.T) {
	t.Parallel()

	browser := newFakeBrowser()
	browser.block = true
	h := newHarness(t, harnessOpts{cfg: Config{RequestTimeout: 20 * time.Millisecond, Concurrency: 1}, browser: browser})
	_, err := SeedFrontier(context.Background(), h.frontier, Seeds{ProductURLs: []string{
		"https://shop.example.com/product/1000003",
		"https://shop.example.com/product/1000004",
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.orch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	h := newHarness(t, harnessOpts{})
	deps := h.orch.deps
	deps.Blobs = nil
	_, err = New(Config{CaptureScreenshots: true}, deps)
	require.ErrorContains(t, err, "blob store")
}

func TestErrorKindMapping(t *testing.T) {
	t.Parallel()

	base := errors.New("x")
	assert.Equal(t, crawler.ErrorKindAcquisition, errorKind(fmt.Errorf("wrap: %w", acquisitionError{base})))
	assert.Equal(t, crawler.ErrorKindPersistence, errorKind(persistenceError{base}))
	assert.Equal(t, crawler.ErrorKindExtraction, errorKind(extractionError{base}))
	assert.Equal(t, crawler.ErrorKindExtraction, errorKind(base))
}

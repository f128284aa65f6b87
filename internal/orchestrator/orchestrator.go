// Package orchestrator drives a crawl: a bounded pool of workers pulls
// requests from the queue and runs each through the role state machine.
//
// PRODUCT requests are terminal. The page is opened, a consent banner is
// dismissed if one shows, the extraction pipeline builds a record, an
// optional screenshot is stored, the snapshot engine computes the change set,
// and the record is emitted and dispatched to the notification sinks.
// SELLER, CATEGORY and KEYWORD requests are listings: the page is scrolled to
// load lazy tiles and the product links found on it go back through the
// frontier as PRODUCT requests.
//
// A failed request never stops the crawl; it becomes an error record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/storefront-watch/internal/browser"
	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/extract"
	"github.com/JakeFAU/storefront-watch/internal/frontier"
	"github.com/JakeFAU/storefront-watch/internal/locator"
	"github.com/JakeFAU/storefront-watch/internal/metrics"
	"github.com/JakeFAU/storefront-watch/internal/notify"
	"github.com/JakeFAU/storefront-watch/internal/snapshot"
	"github.com/JakeFAU/storefront-watch/internal/storage"
)

const defaultRequestTimeout = 90 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/storefront-watch/internal/orchestrator")

// Config tunes the worker pool and per-request behavior.
type Config struct {
	Concurrency    int
	RequestTimeout time.Duration
	ScrollSteps    int
	// ScrollPause is the wait between scroll steps; zero scrolls without pausing.
	ScrollPause        time.Duration
	CaptureScreenshots bool
	AcceptLanguage     string
}

// Deps are the collaborators a crawl runs against. Blobs may be nil when
// screenshots are off; Dispatcher may be nil when no sink is configured.
type Deps struct {
	Browser    crawler.Browser
	Queue      crawler.Queue
	Frontier   *frontier.Manager
	Pipeline   *extract.Pipeline
	Snapshots  *snapshot.Engine
	Dispatcher *notify.Dispatcher
	Blobs      crawler.BlobStore
	Output     crawler.Output
	Clock      crawler.Clock
	Logger     *zap.Logger
}

// Outcome describes what handling one request produced.
type Outcome struct {
	Emitted       bool
	Discovered    int
	Changes       crawler.ChangeSet
	ErrorKind     crawler.ErrorKind
	BudgetReached bool
}

// Orchestrator owns one crawl run.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Browser == nil:
		return nil, errors.New("browser is required")
	case deps.Queue == nil:
		return nil, errors.New("queue is required")
	case deps.Frontier == nil:
		return nil, errors.New("frontier is required")
	case deps.Pipeline == nil:
		return nil, errors.New("extraction pipeline is required")
	case deps.Snapshots == nil:
		return nil, errors.New("snapshot engine is required")
	case deps.Output == nil:
		return nil, errors.New("output is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case cfg.CaptureScreenshots && deps.Blobs == nil:
		return nil, errors.New("blob store is required when screenshots are enabled")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: deps.Logger.Named("orchestrator")}, nil
}

// Run processes requests until the queue is exhausted, a budget is reached,
// or ctx is canceled. Stopping only prevents new requests from starting;
// in-flight requests finish on their own timeout. Budget and exhaustion are
// normal termination and return a nil error.
func (o *Orchestrator) Run(ctx context.Context) (frontier.Stats, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var stopOnce sync.Once
	halt := func(reason string) {
		stopOnce.Do(func() {
			o.logger.Info("stopping crawl", zap.String("reason", reason))
			stop()
		})
	}

	g := new(errgroup.Group)
	for i := 0; i < o.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return o.worker(runCtx, worker, halt)
		})
	}
	err := g.Wait()

	stats := o.deps.Frontier.Stats()
	o.logger.Info("crawl finished",
		zap.Int64("requests", stats.Requests),
		zap.Int64("emitted", stats.Emitted),
		zap.Int64("enqueued", stats.Enqueued),
		zap.Int64("duplicates", stats.Duplicates),
	)
	if err != nil {
		return stats, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stats, fmt.Errorf("crawl interrupted: %w", ctxErr)
	}
	return stats, nil
}

func (o *Orchestrator) worker(ctx context.Context, id int, halt func(string)) error {
	logger := o.logger.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return nil
		}
		req, err := o.deps.Queue.Dequeue(ctx)
		switch {
		case errors.Is(err, crawler.ErrQueueExhausted):
			halt("queue exhausted")
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("worker %d dequeue: %w", id, err)
		}

		if !o.deps.Frontier.AcquireRequest() {
			o.deps.Queue.Done()
			halt("request budget reached")
			return nil
		}

		// The request outlives run cancellation so a page is never abandoned
		// mid-extraction; it is bounded by the request timeout instead.
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RequestTimeout)
		metrics.IncActiveWorkers()
		out := o.Handle(reqCtx, req)
		metrics.DecActiveWorkers()
		cancel()
		o.deps.Queue.Done()

		logger.Debug("request handled",
			zap.String("url", req.URL),
			zap.String("role", string(req.Role)),
			zap.Bool("emitted", out.Emitted),
			zap.Int("discovered", out.Discovered),
			zap.String("error_kind", string(out.ErrorKind)),
		)
		if out.BudgetReached || o.deps.Frontier.BudgetReached() {
			halt("item budget reached")
			return nil
		}
	}
}

// Handle runs one request through the state machine. Failures are written as
// error records and reported through Outcome.ErrorKind.
func (o *Orchestrator) Handle(ctx context.Context, req crawler.CrawlRequest) Outcome {
	start := time.Now()
	req.Role = crawler.ParseRole(string(req.Role))
	ctx, span := tracer.Start(ctx, "orchestrator.handle", trace.WithAttributes(
		attribute.String("crawl.url", req.URL),
		attribute.String("crawl.role", string(req.Role)),
	))
	defer span.End()

	var (
		out Outcome
		err error
	)
	if req.Role.IsListing() {
		out, err = o.handleListing(ctx, req)
	} else {
		out, err = o.handleProduct(ctx, req)
	}

	status := "ok"
	if err != nil {
		status = "error"
		out.ErrorKind = errorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(out.ErrorKind))
		o.emitError(ctx, req, out.ErrorKind, err)
	}
	span.SetAttributes(attribute.Bool("crawl.emitted", out.Emitted), attribute.Int("crawl.discovered", out.Discovered))
	metrics.ObserveRequest(string(req.Role), status, time.Since(start))
	return out
}

func (o *Orchestrator) handleProduct(ctx context.Context, req crawler.CrawlRequest) (Outcome, error) {
	var out Outcome
	page, err := o.open(ctx, req)
	if err != nil {
		return out, err
	}
	defer o.closePage(page)

	if err := browser.DismissConsent(ctx, page); err != nil {
		o.logger.Debug("consent dismissal skipped", zap.String("url", req.URL), zap.Error(err))
	}

	doc, err := o.document(ctx, page)
	if err != nil {
		return out, err
	}
	state, err := extract.CollectState(ctx, page, doc)
	if err != nil {
		o.logger.Debug("live state unavailable", zap.String("url", req.URL), zap.Error(err))
	}
	rec := o.deps.Pipeline.Extract(extract.Input{URL: pageURL(page, req), State: state, Doc: doc})

	if o.cfg.CaptureScreenshots {
		rec.ScreenshotKey = o.captureScreenshot(ctx, page, rec.ProductID)
	}

	prev, err := o.deps.Snapshots.Previous(ctx, rec.ProductID)
	if err != nil {
		return out, persistenceError{err}
	}
	rec.DetectedChanges = snapshot.Changes(prev, rec)
	if err := o.deps.Snapshots.Commit(ctx, rec.ProductID, rec); err != nil {
		return out, persistenceError{err}
	}
	if err := o.deps.Output.WriteRecord(ctx, rec); err != nil {
		return out, persistenceError{fmt.Errorf("write record: %w", err)}
	}
	out.Emitted = true
	out.Changes = rec.DetectedChanges
	metrics.ObserveProduct(rec.URL, changeLabel(rec.DetectedChanges))

	if o.deps.Dispatcher != nil {
		res := o.deps.Dispatcher.Dispatch(ctx, rec)
		if res.Fired && len(res.Failed) > 0 {
			o.logger.Info("some notification sinks failed",
				zap.String("product_id", rec.ProductID),
				zap.Strings("delivered", res.Delivered),
				zap.Int("failed", len(res.Failed)),
			)
		}
	}

	_, out.BudgetReached = o.deps.Frontier.IncrementEmitted()
	return out, nil
}

func (o *Orchestrator) handleListing(ctx context.Context, req crawler.CrawlRequest) (Outcome, error) {
	var out Outcome
	page, err := o.open(ctx, req)
	if err != nil {
		return out, err
	}
	defer o.closePage(page)

	if err := browser.DismissConsent(ctx, page); err != nil {
		o.logger.Debug("consent dismissal skipped", zap.String("url", req.URL), zap.Error(err))
	}
	if o.cfg.ScrollSteps > 0 {
		if err := browser.Scroll(ctx, page, o.cfg.ScrollSteps, o.cfg.ScrollPause); err != nil {
			o.logger.Debug("scroll incomplete", zap.String("url", req.URL), zap.Error(err))
		}
	}

	doc, err := o.document(ctx, page)
	if err != nil {
		return out, err
	}
	links := ProductLinks(doc, pageURL(page, req))
	added, err := o.deps.Frontier.Discover(ctx, req, links)
	out.Discovered = added
	if err != nil {
		return out, persistenceError{err}
	}
	o.logger.Debug("listing scanned",
		zap.String("url", req.URL),
		zap.Int("candidates", len(links)),
		zap.Int("enqueued", added),
	)
	return out, nil
}

func (o *Orchestrator) open(ctx context.Context, req crawler.CrawlRequest) (crawler.Page, error) {
	headers := http.Header{}
	if o.cfg.AcceptLanguage != "" {
		headers.Set("Accept-Language", o.cfg.AcceptLanguage)
	}
	page, err := o.deps.Browser.Open(ctx, crawler.FetchRequest{URL: req.URL, Role: req.Role, Headers: headers})
	if err != nil {
		return nil, acquisitionError{fmt.Errorf("open page: %w", err)}
	}
	return page, nil
}

func (o *Orchestrator) document(ctx context.Context, page crawler.Page) (*goquery.Document, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, acquisitionError{fmt.Errorf("read page html: %w", err)}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, extractionError{fmt.Errorf("parse page html: %w", err)}
	}
	return doc, nil
}

func (o *Orchestrator) captureScreenshot(ctx context.Context, page crawler.Page, productID string) *string {
	png, err := page.Screenshot(ctx)
	if err != nil {
		o.logger.Debug("screenshot skipped", zap.String("product_id", productID), zap.Error(err))
		return nil
	}
	key, err := storage.SaveScreenshot(ctx, o.deps.Blobs, productID, png)
	if err != nil {
		o.logger.Warn("screenshot not stored", zap.String("product_id", productID), zap.Error(err))
		return nil
	}
	return &key
}

func (o *Orchestrator) closePage(page crawler.Page) {
	if err := page.Close(); err != nil {
		o.logger.Debug("page close failed", zap.String("url", page.URL()), zap.Error(err))
	}
}

func (o *Orchestrator) emitError(ctx context.Context, req crawler.CrawlRequest, kind crawler.ErrorKind, err error) {
	o.logger.Warn("request failed",
		zap.String("url", req.URL),
		zap.String("role", string(req.Role)),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	)
	rec := crawler.NewErrorRecord(req, kind, err, o.deps.Clock.Now())
	// The request context may already be past its deadline.
	if werr := o.deps.Output.WriteError(context.WithoutCancel(ctx), rec); werr != nil {
		o.logger.Error("error record not written", zap.String("url", req.URL), zap.Error(werr))
	}
}

func pageURL(page crawler.Page, req crawler.CrawlRequest) string {
	if u := page.URL(); u != "" {
		return u
	}
	return req.URL
}

func changeLabel(cs crawler.ChangeSet) string {
	switch {
	case cs.FirstSeen:
		return "first_seen"
	case cs.IsEmpty():
		return "unchanged"
	default:
		return "changed"
	}
}

// AcceptLanguage resolves the Accept-Language header for a run: an explicit
// value wins, otherwise it is derived from the region code.
func AcceptLanguage(explicit, region string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	return locator.AcceptLanguage(region)
}

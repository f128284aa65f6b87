// Package static implements crawler.Browser over plain HTTP with Colly.
// Pages are never executed, so embedded state is only what the server sent.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/browser"
	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

// Browser fetches documents with a shared Colly collector.
type Browser struct {
	cfg           browser.Config
	gate          *browser.Gate
	logger        *zap.Logger
	baseCollector *colly.Collector
}

// New builds a static Browser.
func New(cfg browser.Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Browser{
		cfg:           cfg,
		gate:          browser.NewGate(cfg.MaxParallel, cfg.DomainQPS),
		logger:        logger.Named("static"),
		baseCollector: c,
	}
}

// Close is a no-op; idle connections are reclaimed by the transport.
func (b *Browser) Close() error { return nil }

// Open fetches request.URL and returns the response body as a page.
func (b *Browser) Open(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	release, err := b.gate.Acquire(ctx, request.URL)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		page     *Page
		fetchErr error
	)
	collector := b.baseCollector.Clone()
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	collector.SetRequestTimeout(b.cfg.NavTimeout())

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		page = &Page{url: r.Request.URL.String(), html: string(r.Body)}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			fetchErr = browser.CheckStatus(request.URL, r.StatusCode)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		var statusErr *browser.StatusError
		switch {
		case errors.As(fetchErr, &statusErr):
			return nil, fetchErr
		case err != nil:
			return nil, fmt.Errorf("colly visit failed: %w", err)
		case fetchErr != nil:
			return nil, fmt.Errorf("colly response failed: %w", fetchErr)
		case page == nil:
			return nil, fmt.Errorf("no response for %s", request.URL)
		}
	}
	b.logger.Debug("page fetched", zap.String("url", page.url), zap.Int("bytes", len(page.html)))
	return page, nil
}

// Page is a fetched, unexecuted document.
type Page struct {
	url  string
	html string
}

// URL returns the final URL after redirects.
func (p *Page) URL() string { return p.url }

// HTML returns the raw response body.
func (p *Page) HTML(context.Context) (string, error) { return p.html, nil }

// Evaluate is unsupported on static pages.
func (p *Page) Evaluate(context.Context, string, any) error { return crawler.ErrUnsupported }

// Screenshot is unsupported on static pages.
func (p *Page) Screenshot(context.Context) ([]byte, error) { return nil, crawler.ErrUnsupported }

// Close is a no-op.
func (p *Page) Close() error { return nil }

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Package browser holds what every page driver shares: the concurrency and
// per-domain politeness gate, and the best-effort page actions (consent
// dismissal, lazy-load scrolling) the orchestrator runs against any Page.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/storefront-watch/internal/metrics"
)

// Config is the driver-independent browser configuration.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	DomainQPS         float64
	// BrowserBin overrides the browser executable where the driver supports it.
	BrowserBin string
}

// DefaultNavigationTimeout applies when Config.NavigationTimeout is unset.
const DefaultNavigationTimeout = 30 * time.Second

// NavTimeout returns the configured navigation timeout or the default.
func (c Config) NavTimeout() time.Duration {
	if c.NavigationTimeout > 0 {
		return c.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

// Gate bounds concurrent pages and paces requests per host.
type Gate struct {
	slots    chan struct{}
	qps      float64
	limiters sync.Map
}

// NewGate builds a Gate. maxParallel <= 0 disables the slot bound and
// domainQPS <= 0 disables pacing.
func NewGate(maxParallel int, domainQPS float64) *Gate {
	g := &Gate{qps: domainQPS}
	if maxParallel > 0 {
		g.slots = make(chan struct{}, maxParallel)
	}
	return g
}

// Acquire waits for a free page slot and the host's rate budget. The returned
// release func must be called once the page is closed.
func (g *Gate) Acquire(ctx context.Context, rawURL string) (func(), error) {
	release := func() {}
	if g.slots != nil {
		select {
		case g.slots <- struct{}{}:
			var once sync.Once
			release = func() { once.Do(func() { <-g.slots }) }
		case <-ctx.Done():
			return nil, fmt.Errorf("page slot wait canceled: %w", ctx.Err())
		}
	}
	if err := g.waitDomain(ctx, rawURL); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (g *Gate) waitDomain(ctx context.Context, rawURL string) error {
	if g.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := g.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(g.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// StatusError reports a document response the crawler should not extract from.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("page %s returned status %d", e.URL, e.Code)
}

// CheckStatus returns a *StatusError for 4xx and 5xx document responses.
// A zero code means the driver could not observe one and is accepted.
func CheckStatus(rawURL string, code int) error {
	if code >= 400 {
		return &StatusError{URL: rawURL, Code: code}
	}
	return nil
}

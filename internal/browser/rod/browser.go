// Package rodbrowser implements crawler.Browser with go-rod.
package rodbrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/browser"
	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

const statusScript = `(() => {
  const nav = performance.getEntriesByType('navigation')[0];
  return nav && nav.responseStatus ? nav.responseStatus : 0;
})()`

// Browser is a single launched Chrome shared by every page.
type Browser struct {
	cfg      browser.Config
	gate     *browser.Gate
	logger   *zap.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// New launches a local headless browser and connects to it.
func New(cfg browser.Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := launcher.New().Headless(true).Logger(io.Discard)
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &Browser{
		cfg:      cfg,
		gate:     browser.NewGate(cfg.MaxParallel, cfg.DomainQPS),
		logger:   logger.Named("rod"),
		launcher: l,
		browser:  b,
	}, nil
}

// Close disconnects and removes the browser's user data.
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	err := b.browser.Close()
	b.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// Open creates a blank tab, applies headers and navigates.
func (b *Browser) Open(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	release, err := b.gate.Acquire(ctx, request.URL)
	if err != nil {
		return nil, err
	}

	raw, err := b.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		release()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	page := &Page{page: raw, release: release, url: request.URL}

	if err := b.prepare(raw, request); err != nil {
		_ = page.Close()
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout())
	defer cancel()
	if err := raw.Context(navCtx).Navigate(request.URL); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate %s: %w", request.URL, err)
	}
	if err := raw.Context(navCtx).WaitLoad(); err != nil {
		b.logger.Debug("wait load incomplete", zap.String("url", request.URL), zap.Error(err))
	}

	var status int
	if err := page.Evaluate(ctx, statusScript, &status); err == nil {
		if err := browser.CheckStatus(request.URL, status); err != nil {
			_ = page.Close()
			return nil, err
		}
	}
	if info, err := raw.Info(); err == nil && info.URL != "" {
		page.url = info.URL
	}
	b.logger.Debug("page opened", zap.String("url", page.url), zap.Int("status", status))
	return page, nil
}

func (b *Browser) prepare(page *rod.Page, request crawler.FetchRequest) error {
	lang := request.Headers.Get("Accept-Language")
	if b.cfg.UserAgent != "" || lang != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      b.userAgent(),
			AcceptLanguage: lang,
		})
		if err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if pairs := headerPairs(request.Headers); len(pairs) > 0 {
		if _, err := page.SetExtraHeaders(pairs); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}
	return nil
}

func (b *Browser) userAgent() string {
	if b.cfg.UserAgent != "" {
		return b.cfg.UserAgent
	}
	return defaultUserAgent
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// headerPairs flattens headers into the key, value list rod expects.
// Accept-Language is applied through the user-agent override instead.
func headerPairs(h map[string][]string) []string {
	var pairs []string
	for key, values := range h {
		if strings.EqualFold(key, "Accept-Language") || len(values) == 0 {
			continue
		}
		pairs = append(pairs, key, strings.Join(values, ", "))
	}
	return pairs
}

// Page is one rod tab.
type Page struct {
	page    *rod.Page
	release func()
	url     string

	closeOnce sync.Once
}

// URL returns the final document URL.
func (p *Page) URL() string { return p.url }

// HTML returns the serialized DOM.
func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Evaluate runs script in the page. The result crosses the protocol as a JSON
// string and is decoded into out.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	res, err := p.page.Context(ctx).Eval(wrapScript(script))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	raw := res.Value.Str()
	if raw == "" || out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the tab and frees its slot.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.page != nil {
			err = p.page.Close()
		}
		if p.release != nil {
			p.release()
		}
	})
	if err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

func wrapScript(script string) string {
	return "() => { const v = (" + strings.TrimSpace(script) + "); return v === undefined ? '' : JSON.stringify(v); }"
}

// Package frontier owns the crawl's pending and seen request state and its
// global budgets. All mutation goes through Manager's methods.
package frontier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

const defaultMaxLinksPerPage = 50

// Options bounds the frontier. Zero budgets mean unlimited.
type Options struct {
	MaxLinksPerPage int
	MaxItems        int64
	MaxRequests     int64
}

// Stats is a point-in-time view of the frontier counters.
type Stats struct {
	Seen       int   `json:"seen"`
	Enqueued   int64 `json:"enqueued"`
	Duplicates int64 `json:"duplicates"`
	Capped     int64 `json:"capped"`
	Requests   int64 `json:"requests"`
	Emitted    int64 `json:"emitted"`
}

// Manager is the process-lifetime frontier. The seen-set only grows; it is
// not persisted, so a fresh run revisits products to detect changes.
type Manager struct {
	queue  crawler.Queue
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}

	enqueued   atomic.Int64
	duplicates atomic.Int64
	capped     atomic.Int64
	requests   atomic.Int64
	emitted    atomic.Int64
}

// New builds a Manager over queue.
func New(queue crawler.Queue, opts Options, logger *zap.Logger) *Manager {
	if opts.MaxLinksPerPage <= 0 {
		opts.MaxLinksPerPage = defaultMaxLinksPerPage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		queue:  queue,
		opts:   opts,
		logger: logger.Named("frontier"),
		seen:   make(map[string]struct{}),
	}
}

// Key is the dedup identity of a request. Product pages collapse to their
// path identifier (or canonical URL hash); listing pages keep their query
// string because it carries the search term or filter.
func Key(role crawler.Role, rawURL string) string {
	if role.IsListing() {
		u := strings.TrimSpace(rawURL)
		if i := strings.IndexByte(u, '#'); i >= 0 {
			u = u[:i]
		}
		return string(role) + ":" + u
	}
	return string(crawler.RoleProduct) + ":" + locator.DedupKey(rawURL)
}

// ShouldEnqueue atomically checks the seen-set and inserts the request's key.
// It returns false when the key was already present.
func (m *Manager) ShouldEnqueue(role crawler.Role, rawURL string) bool {
	key := Key(role, rawURL)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false
	}
	m.seen[key] = struct{}{}
	return true
}

// MarkSeen records a request as seen without enqueueing it.
func (m *Manager) MarkSeen(role crawler.Role, rawURL string) {
	key := Key(role, rawURL)
	m.mu.Lock()
	m.seen[key] = struct{}{}
	m.mu.Unlock()
}

// Seed enqueues the initial requests for one role. Seeds are deduplicated but
// not capped.
func (m *Manager) Seed(ctx context.Context, urls []string, role crawler.Role) (int, error) {
	added := 0
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		ok, err := m.offer(ctx, crawler.CrawlRequest{URL: u, Role: role})
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// Discover enqueues product links found on a listing page, at most
// MaxLinksPerPage new requests per call.
func (m *Manager) Discover(ctx context.Context, parent crawler.CrawlRequest, urls []string) (int, error) {
	added := 0
	for i, u := range urls {
		if added >= m.opts.MaxLinksPerPage {
			m.capped.Add(int64(len(urls) - i))
			m.logger.Debug("discovery batch capped",
				zap.String("url", parent.URL),
				zap.Int("limit", m.opts.MaxLinksPerPage),
				zap.Int("candidates", len(urls)),
			)
			break
		}
		req := crawler.CrawlRequest{
			URL:  u,
			Role: crawler.RoleProduct,
			Context: map[string]string{
				"parentUrl":  parent.URL,
				"parentRole": string(parent.Role),
			},
		}
		ok, err := m.offer(ctx, req)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func (m *Manager) offer(ctx context.Context, req crawler.CrawlRequest) (bool, error) {
	if !m.ShouldEnqueue(req.Role, req.URL) {
		m.duplicates.Add(1)
		return false, nil
	}
	if err := m.queue.Enqueue(ctx, req); err != nil {
		return false, fmt.Errorf("enqueue %s: %w", req.URL, err)
	}
	m.enqueued.Add(1)
	return true, nil
}

// AcquireRequest reserves one unit of the request budget. It returns false
// once MaxRequests requests have been acquired.
func (m *Manager) AcquireRequest() bool {
	n := m.requests.Add(1)
	if m.opts.MaxRequests > 0 && n > m.opts.MaxRequests {
		m.requests.Add(-1)
		return false
	}
	return true
}

// IncrementEmitted counts one emitted product and reports whether the item
// budget is now reached.
func (m *Manager) IncrementEmitted() (int64, bool) {
	n := m.emitted.Add(1)
	return n, m.opts.MaxItems > 0 && n >= m.opts.MaxItems
}

// BudgetReached reports whether either global budget is exhausted.
func (m *Manager) BudgetReached() bool {
	if m.opts.MaxItems > 0 && m.emitted.Load() >= m.opts.MaxItems {
		return true
	}
	return m.opts.MaxRequests > 0 && m.requests.Load() >= m.opts.MaxRequests
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	seen := len(m.seen)
	m.mu.Unlock()
	return Stats{
		Seen:       seen,
		Enqueued:   m.enqueued.Load(),
		Duplicates: m.duplicates.Load(),
		Capped:     m.capped.Load(),
		Requests:   m.requests.Load(),
		Emitted:    m.emitted.Load(),
	}
}

package browser

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

// RetryPolicy decides whether a failed page open is attempted again.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy makes up to three attempts with jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
// Client errors other than 429 are final; so is a canceled or expired context.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusTooManyRequests || status.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait before the attempt that follows attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay/2) + jitter(time.Duration(delay)/2)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Retrying wraps a Browser so transient open failures are retried.
type Retrying struct {
	next   crawler.Browser
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry wraps next. A policy allowing at most one attempt returns next
// unchanged.
func WithRetry(next crawler.Browser, policy RetryPolicy, logger *zap.Logger) crawler.Browser {
	if policy.MaxAttempts <= 1 {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger.Named("retry")}
}

// Open implements crawler.Browser.
func (r *Retrying) Open(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	for attempt := 1; ; attempt++ {
		page, err := r.next.Open(ctx, request)
		if err == nil {
			return page, nil
		}
		if !r.policy.ShouldRetry(err, attempt) {
			if attempt > 1 {
				return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return nil, err
		}
		wait := r.policy.Backoff(attempt)
		r.logger.Debug("retrying page open",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry wait canceled: %w", errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}

// Close implements crawler.Browser.
func (r *Retrying) Close() error {
	return r.next.Close()
}

package browser

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

type flakyBrowser struct {
	errs  []error
	calls atomic.Int32
}

func (b *flakyBrowser) Open(context.Context, crawler.FetchRequest) (crawler.Page, error) {
	n := int(b.calls.Add(1)) - 1
	if n < len(b.errs) && b.errs[n] != nil {
		return nil, b.errs[n]
	}
	return &scriptedPage{}, nil
}

func (b *flakyBrowser) Close() error { return nil }

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := fastPolicy()
	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil", nil, 1, false},
		{"generic", errors.New("net::ERR_CONNECTION_RESET"), 1, true},
		{"exhausted", errors.New("reset"), 3, false},
		{"canceled", context.Canceled, 1, false},
		{"deadline", context.DeadlineExceeded, 1, false},
		{"not found", &StatusError{URL: "u", Code: http.StatusNotFound}, 1, false},
		{"throttled", &StatusError{URL: "u", Code: http.StatusTooManyRequests}, 1, true},
		{"server", &StatusError{URL: "u", Code: http.StatusBadGateway}, 1, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt), tc.name)
	}
}

func TestRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestWithRetryRecoversTransientFailure(t *testing.T) {
	t.Parallel()

	inner := &flakyBrowser{errs: []error{errors.New("reset"), &StatusError{URL: "u", Code: 503}}}
	b := WithRetry(inner, fastPolicy(), nil)

	page, err := b.Open(context.Background(), crawler.FetchRequest{URL: "https://shop.example.com/p/1"})
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestWithRetryStopsOnFinalError(t *testing.T) {
	t.Parallel()

	notFound := &StatusError{URL: "u", Code: http.StatusNotFound}
	inner := &flakyBrowser{errs: []error{notFound}}
	_, err := WithRetry(inner, fastPolicy(), nil).Open(context.Background(), crawler.FetchRequest{URL: "u"})
	require.ErrorIs(t, err, notFound)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestWithRetryGivesUp(t *testing.T) {
	t.Parallel()

	boom := errors.New("reset")
	inner := &flakyBrowser{errs: []error{boom, boom, boom, boom}}
	_, err := WithRetry(inner, fastPolicy(), nil).Open(context.Background(), crawler.FetchRequest{URL: "u"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestWithRetrySingleAttemptIsPassthrough(t *testing.T) {
	t.Parallel()

	inner := &flakyBrowser{}
	assert.Same(t, crawler.Browser(inner), WithRetry(inner, RetryPolicy{MaxAttempts: 1}, nil))
}

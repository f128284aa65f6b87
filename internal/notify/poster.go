package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPPoster implements crawler.Poster with net/http.
type HTTPPoster struct {
	client    *http.Client
	userAgent string
}

// NewHTTPPoster builds a poster with the given client timeout.
func NewHTTPPoster(timeout time.Duration, userAgent string) *HTTPPoster {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPPoster{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Post sends body to url and returns the response status code.
func (p *HTTPPoster) Post(ctx context.Context, url, contentType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

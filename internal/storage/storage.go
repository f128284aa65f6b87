// Package storage writes crawl side artifacts (page screenshots) to a blob store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

// ScreenshotContentType is the MIME type of captured screenshots.
const ScreenshotContentType = "image/png"

// ScreenshotKey returns the object key for a product screenshot. Keys are not
// namespaced by capture time, so a new capture replaces the previous one.
func ScreenshotKey(productID string) string {
	return "screenshots/" + productID + ".png"
}

// SaveScreenshot writes png under ScreenshotKey(productID) and returns the key.
func SaveScreenshot(ctx context.Context, store crawler.BlobStore, productID string, png []byte) (string, error) {
	if store == nil {
		return "", fmt.Errorf("blob store is required")
	}
	if len(png) == 0 {
		return "", fmt.Errorf("empty screenshot for %s", productID)
	}
	key := ScreenshotKey(productID)
	if _, err := store.PutObject(ctx, key, ScreenshotContentType, bytes.NewReader(png)); err != nil {
		return "", fmt.Errorf("put screenshot %s: %w", key, err)
	}
	return key, nil
}

// Prefixed places every object of the wrapped store under a fixed prefix.
type Prefixed struct {
	store  crawler.BlobStore
	prefix string
}

// WithPrefix wraps store. An empty prefix returns store unchanged.
func WithPrefix(store crawler.BlobStore, prefix string) crawler.BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return store
	}
	return &Prefixed{store: store, prefix: prefix}
}

// PutObject forwards to the wrapped store with the prefixed path.
func (p *Prefixed) PutObject(ctx context.Context, objectPath string, contentType string, data io.Reader) (string, error) {
	return p.store.PutObject(ctx, path.Join(p.prefix, objectPath), contentType, data)
}

package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrQueueExhausted signals that the work queue is empty and nothing is in flight.
var ErrQueueExhausted = errors.New("queue exhausted")

// ErrUnsupported is returned by page drivers that cannot perform an operation
// (for example script evaluation on a static page).
var ErrUnsupported = errors.New("operation not supported by page driver")

// Browser opens rendered pages. Each call returns an independent page context.
type Browser interface {
	Open(ctx context.Context, request FetchRequest) (Page, error)
	Close() error
}

// Page is a handle on one rendered page.
type Page interface {
	// URL returns the final URL after redirects.
	URL() string
	// HTML returns the current serialized DOM.
	HTML(ctx context.Context) (string, error)
	// Evaluate runs a script expression in the page and decodes its JSON result into out.
	Evaluate(ctx context.Context, script string, out any) error
	// Screenshot captures the viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// SnapshotStore is the key/value persistence collaborator.
// Get returns found=false when no value exists for key.
type SnapshotStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// Queue provides enqueue/dequeue semantics for crawl requests.
// Dequeue returns ErrQueueExhausted once the queue is empty and every
// dequeued request has been marked Done.
type Queue interface {
	Enqueue(ctx context.Context, request CrawlRequest) error
	Dequeue(ctx context.Context) (CrawlRequest, error)
	Done()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Poster delivers an HTTP POST and returns the response status code.
type Poster interface {
	Post(ctx context.Context, url string, contentType string, body []byte) (int, error)
}

// Output receives emitted records.
type Output interface {
	WriteRecord(ctx context.Context, record ProductRecord) error
	WriteError(ctx context.Context, record ErrorRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

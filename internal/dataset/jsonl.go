// Package dataset writes emitted crawl records.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

// JSONL writes one JSON object per line. Product and error rows share the
// stream; error rows carry "type": "error".
type JSONL struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONL writes to w. The caller keeps ownership of w.
func NewJSONL(w io.Writer) *JSONL {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONL{enc: enc}
}

// Open creates (or appends to) the file at path. "-" or an empty path writes
// to stdout.
func Open(path string) (*JSONL, error) {
	if path == "" || path == "-" {
		return NewJSONL(os.Stdout), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- operator-supplied output path.
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	out := NewJSONL(f)
	out.closer = f
	return out, nil
}

// WriteRecord appends a product record.
func (j *JSONL) WriteRecord(ctx context.Context, record crawler.ProductRecord) error {
	return j.write(ctx, record)
}

// WriteError appends an error record.
func (j *JSONL) WriteError(ctx context.Context, record crawler.ErrorRecord) error {
	return j.write(ctx, record)
}

func (j *JSONL) write(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(v); err != nil {
		return fmt.Errorf("encode dataset row: %w", err)
	}
	return nil
}

// Close closes the underlying file when Open created it.
func (j *JSONL) Close() error {
	if j.closer == nil {
		return nil
	}
	if err := j.closer.Close(); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	return nil
}

// Memory keeps emitted rows in memory.
type Memory struct {
	mu      sync.Mutex
	records []crawler.ProductRecord
	errors  []crawler.ErrorRecord
}

// NewMemory returns an empty in-memory dataset.
func NewMemory() *Memory {
	return &Memory{}
}

// WriteRecord stores a product record.
func (m *Memory) WriteRecord(_ context.Context, record crawler.ProductRecord) error {
	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()
	return nil
}

// WriteError stores an error record.
func (m *Memory) WriteError(_ context.Context, record crawler.ErrorRecord) error {
	m.mu.Lock()
	m.errors = append(m.errors, record)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of the stored product records.
func (m *Memory) Records() []crawler.ProductRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]crawler.ProductRecord(nil), m.records...)
}

// Errors returns a copy of the stored error records.
func (m *Memory) Errors() []crawler.ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]crawler.ErrorRecord(nil), m.errors...)
}

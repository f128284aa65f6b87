// Package snapshot keeps the last persisted record per product and computes
// the change set between that baseline and a fresh extraction.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

const (
	defaultPrefix  = "snapshot:"
	priceTolerance = 1e-9
)

// ErrNotFound is returned by stores that signal a missing key as an error.
var ErrNotFound = errors.New("snapshot not found")

// Engine reads and writes snapshots through a key/value store. Commit is
// last-write-wins; concurrent commits for one product may lose an update.
type Engine struct {
	store  crawler.SnapshotStore
	prefix string
	logger *zap.Logger
}

// New builds an Engine. An empty prefix selects "snapshot:".
func New(store crawler.SnapshotStore, prefix string, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, prefix: prefix, logger: logger.Named("snapshot")}, nil
}

// Key returns the store key for a product.
func (e *Engine) Key(productID string) string {
	return e.prefix + productID
}

// Previous returns the last committed record for productID, or nil when the
// product has never been committed.
func (e *Engine) Previous(ctx context.Context, productID string) (*crawler.ProductRecord, error) {
	raw, found, err := e.store.Get(ctx, e.Key(productID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", productID, err)
	}
	if !found || len(raw) == 0 {
		return nil, nil
	}
	var prev crawler.ProductRecord
	if err := json.Unmarshal(raw, &prev); err != nil {
		// A corrupt baseline is treated as absent so the product is re-seeded.
		e.logger.Warn("discarding unreadable snapshot", zap.String("product_id", productID), zap.Error(err))
		return nil, nil
	}
	return &prev, nil
}

// Commit overwrites the snapshot for productID. The stored copy carries no
// detectedChanges; those describe a transition, not a state.
func (e *Engine) Commit(ctx context.Context, productID string, rec crawler.ProductRecord) error {
	rec.DetectedChanges = crawler.ChangeSet{}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", productID, err)
	}
	if err := e.store.Set(ctx, e.Key(productID), raw); err != nil {
		return fmt.Errorf("save snapshot %s: %w", productID, err)
	}
	return nil
}

// Diff loads the baseline for rec and returns the change set against it.
func (e *Engine) Diff(ctx context.Context, rec crawler.ProductRecord) (crawler.ChangeSet, error) {
	prev, err := e.Previous(ctx, rec.ProductID)
	if err != nil {
		return crawler.ChangeSet{}, err
	}
	return Changes(prev, rec), nil
}

// Changes compares next against prev. With no previous snapshot the result is
// firstSeen. Otherwise only price.current and availability are compared, and
// a field is reported only when its new value is known and differs.
func Changes(prev *crawler.ProductRecord, next crawler.ProductRecord) crawler.ChangeSet {
	if prev == nil {
		return crawler.ChangeSet{FirstSeen: true}
	}
	var cs crawler.ChangeSet
	if to := next.Price.Current; to != nil {
		from := prev.Price.Current
		if from == nil || math.Abs(*from-*to) > priceTolerance {
			cs.Price = &crawler.PriceChange{From: copyFloat(from), To: *to}
		}
	}
	if to := next.Availability; to != nil {
		from := prev.Availability
		if from == nil || *from != *to {
			cs.Availability = &crawler.AvailabilityChange{From: copyAvailability(from), To: *to}
		}
	}
	return cs
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyAvailability(a *crawler.Availability) *crawler.Availability {
	if a == nil {
		return nil
	}
	v := *a
	return &v
}

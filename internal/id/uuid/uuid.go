// Package uuid generates notification event and run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings, so event IDs sort by
// emission time.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRunID returns a short identifier for one crawl run, used to correlate logs.
func (g Generator) NewRunID() string {
	id, err := g.NewID()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4.
		return uuid.NewString()[:8]
	}
	return id[len(id)-12:]
}

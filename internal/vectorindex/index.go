// Package vectorindex queries the vector store that holds the searchable
// records.
package vectorindex

import (
	"context"
	"encoding/json"
)

// Record is one scored hit. Payload is passed through untouched.
type Record struct {
	ID      string
	Score   float64
	Payload json.RawMessage
}

// Index is the nearest-neighbour search the search service depends on.
type Index interface {
	Search(ctx context.Context, vector []float32, limit int) ([]Record, error)
	Count(ctx context.Context) (int, error)
}

package store

import (
	"context"
	"errors"

	"passing.thoughts/internal/models"
)

var (
	ErrClosed      = errors.New("store is closed")
	ErrUnavailable = errors.New("store is unavailable")
)

// Store is the ordered collection of live thoughts. Add of an existing id and
// Remove of an absent id are no-ops, not errors; the bool reports whether the
// collection changed.
type Store interface {
	Add(ctx context.Context, thought models.Thought) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	// List returns the thoughts in insertion order. The slice is a copy.
	List(ctx context.Context) ([]models.Thought, error)
	Close() error
}

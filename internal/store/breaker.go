package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"passing.thoughts/internal/models"
)

var _ Store = (*BreakerStore)(nil)

type BreakerConfig struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// Timeout is how long the breaker stays open before a trial request.
	Timeout time.Duration
}

// BreakerStore fails fast with ErrUnavailable while the backend keeps erroring.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next Store, cfg BreakerConfig, log *zap.Logger) *BreakerStore {
	if log == nil {
		log = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

func (b *BreakerStore) Add(ctx context.Context, thought models.Thought) (bool, error) {
	v, err := b.execute(func() (any, error) {
		return b.next.Add(ctx, thought)
	})
	added, _ := v.(bool)
	return added, err
}

func (b *BreakerStore) Remove(ctx context.Context, id string) (bool, error) {
	v, err := b.execute(func() (any, error) {
		return b.next.Remove(ctx, id)
	})
	removed, _ := v.(bool)
	return removed, err
}

func (b *BreakerStore) List(ctx context.Context) ([]models.Thought, error) {
	v, err := b.execute(func() (any, error) {
		return b.next.List(ctx)
	})
	if err != nil {
		return nil, err
	}
	thoughts, _ := v.([]models.Thought)
	return thoughts, nil
}

func (b *BreakerStore) Close() error {
	return b.next.Close()
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerStore) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v, err
}

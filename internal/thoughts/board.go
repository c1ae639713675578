// Package thoughts runs the board: the ordered list of live thoughts and the
// timers that expire them.
//
// All reads and writes of the store and the scheduler happen on the goroutine
// running Board.Run. Public methods post an event to that goroutine and wait
// for it to be handled; timer firings are posted the same way, so an expiry
// and a manual removal of the same thought never run at the same time.
package thoughts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"passing.thoughts/internal/clock"
	"passing.thoughts/internal/ids"
	"passing.thoughts/internal/metrics"
	"passing.thoughts/internal/models"
	"passing.thoughts/internal/scheduler"
	"passing.thoughts/internal/store"
)

const DefaultLifetime = 15 * time.Second

var (
	ErrEmptyText   = errors.New("thought text is empty")
	ErrTextTooLong = errors.New("thought text is too long")
	ErrMissingID   = errors.New("thought id is empty")
	ErrStopped     = errors.New("board is not running")
	ErrRunning     = errors.New("board is already running")
)

// Metrics receives lifecycle counts. *metrics.Collector satisfies it.
type Metrics interface {
	ThoughtAdded()
	ThoughtRemoved(reason string)
	SetLive(n int)
}

type Options struct {
	// Lifetime of new thoughts. Defaults to DefaultLifetime.
	Lifetime time.Duration
	// MaxTextLength in runes; 0 means unlimited.
	MaxTextLength int
	// SweepInterval between backstop sweeps; 0 disables sweeping.
	SweepInterval time.Duration
	Logger        *zap.Logger
	Metrics       Metrics
}

type Board struct {
	store   store.Store
	clock   clock.Clock
	ids     ids.Generator
	sched   *scheduler.Scheduler
	log     *zap.Logger
	metrics Metrics

	maxText       int
	sweepInterval time.Duration
	lifetime      atomic.Int64

	events  chan func()
	done    chan struct{}
	running atomic.Bool
	sweeper clock.Timer

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func New(st store.Store, c clock.Clock, gen ids.Generator, opts Options) *Board {
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	b := &Board{
		store:         st,
		clock:         c,
		ids:           gen,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		maxText:       opts.MaxTextLength,
		sweepInterval: opts.SweepInterval,
		events:        make(chan func()),
		done:          make(chan struct{}),
		subs:          make(map[chan struct{}]struct{}),
	}
	b.lifetime.Store(int64(opts.Lifetime))
	b.sched = scheduler.New(c, b.dispatch)
	return b
}

// Run handles board events until ctx is cancelled. Thoughts already in the
// store when Run starts are armed before any other event is handled.
func (b *Board) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(b.done)

	if err := b.armExisting(ctx); err != nil {
		return fmt.Errorf("arming stored thoughts: %w", err)
	}
	b.scheduleSweep()

	b.log.Info("board running",
		zap.Duration("lifetime", b.Lifetime()),
		zap.Duration("sweep_interval", b.sweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			b.sched.Stop()
			if b.sweeper != nil {
				b.sweeper.Stop()
			}
			b.log.Info("board stopped")
			return nil
		case ev := <-b.events:
			ev()
		}
	}
}

// Submit creates a thought from text and adds it to the board.
func (b *Board) Submit(ctx context.Context, text string) (models.Thought, error) {
	text = strings.TrimSpace(text)
	if err := b.validate(text); err != nil {
		return models.Thought{}, err
	}

	var thought models.Thought
	err := b.call(ctx, func() error {
		thought = models.NewThought(b.ids.NewID(), text, b.clock.Now(), b.Lifetime())
		return b.add(thought)
	})
	if err != nil {
		return models.Thought{}, err
	}
	return thought, nil
}

// Add puts a pre-built thought on the board. A thought whose id is already
// live is ignored.
func (b *Board) Add(ctx context.Context, thought models.Thought) error {
	if thought.ID == "" {
		return ErrMissingID
	}
	if err := b.validate(thought.Text); err != nil {
		return err
	}
	return b.call(ctx, func() error {
		return b.add(thought)
	})
}

// Remove takes a thought off the board and cancels its timer. Removing an
// unknown id is a no-op.
func (b *Board) Remove(ctx context.Context, id string) error {
	return b.call(ctx, func() error {
		return b.remove(id)
	})
}

func (b *Board) List(ctx context.Context) ([]models.Thought, error) {
	var thoughts []models.Thought
	err := b.call(ctx, func() error {
		var err error
		thoughts, err = b.store.List(ctx)
		return err
	})
	return thoughts, err
}

// Sweep runs one backstop pass immediately.
func (b *Board) Sweep(ctx context.Context) error {
	return b.call(ctx, b.sweep)
}

// Seed adds the introductory thoughts shown on a fresh board.
func (b *Board) Seed(ctx context.Context) error {
	intro := []string{
		"This is a place for your passing thoughts.",
		fmt.Sprintf("They'll be removed after %s.", describe(b.Lifetime())),
	}
	for _, text := range intro {
		if _, err := b.Submit(ctx, text); err != nil {
			return err
		}
	}
	return nil
}

func (b *Board) Lifetime() time.Duration {
	return time.Duration(b.lifetime.Load())
}

// SetLifetime changes the lifetime of thoughts submitted from now on.
func (b *Board) SetLifetime(d time.Duration) {
	if d <= 0 {
		return
	}
	if old := time.Duration(b.lifetime.Swap(int64(d))); old != d {
		b.log.Info("thought lifetime changed", zap.Duration("from", old), zap.Duration("to", d))
	}
}

// Subscribe returns a channel that receives a value after the list changes.
// Notifications coalesce: a slow reader sees one pending value, not one per
// change. The returned func unsubscribes.
func (b *Board) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

// --- loop side ---------------------------------------------------------------

func (b *Board) add(thought models.Thought) error {
	added, err := b.store.Add(context.Background(), thought)
	if err != nil {
		return fmt.Errorf("adding thought: %w", err)
	}
	if !added {
		// the stored thought keeps its own schedule
		return nil
	}
	b.sched.Arm(thought, b.expire)

	b.log.Debug("thought added",
		zap.String("id", thought.ID),
		zap.Time("expires_at", thought.ExpiresAt),
	)
	b.metrics.ThoughtAdded()
	b.changed()
	return nil
}

func (b *Board) remove(id string) error {
	b.sched.Cancel(id)
	removed, err := b.store.Remove(context.Background(), id)
	if err != nil {
		return fmt.Errorf("removing thought: %w", err)
	}
	if !removed {
		return nil
	}

	b.log.Debug("thought removed", zap.String("id", id))
	b.metrics.ThoughtRemoved(metrics.ReasonManual)
	b.changed()
	return nil
}

// expire is the scheduler callback; it runs on the loop.
func (b *Board) expire(id string) {
	removed, err := b.store.Remove(context.Background(), id)
	if err != nil {
		// left for the sweeper
		b.log.Error("expiring thought", zap.String("id", id), zap.Error(err))
		return
	}
	if !removed {
		return
	}

	b.log.Debug("thought expired", zap.String("id", id))
	b.metrics.ThoughtRemoved(metrics.ReasonExpired)
	b.changed()
}

// sweep removes expired thoughts that no timer guards and arms live ones
// that are missing a timer.
func (b *Board) sweep() error {
	thoughts, err := b.store.List(context.Background())
	if err != nil {
		return fmt.Errorf("listing thoughts: %w", err)
	}

	now := b.clock.Now()
	swept := 0
	for _, t := range thoughts {
		if b.sched.Pending(t.ID) {
			continue
		}
		if !t.IsExpired(now) {
			b.sched.Arm(t, b.expire)
			continue
		}
		removed, err := b.store.Remove(context.Background(), t.ID)
		if err != nil {
			return fmt.Errorf("sweeping thought %s: %w", t.ID, err)
		}
		if !removed {
			continue
		}
		b.metrics.ThoughtRemoved(metrics.ReasonSwept)
		swept++
	}

	if swept > 0 {
		b.log.Debug("swept expired thoughts", zap.Int("count", swept))
		b.changed()
	}
	return nil
}

func (b *Board) armExisting(ctx context.Context) error {
	thoughts, err := b.store.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range thoughts {
		b.sched.Arm(t, b.expire)
	}
	b.metrics.SetLive(b.sched.Len())
	return nil
}

func (b *Board) scheduleSweep() {
	if b.sweepInterval <= 0 {
		return
	}
	b.sweeper = b.clock.AfterFunc(b.sweepInterval, func() {
		b.dispatch(func() {
			if err := b.sweep(); err != nil {
				b.log.Error("sweep failed", zap.Error(err))
			}
			b.scheduleSweep()
		})
	})
}

func (b *Board) changed() {
	b.metrics.SetLive(b.sched.Len())

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// --- caller side -------------------------------------------------------------

// dispatch posts a timer callback onto the loop. It gives up once Run has
// returned.
func (b *Board) dispatch(f func()) {
	select {
	case b.events <- f:
	case <-b.done:
	}
}

func (b *Board) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	ev := func() { reply <- fn() }

	select {
	case b.events <- ev:
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
	}

	select {
	case err := <-reply:
		return err
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
	}
}

func (b *Board) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if b.maxText > 0 && utf8.RuneCountInString(text) > b.maxText {
		return ErrTextTooLong
	}
	return nil
}

func describe(d time.Duration) string {
	if d%time.Second != 0 {
		return d.String()
	}
	if n := int(d / time.Second); n != 1 {
		return fmt.Sprintf("%d seconds", n)
	}
	return "1 second"
}

type nopMetrics struct{}

func (nopMetrics) ThoughtAdded()         {}
func (nopMetrics) ThoughtRemoved(string) {}
func (nopMetrics) SetLive(int)           {}

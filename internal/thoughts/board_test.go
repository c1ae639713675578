package thoughts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passing.thoughts/internal/clock"
	"passing.thoughts/internal/ids"
	"passing.thoughts/internal/metrics"
	"passing.thoughts/internal/models"
	"passing.thoughts/internal/store"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func sequentialIDs() ids.Generator {
	var n atomic.Int64
	return ids.GeneratorFunc(func() string {
		return fmt.Sprintf("t-%d", n.Add(1))
	})
}

type recordedMetrics struct {
	mu      sync.Mutex
	added   int
	removed map[string]int
	live    int
}

func (m *recordedMetrics) ThoughtAdded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added++
}

func (m *recordedMetrics) ThoughtRemoved(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed == nil {
		m.removed = make(map[string]int)
	}
	m.removed[reason]++
}

func (m *recordedMetrics) SetLive(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = n
}

type harness struct {
	board *Board
	clock *clock.Fake
	store *store.MemoryStore
	ctx   context.Context
}

func start(t *testing.T, st *store.MemoryStore, opts Options) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	clk := clock.NewFake(epoch)
	b := New(st, clk, sequentialIDs(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errc)
	})

	// returns once Run has armed stored thoughts and is handling events
	_, err := b.List(context.Background())
	require.NoError(t, err)

	return &harness{board: b, clock: clk, store: st, ctx: context.Background()}
}

// stash writes a thought straight to the store, so no timer guards it.
func stash(t *testing.T, st store.Store, thought models.Thought) {
	t.Helper()
	added, err := st.Add(context.Background(), thought)
	require.NoError(t, err)
	require.True(t, added)
}

func (h *harness) list(t *testing.T) []models.Thought {
	t.Helper()
	thoughts, err := h.board.List(h.ctx)
	require.NoError(t, err)
	return thoughts
}

func texts(thoughts []models.Thought) []string {
	out := make([]string, 0, len(thoughts))
	for _, t := range thoughts {
		out = append(out, t.Text)
	}
	return out
}

func TestSubmitAppendsAtTail(t *testing.T) {
	h := start(t, nil, Options{})

	first, err := h.board.Submit(h.ctx, "first")
	require.NoError(t, err)
	second, err := h.board.Submit(h.ctx, "second")
	require.NoError(t, err)

	list := h.list(t)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0])
	assert.Equal(t, second, list[1])
	assert.Equal(t, epoch.Add(DefaultLifetime), second.ExpiresAt)
	assert.Equal(t, epoch, second.CreatedAt)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSubmitRemoveScenario(t *testing.T) {
	h := start(t, nil, Options{})

	a, err := h.board.Submit(h.ctx, "Did I forget my keys?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Did I forget my keys?"}, texts(h.list(t)))

	require.NoError(t, h.board.Remove(h.ctx, a.ID))
	assert.Empty(t, h.list(t))
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.list(t))
}

func TestThoughtExpiresAfterLifetime(t *testing.T) {
	h := start(t, nil, Options{Lifetime: 15 * time.Second})

	_, err := h.board.Submit(h.ctx, "B")
	require.NoError(t, err)

	h.clock.Advance(15*time.Second - time.Nanosecond)
	assert.Equal(t, []string{"B"}, texts(h.list(t)))

	h.clock.Advance(time.Nanosecond)
	assert.Empty(t, h.list(t))
}

func TestExpiryKeepsOtherThoughts(t *testing.T) {
	h := start(t, nil, Options{Lifetime: 10 * time.Second})

	_, err := h.board.Submit(h.ctx, "old")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	_, err = h.board.Submit(h.ctx, "new")
	require.NoError(t, err)

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"new"}, texts(h.list(t)))

	h.clock.Advance(5 * time.Second)
	assert.Empty(t, h.list(t))
}

func TestSubmitEmptyText(t *testing.T) {
	h := start(t, nil, Options{})
	_, err := h.board.Submit(h.ctx, "kept")
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := h.board.Submit(h.ctx, text)
		assert.ErrorIs(t, err, ErrEmptyText)
	}
	assert.Len(t, h.list(t), 1)
}

func TestSubmitTrimsAndLimitsText(t *testing.T) {
	h := start(t, nil, Options{MaxTextLength: 5})

	th, err := h.board.Submit(h.ctx, "  héllo  ")
	require.NoError(t, err)
	assert.Equal(t, "héllo", th.Text)

	_, err = h.board.Submit(h.ctx, strings.Repeat("x", 6))
	assert.ErrorIs(t, err, ErrTextTooLong)
}

func TestRemoveIsIdempotent(t *testing.T) {
	h := start(t, nil, Options{})
	a, err := h.board.Submit(h.ctx, "a")
	require.NoError(t, err)
	_, err = h.board.Submit(h.ctx, "b")
	require.NoError(t, err)

	require.NoError(t, h.board.Remove(h.ctx, a.ID))
	once := h.list(t)
	require.NoError(t, h.board.Remove(h.ctx, a.ID))
	require.NoError(t, h.board.Remove(h.ctx, "never-existed"))

	assert.Equal(t, once, h.list(t))
}

// A timer armed for a removed thought must not remove a later thought that
// reuses its id.
func TestRemovedThoughtTimerDoesNotHitReusedID(t *testing.T) {
	h := start(t, nil, Options{})

	first := models.NewThought("same", "first", epoch, 10*time.Second)
	require.NoError(t, h.board.Add(h.ctx, first))
	require.NoError(t, h.board.Remove(h.ctx, "same"))

	second := models.NewThought("same", "second", epoch, time.Minute)
	require.NoError(t, h.board.Add(h.ctx, second))

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"second"}, texts(h.list(t)))

	h.clock.Advance(50 * time.Second)
	assert.Empty(t, h.list(t))
}

func TestAddDuplicateIDIsIgnored(t *testing.T) {
	h := start(t, nil, Options{})

	require.NoError(t, h.board.Add(h.ctx, models.NewThought("x", "one", epoch, 10*time.Second)))
	require.NoError(t, h.board.Add(h.ctx, models.NewThought("x", "two", epoch, time.Hour)))

	assert.Equal(t, []string{"one"}, texts(h.list(t)))

	h.clock.Advance(10 * time.Second)
	assert.Empty(t, h.list(t))
}

func TestAddKeepsScheduleOfUntimedStoredThought(t *testing.T) {
	m := &recordedMetrics{}
	h := start(t, nil, Options{Metrics: m})
	stash(t, h.store, models.NewThought("x", "one", epoch, time.Hour))
	ch, unsubscribe := h.board.Subscribe()
	defer unsubscribe()

	require.NoError(t, h.board.Add(h.ctx, models.NewThought("x", "two", epoch, time.Second)))
	assertNotNotified(t, ch)
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(time.Second)
	assert.Equal(t, []string{"one"}, texts(h.list(t)))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Zero(t, m.added)
}

func TestRemoveUntimedStoredThoughtNotifies(t *testing.T) {
	m := &recordedMetrics{}
	h := start(t, nil, Options{Metrics: m})
	stash(t, h.store, models.NewThought("x", "left behind", epoch, time.Hour))
	ch, unsubscribe := h.board.Subscribe()
	defer unsubscribe()

	require.NoError(t, h.board.Remove(h.ctx, "x"))
	requireNotified(t, ch)
	assert.Empty(t, h.list(t))

	require.NoError(t, h.board.Remove(h.ctx, "x"))
	assertNotNotified(t, ch)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.removed[metrics.ReasonManual])
}

func TestAddValidates(t *testing.T) {
	h := start(t, nil, Options{})
	assert.ErrorIs(t, h.board.Add(h.ctx, models.Thought{Text: "no id"}), ErrMissingID)
	assert.ErrorIs(t, h.board.Add(h.ctx, models.Thought{ID: "x"}), ErrEmptyText)
}

func TestAddAlreadyExpiredFiresImmediately(t *testing.T) {
	h := start(t, nil, Options{})

	require.NoError(t, h.board.Add(h.ctx, models.NewThought("late", "late", epoch.Add(-time.Minute), time.Second)))
	assert.Len(t, h.list(t), 1)

	h.clock.Advance(0)
	assert.Empty(t, h.list(t))
}

func TestRunArmsStoredThoughts(t *testing.T) {
	st := store.NewMemoryStore()
	stash(t, st, models.NewThought("stale", "stale", epoch.Add(-time.Hour), time.Second))
	stash(t, st, models.NewThought("live", "live", epoch, 30*time.Second))

	h := start(t, st, Options{})
	assert.Len(t, h.list(t), 2)

	h.clock.Advance(0)
	assert.Equal(t, []string{"live"}, texts(h.list(t)))

	h.clock.Advance(30 * time.Second)
	assert.Empty(t, h.list(t))
}

func TestSweepRemovesUnguardedExpiredThoughts(t *testing.T) {
	m := &recordedMetrics{}
	h := start(t, nil, Options{Metrics: m})
	stash(t, h.store, models.NewThought("gone", "gone", epoch.Add(-time.Minute), time.Second))
	stash(t, h.store, models.NewThought("later", "later", epoch, 20*time.Second))
	assert.Zero(t, h.clock.Pending())

	require.NoError(t, h.board.Sweep(h.ctx))
	assert.Equal(t, 1, h.clock.Pending())
	m.mu.Lock()
	assert.Equal(t, 1, m.removed[metrics.ReasonSwept])
	m.mu.Unlock()

	assert.Equal(t, []string{"later"}, texts(h.list(t)))

	h.clock.Advance(20 * time.Second)
	assert.Empty(t, h.list(t))
}

func TestPeriodicSweep(t *testing.T) {
	h := start(t, nil, Options{SweepInterval: 30 * time.Second})
	stash(t, h.store, models.NewThought("gone", "gone", epoch.Add(-time.Minute), time.Second))

	h.clock.Advance(30 * time.Second)
	assert.Empty(t, h.list(t))
}

func TestSubscribeNotifiesOnChange(t *testing.T) {
	h := start(t, nil, Options{Lifetime: time.Second})
	ch, unsubscribe := h.board.Subscribe()
	defer unsubscribe()

	th, err := h.board.Submit(h.ctx, "hello")
	require.NoError(t, err)
	requireNotified(t, ch)

	require.NoError(t, h.board.Remove(h.ctx, "unknown"))
	assertNotNotified(t, ch)

	require.NoError(t, h.board.Remove(h.ctx, th.ID))
	requireNotified(t, ch)

	_, err = h.board.Submit(h.ctx, "expiring")
	require.NoError(t, err)
	requireNotified(t, ch)
	h.clock.Advance(time.Second)
	h.list(t)
	requireNotified(t, ch)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	h := start(t, nil, Options{})
	ch, unsubscribe := h.board.Subscribe()
	unsubscribe()
	unsubscribe()

	_, err := h.board.Submit(h.ctx, "hello")
	require.NoError(t, err)
	assertNotNotified(t, ch)
}

func TestSetLifetimeAppliesToNewThoughts(t *testing.T) {
	h := start(t, nil, Options{Lifetime: 10 * time.Second})

	old, err := h.board.Submit(h.ctx, "old")
	require.NoError(t, err)
	h.board.SetLifetime(time.Minute)
	h.board.SetLifetime(0)
	fresh, err := h.board.Submit(h.ctx, "fresh")
	require.NoError(t, err)

	assert.Equal(t, epoch.Add(10*time.Second), old.ExpiresAt)
	assert.Equal(t, epoch.Add(time.Minute), fresh.ExpiresAt)
	assert.Equal(t, time.Minute, h.board.Lifetime())
}

func TestSeed(t *testing.T) {
	h := start(t, nil, Options{})
	require.NoError(t, h.board.Seed(h.ctx))

	assert.Equal(t, []string{
		"This is a place for your passing thoughts.",
		"They'll be removed after 15 seconds.",
	}, texts(h.list(t)))
}

func TestMetricsFollowLifecycle(t *testing.T) {
	m := &recordedMetrics{}
	h := start(t, nil, Options{Lifetime: time.Second, Metrics: m})

	a, err := h.board.Submit(h.ctx, "a")
	require.NoError(t, err)
	_, err = h.board.Submit(h.ctx, "b")
	require.NoError(t, err)
	require.NoError(t, h.board.Remove(h.ctx, a.ID))
	h.clock.Advance(time.Second)
	h.list(t)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 2, m.added)
	assert.Equal(t, 1, m.removed[metrics.ReasonManual])
	assert.Equal(t, 1, m.removed[metrics.ReasonExpired])
	assert.Zero(t, m.live)
}

func TestRunTwice(t *testing.T) {
	h := start(t, nil, Options{})
	assert.ErrorIs(t, h.board.Run(context.Background()), ErrRunning)
}

func TestCallsAfterStop(t *testing.T) {
	b := New(store.NewMemoryStore(), clock.NewFake(epoch), sequentialIDs(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Run(ctx))

	_, err := b.Submit(context.Background(), "too late")
	assert.ErrorIs(t, err, ErrStopped)
	_, err = b.List(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCallHonoursContext(t *testing.T) {
	b := New(store.NewMemoryStore(), clock.NewFake(epoch), sequentialIDs(), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Run was never started
	_, err := b.List(ctx)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRealClockExpiry(t *testing.T) {
	b := New(store.NewMemoryStore(), clock.Real(), ids.UUID, Options{Lifetime: 30 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	th, err := b.Submit(ctx, "soon gone")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		list, err := b.List(ctx)
		return err == nil && len(list) == 0
	}, time.Until(th.ExpiresAt)+50*time.Millisecond, 5*time.Millisecond)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "15 seconds", describe(15*time.Second))
	assert.Equal(t, "1 second", describe(time.Second))
	assert.Equal(t, "1.5s", describe(1500*time.Millisecond))
}

func requireNotified(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected change notification")
	}
}

func assertNotNotified(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected change notification")
	default:
	}
}

// Package scheduler arms one-shot expiration timers for thoughts.
//
// A Scheduler is not safe for concurrent use. Arm, Cancel and the expiry
// callbacks must all run on one goroutine; timer callbacks get there through
// the Dispatch function passed to New.
package scheduler

import (
	"time"

	"passing.thoughts/internal/clock"
	"passing.thoughts/internal/models"
)

// Dispatch hands a timer callback to the goroutine that owns the Scheduler.
type Dispatch func(func())

type Scheduler struct {
	clock    clock.Clock
	dispatch Dispatch
	pending  map[string]*armed
}

// armed is the token for one Arm call. A firing is honoured only while its
// token is still the one registered for the id.
type armed struct {
	id       string
	timer    clock.Timer
	onExpire func(id string)
}

// New returns a Scheduler on c. A nil dispatch runs callbacks directly on
// the timer goroutine, which is only safe with clock.Fake.
func New(c clock.Clock, dispatch Dispatch) *Scheduler {
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	return &Scheduler{
		clock:    c,
		dispatch: dispatch,
		pending:  make(map[string]*armed),
	}
}

// Arm schedules onExpire(thought.ID) for thought.ExpiresAt. A thought whose
// expiry has already passed fires as soon as the clock delivers it. Arming an
// id that is already pending replaces the previous timer.
func (s *Scheduler) Arm(thought models.Thought, onExpire func(id string)) {
	s.Cancel(thought.ID)

	a := &armed{id: thought.ID, onExpire: onExpire}
	a.timer = s.clock.AfterFunc(Delay(thought, s.clock.Now()), func() {
		s.dispatch(func() { s.fire(a) })
	})
	s.pending[thought.ID] = a
}

// Cancel stops the timer for id. It is a no-op if none is pending. Once it
// returns, the cancelled timer never reaches its onExpire.
func (s *Scheduler) Cancel(id string) bool {
	a, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	a.timer.Stop()
	return true
}

func (s *Scheduler) Pending(id string) bool {
	_, ok := s.pending[id]
	return ok
}

func (s *Scheduler) Len() int {
	return len(s.pending)
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	for id := range s.pending {
		s.Cancel(id)
	}
}

func (s *Scheduler) fire(a *armed) {
	if s.pending[a.id] != a {
		// cancelled or re-armed after the timer went off
		return
	}
	delete(s.pending, a.id)
	a.onExpire(a.id)
}

// Delay returns how long a thought armed at now waits before firing.
func Delay(thought models.Thought, now time.Time) time.Duration {
	return max(thought.ExpiresAt.Sub(now), 0)
}

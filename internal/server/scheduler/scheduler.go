// Package scheduler arms one-shot per-key timers. At most one timer is
// pending per key; scheduling again replaces it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/safechat/internal/logging"
)

// DefaultFireTimeout bounds the context handed to the fire callback.
const DefaultFireTimeout = 10 * time.Second

// FireFunc runs when a timer expires.
type FireFunc func(ctx context.Context, id string)

type entry struct {
	gen   uint64
	timer *time.Timer
}

type Scheduler struct {
	mu      sync.Mutex
	pending map[string]entry
	gen     uint64
	stopped bool

	fire    FireFunc
	timeout time.Duration
	log     logging.Logger
}

func New(log logging.Logger, fire FireFunc, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultFireTimeout
	}
	return &Scheduler{
		pending: make(map[string]entry),
		fire:    fire,
		timeout: timeout,
		log:     log.With("module", "scheduler"),
	}
}

// Schedule arms a timer for id after delay, replacing any pending one.
// A non-positive delay fires as soon as possible.
func (s *Scheduler) Schedule(id string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if e, ok := s.pending[id]; ok {
		e.timer.Stop()
	}

	s.gen++
	gen := s.gen
	s.pending[id] = entry{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { s.run(id, gen) }),
	}
}

// run fires only if the timer that called it is still the current one for
// id. A timer replaced or cancelled after it already started is a no-op.
func (s *Scheduler) run(id string, gen uint64) {
	s.mu.Lock()
	e, ok := s.pending[id]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.log.Debug(ctx, "timer fired", "id", id)
	s.fire(ctx, id)
}

// Cancel disarms the pending timer for id and reports whether one existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, id)
	return true
}

func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop disarms every pending timer. Later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
}

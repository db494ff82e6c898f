package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Simulated is a Scheduler on virtual time. Callbacks only run inside
// Advance, on the calling goroutine, in due-time order.
type Simulated struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*simEntry
}

type simEntry struct {
	due       time.Time
	period    time.Duration // zero for one-shot
	fn        func()
	cancelled bool
}

func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start}
}

func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Simulated) After(d time.Duration, fn func()) *Task {
	return s.add(d, 0, fn)
}

func (s *Simulated) Every(d time.Duration, fn func()) *Task {
	return s.add(d, d, fn)
}

func (s *Simulated) add(d, period time.Duration, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &simEntry{due: s.now.Add(d), period: period, fn: fn}
	s.tasks = append(s.tasks, entry)
	return &Task{cancel: func() {
		s.mu.Lock()
		entry.cancelled = true
		s.mu.Unlock()
	}}
}

// Advance moves virtual time forward by d, firing every task that comes
// due on the way. A callback may schedule further tasks; those fire too if
// they fall inside the window.
func (s *Simulated) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		entry := s.nextDue(target)
		if entry == nil {
			break
		}
		if entry.due.After(s.now) {
			s.now = entry.due
		}
		if entry.period > 0 {
			entry.due = entry.due.Add(entry.period)
		}
		fn := entry.fn
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// nextDue pops the earliest pending one-shot task due by target, or peeks
// the earliest periodic one. Caller holds the lock.
func (s *Simulated) nextDue(target time.Time) *simEntry {
	pending := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.cancelled {
			pending = append(pending, t)
		}
	}
	s.tasks = pending
	sort.SliceStable(s.tasks, func(i, j int) bool {
		return s.tasks[i].due.Before(s.tasks[j].due)
	})
	for i, t := range s.tasks {
		if t.due.After(target) {
			return nil
		}
		if t.period == 0 {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		}
		return t
	}
	return nil
}

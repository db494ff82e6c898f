// Package scheduler provides cancellable delayed and periodic tasks on a
// shared clock abstraction, so timed control flow (stop escalation steps,
// allocation ticks, charging timers) can run against virtual time in tests.
package scheduler

import (
	"sync"
	"time"
)

type Scheduler interface {
	Now() time.Time
	// After runs fn once after d has elapsed.
	After(d time.Duration, fn func()) *Task
	// Every runs fn repeatedly with period d until the task is cancelled.
	Every(d time.Duration, fn func()) *Task
}

// Task is a handle to a scheduled callback. Cancel is safe to call more
// than once and after the callback has fired.
type Task struct {
	once   sync.Once
	cancel func()
}

func (t *Task) Cancel() {
	t.once.Do(t.cancel)
}

type realScheduler struct{}

// New returns a scheduler backed by the system clock.
func New() Scheduler {
	return &realScheduler{}
}

func (s *realScheduler) Now() time.Time {
	return time.Now()
}

func (s *realScheduler) After(d time.Duration, fn func()) *Task {
	timer := time.AfterFunc(d, fn)
	return &Task{cancel: func() { timer.Stop() }}
}

func (s *realScheduler) Every(d time.Duration, fn func()) *Task {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	return &Task{cancel: func() {
		ticker.Stop()
		close(done)
	}}
}

package device

import (
	"context"
	"sync"
	"time"
)

// Task is the body of a scheduled timer.
type Task func(ctx context.Context, now time.Time)

type timer struct {
	name  string
	every time.Duration
	next  time.Time
	task  Task
}

// Scheduler runs a set of independently scheduled timers from one loop.
// Each timer fires on the first Poll and then whenever its period has
// elapsed since it last fired.
type Scheduler struct {
	mu     sync.Mutex
	timers []*timer
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Every adds a timer. Timers run in the order they were added.
func (s *Scheduler) Every(name string, every time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = append(s.timers, &timer{name: name, every: every, task: task})
}

// Reset restarts the period of the named timer from now.
func (s *Scheduler) Reset(name string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		if t.name == name {
			t.next = now.Add(t.every)
		}
	}
}

// Trigger makes the named timer due on the next Poll.
func (s *Scheduler) Trigger(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		if t.name == name {
			t.next = time.Time{}
		}
	}
}

// Poll runs every due timer and returns how many ran. Tasks run without
// the scheduler lock so they may call Reset.
func (s *Scheduler) Poll(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	timers := append([]*timer(nil), s.timers...)
	s.mu.Unlock()

	ran := 0
	for _, t := range timers {
		s.mu.Lock()
		due := t.next.IsZero() || !now.Before(t.next)
		if due {
			t.next = now.Add(t.every)
		}
		s.mu.Unlock()

		if due {
			t.task(ctx, now)
			ran++
		}
	}
	return ran
}

// Run polls every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration, now func() time.Time) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	s.Poll(ctx, now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx, now())
		}
	}
}

// Package scheduler drives the daemon's periodic background tasks: the
// retention sweep and the port-sampling refresh (spec §5: "One daemon-wide
// sweeper for retention", "One background task per process for exit
// observation and port sampling"). Unlike a job scheduler that spawns
// processes, every tick here invokes a plain func(context.Context) action.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Task is one periodic action: a name (for logging) and the interval at
// which it should tick. time.Ticker only fires after the first full
// interval elapses, so a task whose semantics require running once at
// startup (e.g. the retention sweep, spec §4.2: "eligible for rotation or
// deletion at daemon start and on a periodic sweep") must set
// RunImmediately.
type Task struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
	Action         func(context.Context)
}

// Scheduler runs a fixed set of Tasks on independent tickers until Stop.
type Scheduler struct {
	tasks []Task
	quit  chan struct{}
	wg    sync.WaitGroup
}

func New(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches one ticker goroutine per task. Calling Start twice without
// an intervening Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s.quit != nil {
		return
	}
	s.quit = make(chan struct{})
	for _, t := range s.tasks {
		if t.Interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.run(ctx, t)
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	defer s.wg.Done()
	if t.RunImmediately {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		default:
			t.Action(ctx)
		}
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-ticker.C:
			t.Action(ctx)
		}
	}
}

// Stop cancels every running task and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	s.wg.Wait()
	s.quit = nil
}

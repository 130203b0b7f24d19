package ordersync

import (
	"context"
	"sync"
	"time"
)

// Task is a unit of work run by the Scheduler's write queue
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

// Scheduler coalesces bursts of calls into one delayed call and runs queued
// tasks one at a time, in the order they were enqueued.
type Scheduler struct {
	mu         sync.Mutex
	timer      *time.Timer
	timerToken uint64
	closed     bool

	queueMu     sync.RWMutex
	queueClosed bool
	jobs        chan job
	stop        chan struct{}
	wg          sync.WaitGroup
}

// NewScheduler starts the scheduler's worker goroutine
func NewScheduler() *Scheduler {
	s := &Scheduler{
		jobs: make(chan job, 64),
		stop: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Schedule arms the debounce timer to call fn after delay. Any earlier arming
// that has not fired yet is cancelled.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerToken++
	token := s.timerToken
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.closed || token != s.timerToken {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Cancel disarms the debounce timer. It reports whether a call was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.timerToken++
	return true
}

// Pending reports whether the debounce timer is armed
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Enqueue appends task to the write queue. The returned channel receives the
// task's result once it ran.
func (s *Scheduler) Enqueue(ctx context.Context, task Task) <-chan error {
	done := make(chan error, 1)

	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.queueClosed {
		done <- ErrClosed
		return done
	}

	select {
	case s.jobs <- job{ctx: ctx, task: task, done: done}:
	case <-ctx.Done():
		done <- ctx.Err()
	}
	return done
}

// TryEnqueue appends task to the write queue unless the queue is full or
// closed. It never blocks and reports whether the task was queued.
func (s *Scheduler) TryEnqueue(ctx context.Context, task Task) bool {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.queueClosed {
		return false
	}

	select {
	case s.jobs <- job{ctx: ctx, task: task, done: make(chan error, 1)}:
		return true
	default:
		return false
	}
}

// RunExclusive enqueues task and waits for its result. The task itself still
// runs to completion if ctx is cancelled while it is in flight.
func (s *Scheduler) RunExclusive(ctx context.Context, task Task) error {
	done := s.Enqueue(ctx, task)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disarms the timer, lets already queued tasks finish and stops the worker.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.queueMu.Lock()
	s.queueClosed = true
	s.queueMu.Unlock()

	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.jobs:
			s.exec(j)
		case <-s.stop:
			for {
				select {
				case j := <-s.jobs:
					s.exec(j)
				default:
					return
				}
			}
		}
	}
}

func (s *Scheduler) exec(j job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	j.done <- j.task(j.ctx)
}

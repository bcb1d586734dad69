package server

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task is one unit of deferred work.
type Task func(ctx context.Context) error

// Scheduler runs delayed fire-and-forget tasks. Each task is isolated: an
// error or panic in one is logged and never affects the others. Close
// cancels everything still pending.
type Scheduler struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	timers map[uint64]*time.Timer
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[uint64]*time.Timer),
	}
}

// Schedule runs task after delay. It returns false once the scheduler is
// closed.
func (s *Scheduler) Schedule(delay time.Duration, name string, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.nextID++
	id := s.nextID
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		defer s.wg.Done()
		s.run(name, task)
	})
	return true
}

func (s *Scheduler) run(name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] %s panicked: %v", name, r)
		}
	}()
	if err := task(s.ctx); err != nil {
		log.Printf("[scheduler] %s failed: %v", name, err)
	}
}

// Pending returns the number of tasks that have not started yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close drops pending tasks and waits for running ones to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

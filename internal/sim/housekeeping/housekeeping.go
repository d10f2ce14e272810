// Package housekeeping runs the server's slow periodic chores: cooldown and
// rate-limit cleanup, orphan expiry, autosave and metrics flushes.
package housekeeping

import (
	"context"
	"log"
	"sync"
	"time"
)

type Task struct {
	Name  string
	Every time.Duration
	// Delay postpones the first run; zero waits one full interval.
	Delay time.Duration
	// Run returns an error only to have it logged; the schedule continues.
	Run func(ctx context.Context) error
}

type Scheduler struct {
	logger *log.Logger

	mu    sync.Mutex
	tasks []Task
	wg    sync.WaitGroup
}

func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Add(t Task) {
	if t.Run == nil || t.Every <= 0 {
		s.logger.Printf("WARN housekeeping task %q ignored: needs a run func and a positive interval", t.Name)
		return
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...)
}

// Run starts every task and blocks until ctx is done and all tasks have
// returned.
func (s *Scheduler) Run(ctx context.Context) {
	for _, t := range s.Tasks() {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	<-ctx.Done()
	s.wg.Wait()
}

// RunNow runs every task once, in registration order.
func (s *Scheduler) RunNow(ctx context.Context) {
	for _, t := range s.Tasks() {
		s.runOne(ctx, t)
	}
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	if t.Delay > 0 {
		timer := time.NewTimer(t.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runOne(ctx, t)
		}
	}
	ticker := time.NewTicker(t.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOne(ctx, t)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, t Task) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Printf("ERROR housekeeping %s panicked: %v", t.Name, p)
		}
	}()
	start := time.Now()
	if err := t.Run(ctx); err != nil {
		s.logger.Printf("WARN housekeeping %s: %v", t.Name, err)
		return
	}
	if d := time.Since(start); d > time.Second {
		s.logger.Printf("[SLOW] housekeeping %s took %s", t.Name, d)
	}
}

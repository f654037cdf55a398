package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Enqueuer accepts jobs for asynchronous execution.
type Enqueuer interface {
	Enqueue(job Job) error
}

// Schedule fires Build every Interval and enqueues the result.
type Schedule struct {
	Name     string
	Interval time.Duration
	Build    func(now time.Time) Job
}

// Scheduler runs fixed-interval schedules against a queue.
type Scheduler struct {
	queue      Enqueuer
	schedules  []Schedule
	runOnStart bool
	now        func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRunOnStart fires every schedule once immediately after Start.
func WithRunOnStart() SchedulerOption {
	return func(s *Scheduler) { s.runOnStart = true }
}

// WithNow overrides the time source handed to Build.
func WithNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler builds a scheduler. Schedules with a non-positive interval are ignored.
func NewScheduler(queue Enqueuer, logger *zap.Logger, schedules []Schedule, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]Schedule, 0, len(schedules))
	for _, schedule := range schedules {
		if schedule.Interval > 0 && schedule.Build != nil {
			active = append(active, schedule)
		}
	}
	s := &Scheduler{
		queue:     queue,
		schedules: active,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches one ticker goroutine per schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, schedule := range s.schedules {
		s.wg.Add(1)
		go s.loop(ctx, schedule)
	}
	s.started = true
	s.logger.Info("scheduler started", zap.Int("schedules", len(s.schedules)))
}

// Stop halts all tickers and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, schedule Schedule) {
	defer s.wg.Done()
	if s.runOnStart {
		s.fire(schedule)
	}
	ticker := time.NewTicker(schedule.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(schedule)
		}
	}
}

func (s *Scheduler) fire(schedule Schedule) {
	job := schedule.Build(s.now())
	err := s.queue.Enqueue(job)
	switch {
	case err == nil:
		s.logger.Debug("scheduled job enqueued", zap.String("schedule", schedule.Name), zap.String("key", job.Key))
	case errors.Is(err, ErrDuplicate):
		s.logger.Debug("scheduled job still pending", zap.String("schedule", schedule.Name), zap.String("key", job.Key))
	default:
		s.logger.Warn("failed to enqueue scheduled job", zap.String("schedule", schedule.Name), zap.Error(err))
	}
}

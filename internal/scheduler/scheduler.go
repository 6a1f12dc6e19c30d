package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one periodic maintenance task. Run returns the number of rows it touched.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (int64, error)
}

// CounterResetter clears usage counters stored next to identities or credentials.
type CounterResetter interface {
	ResetDaily(ctx context.Context) (int64, error)
}

type IdentityResetter interface {
	CounterResetter
	ResetMonthly(ctx context.Context) (int64, error)
}

type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context, retention time.Duration, limit int) (int64, error)
}

// Jobs builds the standard maintenance set: daily and monthly counter resets and removal
// of long-expired credentials. The stored counters are reporting data; admission is decided
// by the rate limiter alone, so a late or skipped reset never blocks traffic.
func Jobs(cfg config.SchedulerConfig, identities IdentityResetter, creds CounterResetter, cleaner ExpiredCleaner) []Job {
	return []Job{
		{
			Name: "daily-reset",
			Spec: cfg.DailySpec,
			Run: func(ctx context.Context) (int64, error) {
				n, err := identities.ResetDaily(ctx)
				if err != nil {
					return n, fmt.Errorf("identities: %w", err)
				}
				m, err := creds.ResetDaily(ctx)
				if err != nil {
					return n + m, fmt.Errorf("credentials: %w", err)
				}
				return n + m, nil
			},
		},
		{
			Name: "monthly-reset",
			Spec: cfg.MonthlySpec,
			Run:  identities.ResetMonthly,
		},
		{
			Name: "expired-cleanup",
			Spec: cfg.CleanupSpec,
			Run: func(ctx context.Context) (int64, error) {
				return cleaner.CleanupExpired(ctx, cfg.ExpiredRetention, cfg.CleanupLimit)
			},
		},
	}
}

// Scheduler runs jobs on standard cron expressions, evaluated in UTC.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    []Job
	timeout time.Duration
	running bool
	log     *zap.Logger
}

func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		jobs:    jobs,
		timeout: 10 * time.Minute,
		log:     logger.Named("scheduler"),
	}
}

// Start schedules every job with a non-empty spec and stops them when ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	for _, j := range s.jobs {
		if j.Spec == "" {
			s.log.Info("job not scheduled", zap.String("job", j.Name))
			continue
		}
		if _, err := cron.ParseStandard(j.Spec); err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Spec, err)
		}
		j := j
		if _, err := s.cron.AddFunc(j.Spec, func() { s.run(ctx, j) }); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		s.log.Info("job scheduled", zap.String("job", j.Name), zap.String("spec", j.Spec))
	}

	s.cron.Start()
	s.running = true

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("scheduler stopped")
}

// RunNow runs the named job once, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int64, error) {
	for _, j := range s.jobs {
		if j.Name == name {
			return s.run(ctx, j)
		}
	}
	return 0, fmt.Errorf("unknown job %q", name)
}

// NextRuns reports when each scheduled job fires next.
func (s *Scheduler) NextRuns() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, j Job) (int64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := j.Run(ctx)
	if err != nil {
		s.log.Error("job failed", zap.String("job", j.Name), zap.Error(err))
		return n, err
	}
	s.log.Info("job completed", zap.String("job", j.Name), zap.Int64("rows", n), zap.Duration("took", time.Since(start)))
	return n, nil
}

// Package sweeper runs the engine's housekeeping jobs on a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/pkg/observability"
)

// JobTimeout bounds a single job run.
const JobTimeout = 5 * time.Minute

// Job is one housekeeping task. Run returns how many records it touched.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeper runs every registered job, in registration order, on each tick.
type Sweeper struct {
	cron     *cron.Cron
	schedule cron.Schedule
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	jobs    []Job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a sweeper for a standard cron expression or descriptor such
// as "@every 1m".
func New(schedule string, metrics *observability.Metrics, logger *zap.Logger) (*Sweeper, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Sweeper{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		schedule: sched,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Add registers a job. Jobs added after Start run from the next tick.
func (s *Sweeper) Add(name string, run func(ctx context.Context) (int, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, Job{Name: name, Run: run})
}

// Jobs returns the registered job names.
func (s *Sweeper) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// RunOnce executes every job now. One job failing does not stop the others;
// the returned error joins all failures.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if err := s.run(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sweeper) run(ctx context.Context, job Job) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		s.metrics.ObserveSweep(job.Name, err)
		if err != nil {
			s.logger.Warn("Sweep job failed", zap.String("job", job.Name), zap.Error(err))
		}
	}()

	start := time.Now()
	n, err := job.Run(jobCtx)
	if err == nil && n > 0 {
		s.logger.Info("Sweep job completed",
			zap.String("job", job.Name),
			zap.Int("affected", n),
			zap.Duration("duration", time.Since(start)))
	}
	return err
}

// Start schedules the sweep. It is a no-op when already running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if runCtx.Err() != nil {
			return
		}
		_ = s.RunOnce(runCtx)
	}))
	s.cron.Start()
	s.started = true
	s.logger.Info("Sweeper started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	for _, e := range s.cron.Entries() {
		s.cron.Remove(e.ID)
	}
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

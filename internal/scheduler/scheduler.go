package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner interface {
	Run(context.Context) error
}

const defaultMinRunGap = 15 * time.Second

type Scheduler struct {
	schedule string
	runner   Runner
	log      *zap.Logger
	minGap   time.Duration
	cron     *cron.Cron
	entry    cron.EntryID
	mu       sync.Mutex
	running  bool
	state    RunState
}

// New returns a scheduler for a standard 5-field cron expression. An empty
// schedule disables periodic runs; RunNow still works.
func New(schedule string, runner Runner, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		schedule: schedule,
		runner:   runner,
		log:      log.Named("scheduler"),
		minGap:   defaultMinRunGap,
		cron:     cron.New(),
	}
}

type RunState struct {
	Running         bool       `json:"running"`
	CurrentSource   string     `json:"current_source"`
	StartedAt       time.Time  `json:"started_at"`
	LastCompletedAt time.Time  `json:"last_completed_at"`
	LastDurationMS  int64      `json:"last_duration_ms"`
	LastError       string     `json:"last_error"`
	LastSource      string     `json:"last_source"`
	Schedule        string     `json:"schedule"`
	NextRunAt       *time.Time `json:"next_run_at"`
}

func ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid ingest schedule %q: %w", expr, err)
	}
	return nil
}

// Start registers the cron entry and runs it until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.schedule == "" {
		s.log.Info("periodic ingestion disabled")
		return nil
	}
	id, err := s.cron.AddFunc(s.schedule, func() {
		err := s.run(ctx, "scheduled")
		switch {
		case errors.Is(err, ErrIngestAlreadyRunning), errors.Is(err, ErrIngestCooldown):
			s.log.Info("scheduled run skipped", zap.Error(err))
		case err != nil:
			s.log.Error("scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	s.mu.Lock()
	s.entry = id
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("periodic ingestion scheduled", zap.String("schedule", s.schedule), zap.Time("next", s.cron.Entry(id).Next))
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

// Stop halts the cron loop and waits for a scheduled run in flight.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.run(ctx, "manual")
}

func (s *Scheduler) run(ctx context.Context, source string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrIngestAlreadyRunning
	}
	if !s.state.LastCompletedAt.IsZero() && time.Since(s.state.LastCompletedAt) < s.minGap {
		s.mu.Unlock()
		return ErrIngestCooldown
	}
	s.running = true
	s.state.Running = true
	s.state.CurrentSource = source
	s.state.StartedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("ingestion started", zap.String("source", source))
	start := time.Now()
	err := s.runner.Run(ctx)

	s.mu.Lock()
	s.running = false
	s.state.Running = false
	s.state.CurrentSource = ""
	s.state.LastCompletedAt = time.Now()
	s.state.LastDurationMS = time.Since(start).Milliseconds()
	s.state.LastSource = source
	s.state.LastError = ""
	if err != nil {
		s.state.LastError = err.Error()
	}
	s.mu.Unlock()

	took := time.Since(start).Round(time.Millisecond)
	if err != nil {
		s.log.Warn("ingestion finished with error", zap.String("source", source), zap.Duration("took", took), zap.Error(err))
		return err
	}
	s.log.Info("ingestion finished", zap.String("source", source), zap.Duration("took", took))
	return nil
}

func (s *Scheduler) Snapshot() RunState {
	s.mu.Lock()
	st := s.state
	entry := s.entry
	s.mu.Unlock()
	st.Schedule = s.schedule
	if entry != 0 {
		if next := s.cron.Entry(entry).Next; !next.IsZero() {
			st.NextRunAt = &next
		}
	}
	return st
}

var (
	ErrIngestAlreadyRunning = &runErr{"ingestion already running"}
	ErrIngestCooldown       = &runErr{"ingestion just completed; wait a few seconds before starting again"}
)

type runErr struct{ msg string }

func (e *runErr) Error() string { return e.msg }

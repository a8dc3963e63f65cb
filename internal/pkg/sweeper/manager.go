// Package sweeper runs the periodic subscription and payment intent expiry
// jobs on cron schedules.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/AcademyPlans/internal/pkg/env"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lock"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/metrics"
)

// Job names, used for metrics labels and job locks.
const (
	JobExpireDue     = "expire_due"
	JobExpireIntents = "expire_intents"
)

// Jobs are the engine operations the sweeper drives.
type Jobs interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	ExpireStaleIntents(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	DueSchedule    string
	IntentSchedule string
	// RunTimeout bounds a single job run.
	RunTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DueSchedule:    "*/5 * * * *",
		IntentSchedule: "@every 1m",
		RunTimeout:     5 * time.Minute,
	}
}

// ConfigFromEnv reads SWEEP_SCHEDULE, INTENT_SWEEP_SCHEDULE and SWEEP_TIMEOUT.
func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		DueSchedule:    env.GetEnv("SWEEP_SCHEDULE", def.DueSchedule),
		IntentSchedule: env.GetEnv("INTENT_SWEEP_SCHEDULE", def.IntentSchedule),
		RunTimeout:     env.GetEnvDuration("SWEEP_TIMEOUT", def.RunTimeout),
	}
}

// Manager schedules the expiry jobs. With a shared Locker only one
// instance runs a job at a time; others skip that tick.
type Manager struct {
	jobs    Jobs
	cfg     Config
	locker  lock.Locker
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

type Option func(*Manager)

func WithLocker(l lock.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the time passed to the jobs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(jobs Jobs, cfg Config, opts ...Option) *Manager {
	m := &Manager{jobs: jobs, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers both jobs and starts the scheduler. An invalid schedule
// is reported and nothing is started.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(m.cfg.DueSchedule, func() { m.Run(context.Background(), JobExpireDue) }); err != nil {
		return fmt.Errorf("sweeper: schedule %s %q: %w", JobExpireDue, m.cfg.DueSchedule, err)
	}
	if _, err := c.AddFunc(m.cfg.IntentSchedule, func() { m.Run(context.Background(), JobExpireIntents) }); err != nil {
		return fmt.Errorf("sweeper: schedule %s %q: %w", JobExpireIntents, m.cfg.IntentSchedule, err)
	}

	c.Start()
	m.cron = c
	m.running = true
	log.Infof("[Sweeper] Started (due: %s, intents: %s)", m.cfg.DueSchedule, m.cfg.IntentSchedule)
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[Sweeper] Stopping...")
	<-m.cron.Stop().Done()
	m.cron = nil
	m.running = false
	log.Info("[Sweeper] Stopped")
}

// Run executes one job now and returns how many items it handled.
func (m *Manager) Run(ctx context.Context, job string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RunTimeout)
	defer cancel()

	if m.locker != nil {
		lockCtx, lockCancel := context.WithTimeout(ctx, time.Second)
		unlock, err := m.locker.Lock(lockCtx, lock.JobKey(job))
		lockCancel()
		if err != nil {
			log.Debugf("[Sweeper] Skipping %s, held elsewhere: %v", job, err)
			return 0, nil
		}
		defer unlock()
	}

	started := time.Now()
	now := m.now().UTC()
	var handled int
	var err error
	switch job {
	case JobExpireDue:
		handled, err = m.jobs.ExpireDue(ctx, now)
	case JobExpireIntents:
		handled, err = m.jobs.ExpireStaleIntents(ctx, now)
	default:
		return 0, fmt.Errorf("sweeper: unknown job %q", job)
	}
	m.metrics.ObserveSweep(job, handled, err, time.Since(started))

	if err != nil {
		log.Errorf("[Sweeper] %s failed after %d items: %v", job, handled, err)
		return handled, err
	}
	if handled > 0 {
		log.Infof("[Sweeper] %s handled %d items", job, handled)
	}
	return handled, nil
}

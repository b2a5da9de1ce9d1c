package worker

import (
	"context"
	"time"

	"tournament-payments/internal/util"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Sweeper runs the recurring charge sweeps
type Sweeper interface {
	SweepLateFees(ctx context.Context) (int, error)
	SweepDiscountVoids(ctx context.Context) (int, error)
}

// SweepCron triggers both sweeps on a fixed interval
type SweepCron struct {
	scheduler gocron.Scheduler
	sweeper   Sweeper
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweepCron creates a cron running the sweeps every interval
func NewSweepCron(sweeper Sweeper, interval time.Duration) (*SweepCron, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &SweepCron{
		scheduler: sched,
		sweeper:   sweeper,
		interval:  interval,
		logger:    util.Named("sweep_cron"),
	}, nil
}

// Start registers the sweep jobs and starts the scheduler
func (c *SweepCron) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{"late_fee", c.sweeper.SweepLateFees},
		{"discount_void", c.sweeper.SweepDiscountVoids},
	}

	for _, j := range jobs {
		_, err := c.scheduler.NewJob(
			gocron.DurationJob(c.interval),
			gocron.NewTask(func() { c.run(ctx, j.name, j.run) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return err
		}
	}

	c.scheduler.Start()
	c.logger.Info("Sweep cron started", zap.Duration("interval", c.interval))
	return nil
}

func (c *SweepCron) run(ctx context.Context, name string, sweep func(context.Context) (int, error)) {
	n, err := sweep(ctx)
	if err != nil {
		c.logger.Error("Sweep failed", zap.String("sweep", name), zap.Error(err))
		return
	}
	c.logger.Info("Sweep finished", zap.String("sweep", name), zap.Int("scheduled", n))
}

// Stop shuts the scheduler down, waiting for running sweeps
func (c *SweepCron) Stop() error {
	return c.scheduler.Shutdown()
}

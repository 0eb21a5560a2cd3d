package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crm-platform/internal/instance"
	"crm-platform/internal/webhook"
	"crm-platform/pkg/logger"

	"github.com/robfig/cron/v3"
)

type Sweeper interface {
	Sweep(ctx context.Context) (webhook.SweepResult, error)
}

type Poller interface {
	PollAll(ctx context.Context) (instance.PollResult, error)
}

type Config struct {
	RetrySpec      string
	StatusPollSpec string
	// Timeout bounds a single run of any job.
	Timeout  time.Duration
	Location *time.Location
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs the background maintenance jobs. A run that is still going
// when its next tick fires is skipped rather than stacked.
type Scheduler struct {
	sched *cron.Cron
	log   *slog.Logger
	cfg   Config
}

func New(l *slog.Logger, cfg Config, sweeper Sweeper, poller Poller) (*Scheduler, error) {
	if l == nil {
		l = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	cl := cronLogger{l: l}
	s := &Scheduler{
		sched: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		log: l,
		cfg: cfg,
	}

	if sweeper != nil {
		if _, err := s.sched.AddFunc(cfg.RetrySpec, s.wrap("webhook_retry", func(ctx context.Context) error {
			res, err := sweeper.Sweep(ctx)
			if res.Claimed > 0 || res.StaleFailed > 0 {
				logger.From(ctx).Info("webhook sweep",
					"claimed", res.Claimed,
					"completed", res.Completed,
					"failed", res.Failed,
					"exhausted", res.Exhausted,
					"stale_failed", res.StaleFailed,
				)
			}
			return err
		})); err != nil {
			return nil, fmt.Errorf("schedule webhook retry %q: %w", cfg.RetrySpec, err)
		}
	}
	if poller != nil {
		if _, err := s.sched.AddFunc(cfg.StatusPollSpec, s.wrap("status_poll", func(ctx context.Context) error {
			res, err := poller.PollAll(ctx)
			logger.From(ctx).Debug("status poll",
				"checked", res.Checked,
				"updated", res.Updated,
				"unreachable", res.Unreachable,
				"failed", res.Failed,
			)
			return err
		})); err != nil {
			return nil, fmt.Errorf("schedule status poll %q: %w", cfg.StatusPollSpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() { s.sched.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.sched.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries is the number of scheduled jobs.
func (s *Scheduler) Entries() int { return len(s.sched.Entries()) }

func (s *Scheduler) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		l := s.log.With("job", name)
		defer func() {
			if r := recover(); r != nil {
				l.Error("job panic", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(logger.With(context.Background(), l), s.cfg.Timeout)
		defer cancel()

		start := time.Now()
		if err := run(ctx); err != nil {
			l.Error("job failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		}
	}
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the start of its time bucket.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval      time.Duration
	AlignToBucket bool
	StartupDelay  time.Duration
	// RunImmediately fires one tick before waiting for the first boundary.
	RunImmediately bool
}

// Scheduler invokes a tick on interval boundaries until its context ends.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}, nil
}

// Run blocks until ctx is cancelled. Tick errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.fire(ctx, tick, s.bucketStart(s.now().UTC()))
	}

	next := s.nextTick(s.now().UTC())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			// A slow tick overran one or more boundaries; skip them.
			next = s.nextTick(s.now().UTC())
			delay = next.Sub(s.now())
		}

		s.logger.Debug().Time("next_run", next).Msg("waiting for next run")
		if err := wait(ctx, delay); err != nil {
			return err
		}

		s.fire(ctx, tick, s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, bucket time.Time) {
	s.logger.Info().Time("bucket", bucket).Msg("executing scheduled run")
	if err := tick(ctx, bucket); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("scheduled run failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

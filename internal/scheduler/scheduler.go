package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every aligned boundary.
type TickFunc func(ctx context.Context, boundary time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name string
	// PeriodMinutes must divide the hour evenly to get uniform spacing; any
	// value in 1..60 is accepted.
	PeriodMinutes int
	// RunImmediately fires one tick before waiting for the first boundary.
	RunImmediately bool
}

// Scheduler wakes on wall-clock minutes that are multiples of the period.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.PeriodMinutes < 1 || opts.PeriodMinutes > 60 {
		return nil, fmt.Errorf("scheduler period must be between 1 and 60 minutes, got %d", opts.PeriodMinutes)
	}
	name := opts.Name
	if name == "" {
		name = "scheduler"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("loop", name).Logger(),
		now:    time.Now,
	}, nil
}

// NextAligned returns the first instant strictly after now whose minute of the
// hour is a multiple of periodMinutes, in now's location. The hour start is
// taken relative to now so a repeated wall-clock hour resolves to the
// occurrence now is in.
func NextAligned(now time.Time, periodMinutes int) time.Time {
	intoHour := time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second +
		time.Duration(now.Nanosecond())
	hour := now.Add(-intoHour)
	minute := (now.Minute()/periodMinutes + 1) * periodMinutes
	if minute > 60 {
		minute = 60
	}
	return hour.Add(time.Duration(minute) * time.Minute)
}

// AlignedSleep blocks until the next aligned boundary or ctx is done.
func AlignedSleep(ctx context.Context, periodMinutes int) (time.Time, error) {
	now := time.Now()
	next := NextAligned(now, periodMinutes)
	return next, sleep(ctx, next.Sub(now))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run blocks, invoking tick at each aligned boundary until ctx is cancelled.
// A tick runs on a context detached from ctx so that cancellation waits for
// it to finish instead of interrupting it; Run returns after the tick.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.RunImmediately {
		now := s.now()
		s.logger.Info().Time("at", now).Msg("executing startup tick")
		if err := tick(context.WithoutCancel(ctx), now); err != nil {
			s.logger.Error().Err(err).Msg("startup tick failed")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	for {
		now := s.now()
		next := s.nextBoundary(now)
		s.logger.Debug().Time("next_boundary", next).Msg("waiting for next boundary")

		if err := sleep(ctx, next.Sub(now)); err != nil {
			return err
		}

		s.logger.Info().Time("boundary", next).Msg("executing scheduled tick")
		if err := tick(context.WithoutCancel(ctx), next); err != nil {
			s.logger.Error().Err(err).Time("boundary", next).Msg("tick execution failed")
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// nextBoundary never returns an instant at or before now, so a clock anomaly
// cannot turn the loop into a busy spin.
func (s *Scheduler) nextBoundary(now time.Time) time.Time {
	next := NextAligned(now, s.opts.PeriodMinutes)
	if !next.After(now) {
		fallback := now.Add(time.Duration(s.opts.PeriodMinutes) * time.Minute)
		s.logger.Warn().Time("now", now).Time("computed", next).Time("next_boundary", fallback).Msg("aligned boundary not in the future")
		return fallback
	}
	return next
}

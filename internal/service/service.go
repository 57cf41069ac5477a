package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"balance-tracker/internal/config"
	"balance-tracker/internal/freshness"
	"balance-tracker/internal/logging"
	"balance-tracker/internal/report"
	"balance-tracker/internal/sampler"
	"balance-tracker/internal/scheduler"
	"balance-tracker/internal/storage"
)

type reloadRequest struct {
	cfg  *config.Config
	done chan error
}

// Service exposes the command surface and supervises the two background loops.
type Service struct {
	gate    *freshness.Gate
	ledger  *storage.Ledger
	factory Factory
	logger  zerolog.Logger

	mu      sync.RWMutex
	cfg     *config.Config
	comps   *Components
	running bool

	reloads chan reloadRequest
	now     func() time.Time
}

// New builds the service around a shared gate and ledger. A nil factory
// selects BuildComponents.
func New(cfg *config.Config, gate *freshness.Gate, ledger *storage.Ledger, factory Factory, logger zerolog.Logger) (*Service, error) {
	if factory == nil {
		factory = BuildComponents
	}
	s := &Service{
		gate:    gate,
		ledger:  ledger,
		factory: factory,
		logger:  logging.Component(logger, "service"),
		reloads: make(chan reloadRequest),
		now:     time.Now,
	}
	if err := s.apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) apply(cfg *config.Config) error {
	comps, err := s.factory(cfg, s.gate, s.ledger, s.logger)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}

	s.mu.Lock()
	old := s.comps
	s.cfg = cfg
	s.comps = comps
	s.mu.Unlock()

	s.gate.SetAlert(comps.Dispatcher.Degraded)
	if err := old.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("closing previous components failed")
	}
	return nil
}

func (s *Service) snapshot() (*config.Config, *Components) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.comps
}

// SampleNow takes one reading. With record unset the ledger is untouched.
func (s *Service) SampleNow(ctx context.Context, record bool) (sampler.Reading, error) {
	_, comps := s.snapshot()
	return comps.Sampler.Sample(ctx, record)
}

// Report aggregates the ledger. Zero limits in req fall back to the configured defaults.
func (s *Service) Report(ctx context.Context, req report.Request) (report.Report, error) {
	if s.gate.Blocked() {
		return report.Report{}, freshness.ErrDegraded
	}
	cfg, _ := s.snapshot()
	if req.DailyLimit == 0 {
		req.DailyLimit = cfg.Report.DailyLimit
	}
	if req.MonthlyWindowDays == 0 {
		req.MonthlyWindowDays = cfg.Report.MonthlyWindowDays
	}
	if req.IntradayPeriod == 0 {
		req.IntradayPeriod = cfg.Scheduler.LedgerIntervalMinutes
	}

	samples, err := s.ledger.All(ctx)
	if err != nil {
		return report.Report{}, fmt.Errorf("load ledger: %w", err)
	}
	return report.Build(samples, req, s.now())
}

// ClearDegraded resumes sampling. Reports whether the gate was blocked.
func (s *Service) ClearDegraded(_ context.Context) bool {
	return s.gate.Clear()
}

// Status returns the freshness gate state.
func (s *Service) Status() (freshness.State, string, time.Time) {
	return s.gate.Status()
}

// Reload swaps in a new configuration snapshot. When the loops are running
// they are stopped, drained and restarted with the new snapshot.
func (s *Service) Reload(ctx context.Context, cfg *config.Config) error {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return s.apply(cfg)
	}

	req := reloadRequest{cfg: cfg, done: make(chan error, 1)}
	select {
	case s.reloads <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the ledger and notification loops and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("service already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	first := true
	for {
		loopCtx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(loopCtx)
		err := s.startLoops(gctx, g, first)
		first = false
		if err != nil {
			cancel()
			return err
		}

		select {
		case <-ctx.Done():
			cancel()
			s.wait(g)
			return ctx.Err()
		case req := <-s.reloads:
			s.logger.Info().Msg("reload requested, draining loops")
			cancel()
			s.wait(g)
			err := s.apply(req.cfg)
			if err != nil {
				s.logger.Error().Err(err).Msg("reload failed, keeping previous configuration")
			} else {
				s.logger.Info().Msg("configuration reloaded")
			}
			req.done <- err
		}
	}
}

func (s *Service) wait(g *errgroup.Group) {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("loop stopped with error")
	}
}

// startLoops launches the ledger and notify loops. The ledger loop samples
// once before its first boundary on process start, not after a reload.
func (s *Service) startLoops(ctx context.Context, g *errgroup.Group, first bool) error {
	cfg, comps := s.snapshot()

	ledgerLoop, err := scheduler.New(scheduler.Options{
		Name:           "ledger",
		PeriodMinutes:  cfg.Scheduler.LedgerIntervalMinutes,
		RunImmediately: first && cfg.Scheduler.SampleOnStart,
	}, s.logger)
	if err != nil {
		return err
	}
	lockKey := cfg.Scheduler.AdvisoryLockKey
	g.Go(func() error {
		return ledgerLoop.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
			return s.ledgerTick(tickCtx, comps, lockKey)
		})
	})

	if cfg.Scheduler.NotifyEnabled && comps.Dispatcher.Enabled() {
		notifyLoop, err := scheduler.New(scheduler.Options{Name: "notify", PeriodMinutes: cfg.Scheduler.NotifyIntervalMinutes}, s.logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return notifyLoop.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
				return s.notifyTick(tickCtx, comps)
			})
		})
	}
	return nil
}

func (s *Service) ledgerTick(ctx context.Context, comps *Components, lockKey int64) error {
	if s.gate.Blocked() {
		s.logger.Debug().Msg("ledger tick skipped while waiting for renewal")
		return nil
	}

	unlock, proceed, err := s.acquireLock(ctx, lockKey)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip ledger tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if _, err := comps.Sampler.Sample(ctx, true); err != nil {
		return fmt.Errorf("ledger sample: %w", err)
	}
	return nil
}

func (s *Service) notifyTick(ctx context.Context, comps *Components) error {
	if s.gate.Blocked() {
		s.logger.Debug().Msg("notify tick skipped while waiting for renewal")
		return nil
	}

	reading, err := comps.Sampler.Sample(ctx, false)
	if err != nil {
		return fmt.Errorf("notify sample: %w", err)
	}
	if err := comps.Dispatcher.Summary(ctx, reading); err != nil {
		return fmt.Errorf("send summary: %w", err)
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	locker, ok := s.ledger.Locker()
	if key == 0 || !ok {
		return nil, true, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// Close releases the current components. The ledger is owned by the caller.
func (s *Service) Close() error {
	_, comps := s.snapshot()
	return comps.Close()
}
